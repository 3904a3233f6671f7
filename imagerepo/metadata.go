package imagerepo

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mochi_backend/generation"
)

const (
	generatorName = "Mochi Diffusion"

	keyDate        = "Date"
	keyGenerator   = "Generator"
	keyDescription = "Description"
	keySoftware    = "Software"
)

// captionSeparator joins fields in the combined description.
const captionSeparator = "; "

// textEntries returns the metadata to embed: one entry per selected field in
// canonical order, then the date, generator and combined description.
func textEntries(md generation.Metadata) []textEntry {
	var entries []textEntry
	var caption []string
	for _, field := range md.Fields.Fields() {
		value := fieldValue(md, field)
		entries = append(entries, textEntry{Key: field.Key(), Value: value})
		caption = append(caption, field.Key()+": "+value)
	}
	generator := generatorName
	caption = append(caption, keyGenerator+": "+generator)

	if !md.GeneratedDate.IsZero() {
		entries = append(entries, textEntry{Key: keyDate, Value: md.GeneratedDate.UTC().Format(time.RFC3339)})
	}
	entries = append(entries,
		textEntry{Key: keyGenerator, Value: generator},
		textEntry{Key: keySoftware, Value: generator},
		textEntry{Key: keyDescription, Value: strings.Join(caption, captionSeparator)},
	)
	return entries
}

func fieldValue(md generation.Metadata, field generation.MetadataField) string {
	switch field {
	case generation.FieldPrompt:
		return md.Prompt
	case generation.FieldNegativePrompt:
		return md.NegativePrompt
	case generation.FieldModel:
		return md.Model
	case generation.FieldSize:
		return fmt.Sprintf("%dx%d", md.Width, md.Height)
	case generation.FieldScheduler:
		return string(md.Scheduler)
	case generation.FieldComputeUnit:
		return string(md.ComputeUnit)
	case generation.FieldSeed:
		return strconv.FormatUint(uint64(md.Seed), 10)
	case generation.FieldSteps:
		return strconv.Itoa(md.Steps)
	case generation.FieldGuidanceScale:
		return strconv.FormatFloat(md.GuidanceScale, 'f', -1, 64)
	}
	return ""
}

// parseCaption splits a combined description into key/value pairs.
func parseCaption(caption string) map[string]string {
	values := make(map[string]string)
	for _, part := range strings.Split(caption, captionSeparator) {
		key, value, ok := strings.Cut(part, ": ")
		if !ok {
			continue
		}
		values[strings.TrimSpace(key)] = value
	}
	return values
}

// metadataFromText rebuilds Metadata from stored text. ok is false when the
// image carries no recognized field.
func metadataFromText(values map[string]string) (md generation.Metadata, ok bool) {
	for _, field := range generation.AllMetadataFields.Fields() {
		value, present := values[field.Key()]
		if !present {
			continue
		}
		md.Fields |= field
		switch field {
		case generation.FieldPrompt:
			md.Prompt = value
		case generation.FieldNegativePrompt:
			md.NegativePrompt = value
		case generation.FieldModel:
			md.Model = value
		case generation.FieldSize:
			fmt.Sscanf(value, "%dx%d", &md.Width, &md.Height)
		case generation.FieldScheduler:
			md.Scheduler = generation.Scheduler(value)
		case generation.FieldComputeUnit:
			md.ComputeUnit = generation.ComputeUnit(value)
		case generation.FieldSeed:
			if seed, err := strconv.ParseUint(value, 10, 32); err == nil {
				md.Seed = uint32(seed)
			}
		case generation.FieldSteps:
			md.Steps, _ = strconv.Atoi(value)
		case generation.FieldGuidanceScale:
			md.GuidanceScale, _ = strconv.ParseFloat(value, 64)
		}
	}
	if date, present := values[keyDate]; present {
		if t, err := time.Parse(time.RFC3339, date); err == nil {
			md.GeneratedDate = t
		}
	}
	return md, md.Fields != 0
}
