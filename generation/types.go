package generation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FluxStepCount is the fixed number of denoising steps for distilled flow models.
const FluxStepCount = 4

// FluxPromptTokenLimit is the tokenizer limit for flow models.
const FluxPromptTokenLimit = 512

// Size is an image size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// IsZero reports whether no size was set.
func (s Size) IsZero() bool { return s.Width == 0 && s.Height == 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

// ModelType is the stable-diffusion architecture family.
type ModelType int

const (
	ModelTypeSD ModelType = iota
	ModelTypeSDXL
	ModelTypeSD3
)

func (t ModelType) String() string {
	switch t {
	case ModelTypeSDXL:
		return "sdxl"
	case ModelTypeSD3:
		return "sd3"
	default:
		return "sd"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t ModelType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ModelType) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "", "sd":
		*t = ModelTypeSD
	case "sdxl", "xl":
		*t = ModelTypeSDXL
	case "sd3":
		*t = ModelTypeSD3
	default:
		return fmt.Errorf("generation: unknown model type %q", string(text))
	}
	return nil
}

// SDModel describes a stable-diffusion model directory.
type SDModel struct {
	Name string    `json:"name"`
	Path string    `json:"path"`
	Type ModelType `json:"type"`
	// InputSize is the fixed latent input size; zero means the model accepts the request size.
	InputSize Size `json:"input_size"`
	// ControlNets lists the ControlNet names available to this model.
	ControlNets []string `json:"control_nets,omitempty"`
	// EncoderMissing marks a model shipped without its VAE encoder; it
	// cannot start from an image.
	EncoderMissing bool `json:"encoder_missing,omitempty"`
}

// FluxModel describes a flow-model directory.
type FluxModel struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// TokenizerDir is where the flow model keeps its tokenizer files.
func (m FluxModel) TokenizerDir() string { return filepath.Join(m.Path, "tokenizer") }

// PromptTokenLimit returns the maximum prompt length in tokens.
func (m FluxModel) PromptTokenLimit() int { return FluxPromptTokenLimit }

// Model is one discovered model, either SD or Flux.
type Model struct {
	Kind PipelineKind `json:"kind"`
	SD   *SDModel     `json:"sd,omitempty"`
	Flux *FluxModel   `json:"flux,omitempty"`
}

// Name returns the user-facing model name.
func (m Model) Name() string {
	switch {
	case m.SD != nil:
		return m.SD.Name
	case m.Flux != nil:
		return m.Flux.Name
	}
	return ""
}

// Path returns the model directory.
func (m Model) Path() string {
	switch {
	case m.SD != nil:
		return m.SD.Path
	case m.Flux != nil:
		return m.Flux.Path
	}
	return ""
}

// ComputeUnit is the preferred inference hardware.
type ComputeUnit string

const (
	ComputeCPUOnly            ComputeUnit = "cpuOnly"
	ComputeCPUAndGPU          ComputeUnit = "cpuAndGPU"
	ComputeCPUAndNeuralEngine ComputeUnit = "cpuAndNeuralEngine"
	ComputeAll                ComputeUnit = "all"
)

// ParseComputeUnit maps a configuration string to a ComputeUnit.
func ParseComputeUnit(s string) (ComputeUnit, error) {
	switch ComputeUnit(s) {
	case ComputeCPUOnly, ComputeCPUAndGPU, ComputeCPUAndNeuralEngine, ComputeAll:
		return ComputeUnit(s), nil
	case "":
		return ComputeCPUAndGPU, nil
	}
	return "", fmt.Errorf("generation: unknown compute unit %q", s)
}

// Scheduler is the noise scheduler label.
type Scheduler string

const (
	SchedulerLCM                Scheduler = "LCM"
	SchedulerDPMSolverMultistep Scheduler = "DPM++ 2M"
	SchedulerDPMSolverKarras    Scheduler = "DPM++ 2M Karras"
	SchedulerDPMSDEKarras       Scheduler = "DPM++ SDE Karras"
	// SchedulerEulerAncestral keeps the label spelling used in existing image metadata.
	SchedulerEulerAncestral Scheduler = "Euler Ancenstral"
	SchedulerDiscreteFlow   Scheduler = "Discrete Flow Scheduler"
)

// Schedulers lists the schedulers selectable for SD requests.
var Schedulers = []Scheduler{
	SchedulerLCM,
	SchedulerDPMSolverMultistep,
	SchedulerDPMSolverKarras,
	SchedulerDPMSDEKarras,
	SchedulerEulerAncestral,
}

// Valid reports whether s is a known scheduler.
func (s Scheduler) Valid() bool {
	if s == SchedulerDiscreteFlow {
		return true
	}
	for _, known := range Schedulers {
		if s == known {
			return true
		}
	}
	return false
}

// Capabilities is a bit set of request parameters a pipeline honors.
type Capabilities uint8

const (
	CapNegativePrompt Capabilities = 1 << iota
	CapStartingImage
	CapStrength
	CapStepCount
	CapGuidanceScale
	CapScheduler
	CapControlNet

	AllCapabilities = CapNegativePrompt | CapStartingImage | CapStrength | CapStepCount |
		CapGuidanceScale | CapScheduler | CapControlNet
)

// Has reports whether every flag in c2 is set.
func (c Capabilities) Has(c2 Capabilities) bool { return c&c2 == c2 }

// MetadataField is a bit set of metadata keys embedded in saved images.
type MetadataField uint16

const (
	FieldPrompt MetadataField = 1 << iota
	FieldNegativePrompt
	FieldModel
	FieldSize
	FieldScheduler
	FieldComputeUnit
	FieldSeed
	FieldSteps
	FieldGuidanceScale

	AllMetadataFields = FieldPrompt | FieldNegativePrompt | FieldModel | FieldSize | FieldScheduler |
		FieldComputeUnit | FieldSeed | FieldSteps | FieldGuidanceScale
	FluxMetadataFields = FieldPrompt | FieldModel | FieldSize | FieldScheduler | FieldSeed | FieldSteps
)

var metadataFieldNames = []struct {
	field MetadataField
	name  string
}{
	{FieldPrompt, "Include in Image"},
	{FieldNegativePrompt, "Exclude from Image"},
	{FieldModel, "Model"},
	{FieldSize, "Size"},
	{FieldScheduler, "Scheduler"},
	{FieldComputeUnit, "ML Compute Unit"},
	{FieldSeed, "Seed"},
	{FieldSteps, "Steps"},
	{FieldGuidanceScale, "Guidance Scale"},
}

// Has reports whether every field in f2 is set.
func (f MetadataField) Has(f2 MetadataField) bool { return f&f2 == f2 }

// Fields expands the set in canonical order.
func (f MetadataField) Fields() []MetadataField {
	var out []MetadataField
	for _, entry := range metadataFieldNames {
		if f.Has(entry.field) {
			out = append(out, entry.field)
		}
	}
	return out
}

// Key is the text-chunk key used when embedding the field.
func (f MetadataField) Key() string {
	for _, entry := range metadataFieldNames {
		if entry.field == f {
			return entry.name
		}
	}
	return ""
}

// ImageType is the encoded output format.
type ImageType string

const (
	ImageTypePNG  ImageType = "png"
	ImageTypeJPEG ImageType = "jpeg"
)

// ParseImageType accepts common spellings of the supported formats.
func ParseImageType(s string) (ImageType, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "png", "public.png":
		return ImageTypePNG, nil
	case "jpg", "jpeg", "public.jpeg":
		return ImageTypeJPEG, nil
	}
	return "", fmt.Errorf("generation: unsupported image type %q", s)
}

// Extension returns the file extension without the dot.
func (t ImageType) Extension() string {
	if t == ImageTypeJPEG {
		return "jpeg"
	}
	return "png"
}
