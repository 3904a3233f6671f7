package modelrepo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"mochi_backend/fluxruntime"
	"mochi_backend/generation"
	"mochi_backend/sdruntime"
)

// controlledUnetMarkers mark a model that accepts ControlNet conditioning.
var controlledUnetMarkers = []string{
	filepath.Join("ControlledUnet.mlmodelc", "metadata.json"),
	"control_net",
}

type modelIndex struct {
	ClassName string `json:"_class_name"`
}

type sampleConfig struct {
	SampleSize int `json:"sample_size"`
}

// detectModelType reads model_index.json and falls back on the component
// layout, then on the checkpoint name.
func detectModelType(dir, weights string) generation.ModelType {
	if data, err := os.ReadFile(filepath.Join(dir, "model_index.json")); err == nil {
		var idx modelIndex
		if json.Unmarshal(data, &idx) == nil {
			switch {
			case strings.Contains(idx.ClassName, "StableDiffusion3"):
				return generation.ModelTypeSD3
			case strings.Contains(idx.ClassName, "XL"):
				return generation.ModelTypeSDXL
			case idx.ClassName != "":
				return generation.ModelTypeSD
			}
		}
	}

	switch {
	case isDir(filepath.Join(dir, "transformer")) && isDir(filepath.Join(dir, "text_encoder_3")):
		return generation.ModelTypeSD3
	case isDir(filepath.Join(dir, "text_encoder_2")):
		return generation.ModelTypeSDXL
	}

	name := strings.ToLower(filepath.Base(weights))
	switch {
	case strings.Contains(name, "sd3"):
		return generation.ModelTypeSD3
	case strings.Contains(name, "xl"):
		return generation.ModelTypeSDXL
	}
	return generation.ModelTypeSD
}

// detectInputSize returns the latent sample size times the VAE factor, or a
// zero Size when the model accepts any request size.
func detectInputSize(dir string) generation.Size {
	for _, component := range []string{"unet", "transformer"} {
		data, err := os.ReadFile(filepath.Join(dir, component, "config.json"))
		if err != nil {
			continue
		}
		var cfg sampleConfig
		if json.Unmarshal(data, &cfg) != nil || cfg.SampleSize <= 0 {
			continue
		}
		side := cfg.SampleSize * 8
		return generation.Size{Width: side, Height: side}
	}
	return generation.Size{}
}

// encoderMissing reports a compiled model that ships a VAE decoder but no
// encoder.
func encoderMissing(dir string) bool {
	return isDir(filepath.Join(dir, "VAEDecoder.mlmodelc")) &&
		!exists(filepath.Join(dir, "VAEEncoder.mlmodelc"))
}

func acceptsControlNet(dir string) bool {
	for _, marker := range controlledUnetMarkers {
		if exists(filepath.Join(dir, marker)) {
			return true
		}
	}
	return false
}

// probe classifies dir. It returns false for directories that hold neither
// a flow model nor a stable-diffusion checkpoint.
func probe(dir string, controlNets []string) (generation.Model, bool) {
	name := filepath.Base(dir)
	if fluxruntime.IsModelDir(dir) {
		return generation.Model{
			Kind: generation.PipelineFlux,
			Flux: &generation.FluxModel{Name: name, Path: dir},
		}, true
	}

	weights, err := sdruntime.ResolveWeightsPath(dir)
	if err != nil {
		return generation.Model{}, false
	}
	model := &generation.SDModel{
		Name:           name,
		Path:           dir,
		Type:           detectModelType(dir, weights),
		InputSize:      detectInputSize(dir),
		EncoderMissing: encoderMissing(dir),
	}
	if acceptsControlNet(dir) {
		model.ControlNets = append([]string(nil), controlNets...)
	}
	return generation.Model{Kind: generation.PipelineSD, SD: model}, true
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
