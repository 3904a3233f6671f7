package generation

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// PipelineKind discriminates which backend a Request targets.
type PipelineKind int

const (
	PipelineSD PipelineKind = iota
	PipelineFlux
)

func (k PipelineKind) String() string {
	switch k {
	case PipelineSD:
		return "sd"
	case PipelineFlux:
		return "flux"
	default:
		return fmt.Sprintf("PipelineKind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k PipelineKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PipelineKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "sd":
		*k = PipelineSD
	case "flux", "flux2":
		*k = PipelineFlux
	default:
		return fmt.Errorf("generation: unknown pipeline kind %q", string(text))
	}
	return nil
}

// SDPipeline selects the stable-diffusion backend.
type SDPipeline struct {
	Model        SDModel     `json:"model"`
	ComputeUnit  ComputeUnit `json:"compute_unit"`
	ControlNets  []string    `json:"control_nets,omitempty"`
	ReduceMemory bool        `json:"reduce_memory"`
}

// FluxPipeline selects the latent-flow backend.
type FluxPipeline struct {
	ModelDir string `json:"model_dir"`
}

// Pipeline is a tagged union over the two backend configurations.
// Exactly one of SD or Flux is set, matching Kind.
type Pipeline struct {
	Kind PipelineKind  `json:"kind"`
	SD   *SDPipeline   `json:"sd,omitempty"`
	Flux *FluxPipeline `json:"flux,omitempty"`
}

// NewSDPipeline builds an SD pipeline selector.
func NewSDPipeline(model SDModel, computeUnit ComputeUnit, controlNets []string, reduceMemory bool) Pipeline {
	return Pipeline{
		Kind: PipelineSD,
		SD: &SDPipeline{
			Model:        model,
			ComputeUnit:  computeUnit,
			ControlNets:  append([]string(nil), controlNets...),
			ReduceMemory: reduceMemory,
		},
	}
}

// NewFluxPipeline builds a Flux pipeline selector.
func NewFluxPipeline(modelDir string) Pipeline {
	return Pipeline{Kind: PipelineFlux, Flux: &FluxPipeline{ModelDir: modelDir}}
}

// Validate checks that the payload matches the discriminant.
func (p Pipeline) Validate() error {
	switch p.Kind {
	case PipelineSD:
		if p.SD == nil || p.Flux != nil {
			return fmt.Errorf("%w: sd pipeline requires only an sd config", ErrInvalidRequest)
		}
		if p.SD.Model.Name == "" {
			return fmt.Errorf("%w: sd pipeline requires a model", ErrInvalidRequest)
		}
	case PipelineFlux:
		if p.Flux == nil || p.SD != nil {
			return fmt.Errorf("%w: flux pipeline requires only a flux config", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown pipeline kind %d", ErrInvalidRequest, int(p.Kind))
	}
	return nil
}

// DisplayName is the model name recorded in result metadata.
func (p Pipeline) DisplayName() string {
	switch p.Kind {
	case PipelineSD:
		if p.SD != nil {
			return p.SD.Model.Name
		}
	case PipelineFlux:
		if p.Flux != nil {
			name := filepath.Base(filepath.Clean(p.Flux.ModelDir))
			if p.Flux.ModelDir != "" && name != "." && name != string(filepath.Separator) {
				return name
			}
		}
		return "FLUX.2"
	}
	return ""
}

// Capabilities reports which request parameters the backend honors.
func (p Pipeline) Capabilities() Capabilities {
	if p.Kind == PipelineFlux {
		return CapStartingImage
	}
	if p.SD != nil && p.SD.Model.EncoderMissing {
		return AllCapabilities &^ (CapStartingImage | CapStrength)
	}
	return AllCapabilities
}

// MetadataFields reports which metadata keys the backend wants embedded.
func (p Pipeline) MetadataFields() MetadataField {
	if p.Kind == PipelineFlux {
		return FluxMetadataFields
	}
	return AllMetadataFields
}

// EffectiveStepCount returns the step count that will actually run.
func (p Pipeline) EffectiveStepCount(requested int) int {
	if p.Kind == PipelineFlux {
		return FluxStepCount
	}
	return requested
}

// EffectiveScheduler returns the scheduler that will actually run.
func (p Pipeline) EffectiveScheduler(requested Scheduler) Scheduler {
	if p.Kind == PipelineFlux {
		return SchedulerDiscreteFlow
	}
	return requested
}

func (p Pipeline) String() string {
	b, err := json.Marshal(p)
	if err != nil {
		return p.Kind.String()
	}
	return string(b)
}
