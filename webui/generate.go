package webui

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"mochi_backend/generation"
)

// Request defaults for fields a client leaves unset.
const (
	DefaultStepCount     = 12
	DefaultGuidanceScale = 11.0
	DefaultStrength      = 0.75
	DefaultImageSize     = 512
)

// ErrUnknownModel is returned when a generate request names no known model.
var ErrUnknownModel = errors.New("webui: unknown model")

// GenerateDefaults are the server-side settings applied to every request.
type GenerateDefaults struct {
	ModelDir      string
	ControlNetDir string
	ImageDir      string
	ImageType     generation.ImageType
	ComputeUnit   generation.ComputeUnit
	ReduceMemory  bool
}

// ControlNetInput pairs a ControlNet name with its conditioning image.
type ControlNetInput struct {
	Name  string `json:"name" validate:"required"`
	Image string `json:"image" validate:"required"`
}

// GenerateRequest is the JSON body of POST /api/generate. Images are
// base64, optionally as data URLs.
type GenerateRequest struct {
	Model                    string            `json:"model" validate:"required"`
	Prompt                   string            `json:"prompt"`
	NegativePrompt           string            `json:"negative_prompt"`
	Width                    int               `json:"width" validate:"gte=0,lte=4096"`
	Height                   int               `json:"height" validate:"gte=0,lte=4096"`
	StartingImage            string            `json:"starting_image,omitempty"`
	ControlNets              []ControlNetInput `json:"control_nets,omitempty" validate:"omitempty,dive"`
	Strength                 *float64          `json:"strength,omitempty" validate:"omitempty,gte=0,lte=1"`
	StepCount                int               `json:"step_count" validate:"gte=0,lte=150"`
	GuidanceScale            *float64          `json:"guidance_scale,omitempty" validate:"omitempty,gte=0,lte=50"`
	Scheduler                string            `json:"scheduler"`
	Seed                     *uint32           `json:"seed,omitempty"`
	NumberOfImages           int               `json:"number_of_images" validate:"gte=0,lte=100"`
	UseDenoisedIntermediates bool              `json:"use_denoised_intermediates"`
	DisableSafety            bool              `json:"disable_safety"`
	ImageType                string            `json:"image_type,omitempty"`
}

// GenerateResponse acknowledges an enqueued request.
type GenerateResponse struct {
	ID             string `json:"id"`
	Seed           uint32 `json:"seed"`
	NumberOfImages int    `json:"number_of_images"`
	QueueLength    int    `json:"queue_length"`
}

// ToRequest resolves the model and fills defaults. The returned request is
// validated.
func (g GenerateRequest) ToRequest(models []generation.Model, def GenerateDefaults) (generation.Request, error) {
	if err := validate.Struct(g); err != nil {
		return generation.Request{}, fmt.Errorf("%w: %s", generation.ErrInvalidRequest, formatValidationErrors(err))
	}
	model, ok := findModel(models, g.Model)
	if !ok {
		return generation.Request{}, fmt.Errorf("%w: %q", ErrUnknownModel, g.Model)
	}

	req := generation.Request{
		ID:                       generation.NewRequestID(),
		Prompt:                   g.Prompt,
		NegativePrompt:           g.NegativePrompt,
		Size:                     generation.Size{Width: g.Width, Height: g.Height},
		Strength:                 DefaultStrength,
		StepCount:                g.StepCount,
		GuidanceScale:            DefaultGuidanceScale,
		DisableSafety:            g.DisableSafety,
		Scheduler:                generation.Scheduler(g.Scheduler),
		UseDenoisedIntermediates: g.UseDenoisedIntermediates,
		NumberOfImages:           max(g.NumberOfImages, 1),
		ImageDir:                 def.ImageDir,
		ImageType:                def.ImageType,
	}
	if g.Strength != nil {
		req.Strength = *g.Strength
	}
	if g.GuidanceScale != nil {
		req.GuidanceScale = *g.GuidanceScale
	}
	if req.StepCount == 0 {
		req.StepCount = DefaultStepCount
	}
	if req.Scheduler == "" {
		req.Scheduler = generation.SchedulerDPMSolverMultistep
	}
	if req.Size.IsZero() {
		req.Size = generation.Size{Width: DefaultImageSize, Height: DefaultImageSize}
	}
	if g.Seed != nil {
		req.Seed = *g.Seed
	} else {
		req.Seed = rand.Uint32()
	}
	if g.ImageType != "" {
		t, err := generation.ParseImageType(g.ImageType)
		if err != nil {
			return generation.Request{}, fmt.Errorf("%w: %v", generation.ErrInvalidRequest, err)
		}
		req.ImageType = t
	}

	if g.StartingImage != "" {
		data, err := decodeImage(g.StartingImage)
		if err != nil {
			return generation.Request{}, fmt.Errorf("%w: starting_image: %v", generation.ErrInvalidRequest, err)
		}
		req.StartingImage = data
	}

	switch model.Kind {
	case generation.PipelineFlux:
		if model.Flux == nil {
			return generation.Request{}, fmt.Errorf("%w: %q", ErrUnknownModel, g.Model)
		}
		if len(g.ControlNets) > 0 {
			return generation.Request{}, fmt.Errorf("%w: %s does not support ControlNet", generation.ErrInvalidRequest, model.Name())
		}
		req.Pipeline = generation.NewFluxPipeline(model.Flux.Path)
		req.StepCount = req.Pipeline.EffectiveStepCount(req.StepCount)
		req.Scheduler = req.Pipeline.EffectiveScheduler(req.Scheduler)
	default:
		if model.SD == nil {
			return generation.Request{}, fmt.Errorf("%w: %q", ErrUnknownModel, g.Model)
		}
		names := make([]string, 0, len(g.ControlNets))
		for i, cn := range g.ControlNets {
			if !slices.Contains(model.SD.ControlNets, cn.Name) {
				return generation.Request{}, fmt.Errorf("%w: ControlNet %q is not available for %s", generation.ErrInvalidRequest, cn.Name, model.Name())
			}
			data, err := decodeImage(cn.Image)
			if err != nil {
				return generation.Request{}, fmt.Errorf("%w: control_nets[%d]: %v", generation.ErrInvalidRequest, i, err)
			}
			names = append(names, cn.Name)
			req.ControlNetInputs = append(req.ControlNetInputs, data)
		}
		req.Pipeline = generation.NewSDPipeline(*model.SD, def.ComputeUnit, names, def.ReduceMemory)
	}

	if err := req.Validate(); err != nil {
		return generation.Request{}, err
	}
	return req, nil
}

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func formatValidationErrors(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		field := e.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		if e.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s fails %s=%s", field, e.Tag(), e.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s fails %s", field, e.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func findModel(models []generation.Model, name string) (generation.Model, bool) {
	for _, m := range models {
		if m.Name() == name {
			return m, true
		}
	}
	return generation.Model{}, false
}

// decodeImage accepts plain base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 {
			return nil, errors.New("malformed data URL")
		}
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty image")
	}
	return data, nil
}
