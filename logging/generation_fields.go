package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mochi_backend/generation"
)

// Field keys for generation events.
const (
	KeyRequestID = "request_id"
	KeyPipeline  = "pipeline"
	KeyModel     = "model"
	KeySeed      = "seed"
	KeyStep      = "step"
	KeyDuration  = "duration"
)

// requestSummary logs a request without its prompt text or image payloads.
type requestSummary generation.Request

func (r requestSummary) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	req := generation.Request(r)
	enc.AddString(KeyRequestID, req.ID)
	enc.AddString(KeyPipeline, req.Pipeline.Kind.String())
	enc.AddString(KeyModel, req.Pipeline.DisplayName())
	enc.AddUint32(KeySeed, req.Seed)
	enc.AddInt("width", req.Size.Width)
	enc.AddInt("height", req.Size.Height)
	enc.AddInt("steps", req.Pipeline.EffectiveStepCount(req.StepCount))
	enc.AddInt("images", req.NumberOfImages)
	enc.AddBool("starting_image", len(req.StartingImage) > 0)
	enc.AddInt("control_nets", len(req.ControlNetInputs))
	return nil
}

// Request is a nested object field describing req.
func Request(req generation.Request) zap.Field {
	return zap.Object("request", requestSummary(req))
}

// RequestFields are flat fields for a request-scoped child logger.
func RequestFields(req generation.Request) []zap.Field {
	return []zap.Field{
		zap.String(KeyRequestID, req.ID),
		zap.String(KeyPipeline, req.Pipeline.Kind.String()),
		zap.String(KeyModel, req.Pipeline.DisplayName()),
	}
}

// ResultFields describe a saved image.
func ResultFields(r generation.Result) []zap.Field {
	return []zap.Field{
		zap.String(KeyRequestID, r.RequestID),
		zap.String("result_id", r.ID),
		zap.Uint32(KeySeed, r.Metadata.Seed),
		zap.String("path", r.ImagePath),
	}
}

// OutcomeFields describe a finished request.
func OutcomeFields(o generation.Outcome) []zap.Field {
	fields := []zap.Field{
		zap.String("status", o.Status.Kind.String()),
		zap.Int("saved", o.Saved),
		zap.Int("skipped", o.Skipped),
		zap.Duration(KeyDuration, o.Duration),
	}
	if o.Status.Message != "" {
		fields = append(fields, zap.String("message", o.Status.Message))
	}
	if o.Err != nil {
		fields = append(fields, zap.Error(o.Err))
	}
	return fields
}

// StepFields describe one denoising step.
func StepFields(p generation.Progress, elapsed time.Duration) []zap.Field {
	return []zap.Field{
		zap.Int(KeyStep, p.Step),
		zap.Int("step_count", p.StepCount),
		zap.Duration(KeyDuration, elapsed),
	}
}
