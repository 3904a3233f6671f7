package generation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Request is one unit of queued work. It is treated as immutable once
// enqueued; identity is by ID.
type Request struct {
	ID                       string    `json:"id"`
	Pipeline                 Pipeline  `json:"pipeline"`
	Prompt                   string    `json:"prompt"`
	NegativePrompt           string    `json:"negative_prompt"`
	Size                     Size      `json:"size"`
	StartingImage            []byte    `json:"-"`
	ControlNetInputs         [][]byte  `json:"-"`
	Strength                 float64   `json:"strength"`
	StepCount                int       `json:"step_count"`
	GuidanceScale            float64   `json:"guidance_scale"`
	DisableSafety            bool      `json:"disable_safety"`
	Scheduler                Scheduler `json:"scheduler"`
	UseDenoisedIntermediates bool      `json:"use_denoised_intermediates"`
	Seed                     uint32    `json:"seed"`
	NumberOfImages           int       `json:"number_of_images"`
	ImageDir                 string    `json:"image_dir"`
	ImageType                ImageType `json:"image_type"`
}

// MarshalJSON leaves out the input images; snapshots only say whether they
// were given.
func (r Request) MarshalJSON() ([]byte, error) {
	type plain Request
	inputs := 0
	for _, in := range r.ControlNetInputs {
		if len(in) > 0 {
			inputs++
		}
	}
	return json.Marshal(struct {
		plain
		HasStartingImage     bool `json:"has_starting_image"`
		ControlNetInputCount int  `json:"control_net_input_count"`
	}{plain(r), len(r.StartingImage) > 0, inputs})
}

// NewRequestID returns a fresh unique request id.
func NewRequestID() string {
	return uuid.NewString()
}

// Validate checks the fields the service and backends rely on.
func (r Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRequest)
	}
	if err := r.Pipeline.Validate(); err != nil {
		return err
	}
	if r.NumberOfImages < 1 {
		return fmt.Errorf("%w: number_of_images must be at least 1", ErrInvalidRequest)
	}
	if r.Size.Width < 0 || r.Size.Height < 0 {
		return fmt.Errorf("%w: negative size %s", ErrInvalidRequest, r.Size)
	}
	if r.Strength < 0 || r.Strength > 1 {
		return fmt.Errorf("%w: strength %.2f must be between 0 and 1", ErrInvalidRequest, r.Strength)
	}
	if r.Pipeline.Kind == PipelineSD && r.StepCount < 1 {
		return fmt.Errorf("%w: step_count must be at least 1", ErrInvalidRequest)
	}
	if r.Scheduler != "" && !r.Scheduler.Valid() {
		return fmt.Errorf("%w: unknown scheduler %q", ErrInvalidRequest, r.Scheduler)
	}
	if _, err := ParseImageType(string(r.ImageType)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Metadata describes how a result image was produced.
type Metadata struct {
	Prompt         string        `json:"prompt"`
	NegativePrompt string        `json:"negative_prompt"`
	Width          int           `json:"width"`
	Height         int           `json:"height"`
	Pipeline       Pipeline      `json:"pipeline"`
	Model          string        `json:"model"`
	Scheduler      Scheduler     `json:"scheduler"`
	ComputeUnit    ComputeUnit   `json:"compute_unit,omitempty"`
	Seed           uint32        `json:"seed"`
	Steps          int           `json:"steps"`
	GuidanceScale  float64       `json:"guidance_scale"`
	GeneratedDate  time.Time     `json:"generated_date"`
	Fields         MetadataField `json:"fields"`
}

// Result is one produced image. ImagePath is empty until the image is saved.
type Result struct {
	ID        string   `json:"id"`
	RequestID string   `json:"request_id"`
	Metadata  Metadata `json:"metadata"`
	ImageData []byte   `json:"-"`
	ImagePath string   `json:"image_path,omitempty"`
}

// NewResult stamps a fresh id on an encoded image.
func NewResult(requestID string, metadata Metadata, imageData []byte) Result {
	return Result{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Metadata:  metadata,
		ImageData: imageData,
	}
}

// Snapshot is the queue as seen at one instant.
type Snapshot struct {
	Queue   []Request `json:"queue"`
	Current *Request  `json:"current,omitempty"`
}

// Contains reports whether id is queued or current.
func (s Snapshot) Contains(id string) bool {
	if s.Current != nil && s.Current.ID == id {
		return true
	}
	for _, r := range s.Queue {
		if r.ID == id {
			return true
		}
	}
	return false
}
