// Package metrics keeps in-memory generation statistics for the API.
package metrics

import "time"

// RequestRecord is one finished request.
type RequestRecord struct {
	ID        string        `json:"id"`
	Pipeline  string        `json:"pipeline"`
	Model     string        `json:"model"`
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Images    int           `json:"images"`
	Saved     int           `json:"saved"`
	Skipped   int           `json:"skipped"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
}

// Succeeded reports whether the request ended Ready without a message and
// with no skipped images. A missing model ends Ready with a message.
func (r RequestRecord) Succeeded() bool {
	return r.Status == "ready" && r.Message == "" && r.Skipped == 0
}

// PipelineMetrics aggregates requests for one pipeline kind.
type PipelineMetrics struct {
	Requests     int64         `json:"requests"`
	Succeeded    int64         `json:"succeeded"`
	Failed       int64         `json:"failed"`
	ImagesSaved  int64         `json:"images_saved"`
	SuccessRate  float64       `json:"success_rate"`
	AvgDuration  time.Duration `json:"avg_duration"`
	AvgPerImage  time.Duration `json:"avg_per_image"`
	AvgStep      time.Duration `json:"avg_step"`
	StepsTracked int64         `json:"steps_tracked"`
}

// Summary is the payload of GET /api/metrics.
type Summary struct {
	Version     string                      `json:"version"`
	Uptime      time.Duration               `json:"uptime"`
	InFlight    int                         `json:"in_flight"`
	Requests    int64                       `json:"requests"`
	ImagesSaved int64                       `json:"images_saved"`
	ByPipeline  map[string]*PipelineMetrics `json:"by_pipeline"`
	Recent      []RequestRecord             `json:"recent"`
}
