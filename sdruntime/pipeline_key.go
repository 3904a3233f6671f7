package sdruntime

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// pipelineIdentity is the part of a PipelineConfig that selects a distinct
// native pipeline. Threads and VAETiling are process-wide and excluded.
type pipelineIdentity struct {
	ModelPath    string   `json:"model"`
	ModelType    string   `json:"type"`
	ControlNets  []string `json:"controlnets"`
	ComputeUnit  string   `json:"compute_unit"`
	ReduceMemory bool     `json:"reduce_memory"`
}

// Key returns the lowercase hex SHA256 of the config's pipeline identity.
// ControlNet order is significant since inputs are matched by position.
func (c PipelineConfig) Key() string {
	controlNets := c.ControlNets
	if controlNets == nil {
		controlNets = []string{}
	}
	data, _ := json.Marshal(pipelineIdentity{
		ModelPath:    c.ModelPath,
		ModelType:    c.ModelType.String(),
		ControlNets:  controlNets,
		ComputeUnit:  string(c.ComputeUnit),
		ReduceMemory: c.ReduceMemory,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
