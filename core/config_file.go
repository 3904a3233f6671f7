package core

import (
	"bytes"
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// applyFile overlays the YAML file at path onto c. Keys absent from the
// file keep their current values; unknown keys are rejected.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrConfigFile(path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return ErrConfigFile(path, err)
	}
	c.ConfigFile = path
	return nil
}

// WriteFile saves c as YAML, omitting secrets.
func (c *Config) WriteFile(path string) error {
	out := *c
	out.APIPassword = ""
	out.SessionSecret = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
