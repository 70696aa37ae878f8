package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

type hashResult struct {
	Path   string `json:"path" yaml:"path"`
	Digest string `json:"digest" yaml:"digest"`
}

type changeResult struct {
	Directory string `json:"directory" yaml:"directory"`
	Changed   bool   `json:"changed" yaml:"changed"`
}

type statusResult struct {
	Directory string `json:"directory" yaml:"directory"`
	State     string `json:"state" yaml:"state"`
	Marker    string `json:"marker,omitempty" yaml:"marker,omitempty"`
	Current   string `json:"current" yaml:"current"`
}

type watchResult struct {
	Directory string `json:"directory" yaml:"directory"`
	Changed   bool   `json:"changed" yaml:"changed"`
	Digest    string `json:"digest,omitempty" yaml:"digest,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// writeResult writes v in the requested format; human output is produced by
// the human callback
func writeResult(out io.Writer, format string, v interface{}, human func(io.Writer) error) error {
	switch strings.ToLower(format) {
	case "", "human":
		return human(out)
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func stateName(changed bool) string {
	if changed {
		return "changed"
	}
	return "clean"
}
