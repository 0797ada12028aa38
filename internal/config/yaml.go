package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// decodeConfig strictly decodes raw config bytes. YAML files are rebuilt as
// JSON first so both formats share one DisallowUnknownFields decoder; unknown
// keys and trailing documents are rejected either way.
func decodeConfig(path string, raw []byte) (*Config, error) {
	jb := raw
	if ext := strings.ToLower(filepath.Ext(path)); ext == ".yaml" || ext == ".yml" {
		var tree any
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return nil, fmt.Errorf("config yaml: %w", err)
		}
		b, err := json.Marshal(stringKeys(tree))
		if err != nil {
			return nil, fmt.Errorf("config yaml: %w", err)
		}
		jb = b
	}

	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("config: trailing data after document")
	}
	return &cfg, nil
}

// stringKeys rewrites every map key to a string so the YAML tree can be
// marshaled as JSON.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = stringKeys(e)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		for i := range t {
			t[i] = stringKeys(t[i])
		}
		return t
	default:
		return v
	}
}
