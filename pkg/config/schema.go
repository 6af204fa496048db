package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v3"
)

// LoadSchema resolves a structured-output schema argument: an inline JSON
// document is used as-is, anything else is treated as a file path. YAML
// schema files are converted to JSON.
func LoadSchema(arg string) (string, error) {
	trimmed := strings.TrimSpace(arg)
	if trimmed == "" {
		return "", nil
	}
	if strings.HasPrefix(trimmed, "{") {
		return trimmed, nil
	}

	data, err := os.ReadFile(trimmed)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read schema file %s", trimmed)
	}

	switch strings.ToLower(filepath.Ext(trimmed)) {
	case ".yaml", ".yml":
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return "", errors.Wrapf(err, "failed to parse YAML schema %s", trimmed)
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return "", errors.Wrapf(err, "failed to convert schema %s to JSON", trimmed)
		}
		return string(out), nil
	default:
		if !json.Valid(data) {
			return "", errors.Errorf("schema file %s is not valid JSON", trimmed)
		}
		return string(data), nil
	}
}
