package campaign

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadPlan reads and validates a campaign plan from the given file path.
//
// The file format is determined by extension: .yaml/.yml for YAML, .json for JSON.
// If the extension is unrecognized, YAML is attempted first, then JSON.
//
// After loading, defaults are applied and relative paths are resolved
// against the plan file's directory.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("plan file not found: %s", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading plan: %s", path)
		}
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	plan, err := LoadPlanFromBytes(data, path)
	if err != nil {
		return nil, err
	}

	baseDir := filepath.Dir(path)
	if err := plan.ResolvePaths(baseDir); err != nil {
		return nil, err
	}
	return plan, nil
}

// LoadPlanFromBytes parses and validates a plan from raw bytes.
//
// The path parameter is used for error messages and format detection.
// Paths in the returned plan are left as written; use LoadPlan or
// Plan.ResolvePaths to make them absolute.
func LoadPlanFromBytes(data []byte, path string) (*Plan, error) {
	if len(data) == 0 {
		return nil, errors.New("plan file is empty")
	}

	// Validate the raw document first so unknown fields are rejected
	// instead of being dropped by struct decoding.
	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}
	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	plan, err := parsePlan(data, path)
	if err != nil {
		return nil, err
	}

	plan.ApplyDefaults(os.Getenv("USER"))

	if err := plan.Check(); err != nil {
		return nil, err
	}
	return plan, nil
}

// LoadPlanFromReader reads and validates a plan from an io.Reader.
func LoadPlanFromReader(r io.Reader, path string) (*Plan, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}
	return LoadPlanFromBytes(data, path)
}

func parsePlan(data []byte, path string) (*Plan, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return parseJSON(data)
	case ".yaml", ".yml":
		return parseYAML(data)
	default:
		plan, yamlErr := parseYAML(data)
		if yamlErr == nil {
			return plan, nil
		}
		plan, jsonErr := parseJSON(data)
		if jsonErr == nil {
			return plan, nil
		}
		return nil, fmt.Errorf("failed to parse plan (tried YAML and JSON): %w", yamlErr)
	}
}

func parseJSON(data []byte) (*Plan, error) {
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("invalid JSON in plan: %w", err)
	}
	return &plan, nil
}

func parseYAML(data []byte) (*Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("invalid YAML in plan: %w", err)
	}
	return &plan, nil
}

// toJSON converts the input data to JSON format for schema validation.
func toJSON(data []byte, path string) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var raw any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in plan: %w", err)
		}
		return data, nil
	case ".yaml", ".yml":
		return yamlToJSON(data)
	default:
		jsonData, err := yamlToJSON(data)
		if err == nil {
			return jsonData, nil
		}
		var raw any
		if jsonErr := json.Unmarshal(data, &raw); jsonErr == nil {
			return data, nil
		}
		return nil, fmt.Errorf("failed to parse plan (tried YAML and JSON): %w", err)
	}
}

func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in plan: %w", err)
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert plan to JSON: %w", err)
	}
	return jsonData, nil
}
