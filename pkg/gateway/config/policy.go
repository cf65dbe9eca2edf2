package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	yaml "go.yaml.in/yaml/v2"

	"github.com/vango-go/nativeflow/pkg/core/live"
)

// LoadPolicy reads the upstream session policy from a YAML or JSON file.
// Fields missing from the file keep their defaults. An empty path returns
// the default policy.
func LoadPolicy(path string) (live.SessionPolicy, error) {
	policy := live.DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return live.SessionPolicy{}, fmt.Errorf("read policy file: %w", err)
	}

	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, &policy); err != nil {
			return live.SessionPolicy{}, fmt.Errorf("parse json policy: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.UnmarshalStrict(data, &policy); err != nil {
			return live.SessionPolicy{}, fmt.Errorf("parse yaml policy: %w", err)
		}
	default:
		if err := yaml.UnmarshalStrict(data, &policy); err != nil {
			if jsonErr := json.Unmarshal(data, &policy); jsonErr != nil {
				return live.SessionPolicy{}, fmt.Errorf("unsupported policy format: %s", filepath.Ext(path))
			}
		}
	}
	return policy, nil
}
