package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/nexus-chat/internal/domain"
)

// DefaultModels is the catalog served when no MODELS_FILE is configured.
var DefaultModels = []domain.ModelOption{
	{Provider: "openai", ModelName: "gpt-4o", DisplayName: "GPT-4o"},
	{Provider: "anthropic", ModelName: "claude-sonnet", DisplayName: "Claude Sonnet"},
	{Provider: "ollama", ModelName: "llama3", BaseURL: "http://localhost:11434", DisplayName: "Llama 3 (local)"},
}

type modelsFile struct {
	Models []domain.ModelOption `yaml:"models"`
}

// LoadModels reads the model catalog from a YAML file with a top-level
// "models" list. An empty path yields DefaultModels.
func LoadModels(path string) ([]domain.ModelOption, error) {
	if path == "" {
		out := make([]domain.ModelOption, len(DefaultModels))
		copy(out, DefaultModels)
		return out, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}
	var f modelsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse models file %s: %w", path, err)
	}
	for i, m := range f.Models {
		if m.Provider == "" || m.ModelName == "" {
			return nil, fmt.Errorf("models file %s: entry %d needs provider and model_name", path, i)
		}
	}
	if f.Models == nil {
		f.Models = []domain.ModelOption{}
	}
	return f.Models, nil
}
