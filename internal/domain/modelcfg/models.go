package modelcfg

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ModelConfig describes one remote model the bot can submit jobs to.
type ModelConfig struct {
	Name            string  `json:"name"`
	Alias           string  `json:"alias"`
	Description     string  `json:"description,omitempty"`
	Register        *bool   `json:"register,omitempty"`
	DefaultSize     string  `json:"default_size,omitempty"`
	DefaultSteps    int     `json:"default_steps,omitempty"`
	DefaultGuidance float64 `json:"default_guidance,omitempty"`
	// TriggerWords is a phrase the model needs at the start of the prompt to
	// activate its style. Injected automatically unless the prompt already
	// contains it.
	TriggerWords string `json:"trigger_words,omitempty"`
	// NegativePrompt is merged into the final negative prompt regardless of
	// the global negative-prompt switch.
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

// Registered reports whether the model should be exposed as a command alias.
func (m ModelConfig) Registered() bool {
	return m.Register == nil || *m.Register
}

// DefaultGenerateModels is the stock text-to-image model table.
var DefaultGenerateModels = []ModelConfig{
	{Name: "Qwen/Qwen-Image", Alias: "qwen", Description: "base model, safe default"},
	{Name: "merjic/majicbeauty-qwen1", Alias: "beauty", Description: "cool-toned beauty portraits"},
	{Name: "violetzzzz/void_0-lowLR", Alias: "void", Description: "void_0 style, good for anime"},
	{Name: "dominik0420/august_film_2", Alias: "film", Description: "cinematic film look"},
	{Name: "firefly123123/firefly", Alias: "firefly", Description: "Firefly character", TriggerWords: "liuying"},
}

// DefaultEditModels is the stock image-to-image model table.
var DefaultEditModels = []ModelConfig{
	{Name: "Qwen/Qwen-Image-Edit", Alias: "edit", Description: "general image editing"},
}

// Registry resolves model aliases and names to their configuration, keeping
// generation and edit tables separate.
type Registry struct {
	generate []ModelConfig
	edit     []ModelConfig
}

// LoadRegistry decodes the JSON model tables, falling back to the stock
// tables when a payload is empty.
func LoadRegistry(generateJSON, editJSON string) (*Registry, error) {
	generate, err := decodeModels(generateJSON, DefaultGenerateModels)
	if err != nil {
		return nil, fmt.Errorf("modelcfg: generate models: %w", err)
	}
	edit, err := decodeModels(editJSON, DefaultEditModels)
	if err != nil {
		return nil, fmt.Errorf("modelcfg: edit models: %w", err)
	}
	return &Registry{generate: generate, edit: edit}, nil
}

func decodeModels(raw string, fallback []ModelConfig) ([]ModelConfig, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	var models []ModelConfig
	if err := json.Unmarshal([]byte(raw), &models); err != nil {
		return nil, err
	}
	for i, m := range models {
		if strings.TrimSpace(m.Name) == "" {
			return nil, fmt.Errorf("entry %d: name is required", i)
		}
		if strings.TrimSpace(m.Alias) == "" {
			return nil, fmt.Errorf("entry %d: alias is required", i)
		}
	}
	if len(models) == 0 {
		return fallback, nil
	}
	return models, nil
}

// ResolveGenerate finds a generation model by alias or full name. An empty
// query resolves to the first configured model.
func (r *Registry) ResolveGenerate(nameOrAlias string) (ModelConfig, bool) {
	return resolve(r.generate, nameOrAlias)
}

// ResolveEdit finds an edit model by alias or full name.
func (r *Registry) ResolveEdit(nameOrAlias string) (ModelConfig, bool) {
	return resolve(r.edit, nameOrAlias)
}

func resolve(models []ModelConfig, query string) (ModelConfig, bool) {
	if len(models) == 0 {
		return ModelConfig{}, false
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return models[0], true
	}
	for _, m := range models {
		if strings.EqualFold(m.Alias, query) || m.Name == query {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// GenerateModels returns the generation table in configured order.
func (r *Registry) GenerateModels() []ModelConfig {
	return r.generate
}

// EditModels returns the edit table in configured order.
func (r *Registry) EditModels() []ModelConfig {
	return r.edit
}

// AliasList renders "alias: description" lines for the registered generation
// models, fed to the AI prompt optimizer so it can pick a model.
func (r *Registry) AliasList() string {
	var lines []string
	for _, m := range r.generate {
		if !m.Registered() {
			continue
		}
		desc := m.Description
		if desc == "" {
			desc = m.Name
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", m.Alias, desc))
	}
	return strings.Join(lines, "\n")
}
