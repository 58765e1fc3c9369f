package prompts

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"loandocs/internal/domain"
)

// Placeholders understood by the extraction template.
const (
	SchemaPlaceholder   = "{SPECIFIC_SCHEMA}"
	LearningPlaceholder = "{LEARNING_NOTES}"
)

const (
	ClassifierName = "classifier"
	ExtractionName = "extraction"
)

//go:embed defaults/*.yaml
var defaults embed.FS

type Template struct {
	Name        string `yaml:"name"`
	Model       string `yaml:"model"`
	Instruction string `yaml:"instruction"`
}

// Load reads a prompt template from a YAML file.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read prompt %s: %v", domain.ErrConfiguration, path, err)
	}
	return parse(path, data)
}

// Default returns the built-in template with the given name.
func Default(name string) (*Template, error) {
	data, err := defaults.ReadFile("defaults/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w: no built-in prompt %q", domain.ErrConfiguration, name)
	}
	return parse(name, data)
}

// Resolve loads path when set and falls back to the built-in template.
func Resolve(path, name string) (*Template, error) {
	if strings.TrimSpace(path) != "" {
		return Load(path)
	}
	return Default(name)
}

func parse(source string, data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: parse prompt yaml %s: %v", domain.ErrConfiguration, source, err)
	}
	if strings.TrimSpace(t.Instruction) == "" {
		return nil, fmt.Errorf("%w: prompt %s has no instruction", domain.ErrConfiguration, source)
	}
	return &t, nil
}

// Fill substitutes placeholder/value pairs in one pass. Inserted values are
// never scanned for placeholders again, and earlier pairs win when two
// placeholders start at the same position.
func (t *Template) Fill(pairs ...string) string {
	if len(pairs) == 0 {
		return t.Instruction
	}
	return strings.NewReplacer(pairs...).Replace(t.Instruction)
}
