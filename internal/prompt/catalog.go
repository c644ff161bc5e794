// Package prompt serves the agent persona templates.
package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultCatalog []byte

// Template is one persona prompt.
type Template struct {
	Name         string   `yaml:"name" json:"name"`
	Title        string   `yaml:"title" json:"title"`
	Placeholders []string `yaml:"placeholders" json:"placeholders"`
	Body         string   `yaml:"body" json:"-"`
}

// Catalog holds the available templates.
type Catalog struct {
	Default   string     `yaml:"default"`
	Templates []Template `yaml:"templates"`
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Parse decodes a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	if len(c.Templates) == 0 {
		return nil, fmt.Errorf("prompt catalog has no templates")
	}
	if c.Default == "" {
		c.Default = c.Templates[0].Name
	}
	if _, ok := c.Get(c.Default); !ok {
		return nil, fmt.Errorf("default template %q not found", c.Default)
	}
	return &c, nil
}

// Get looks up a template by name. An empty name selects the default.
func (c *Catalog) Get(name string) (Template, bool) {
	if name == "" {
		name = c.Default
	}
	for _, t := range c.Templates {
		if t.Name == name {
			return t, true
		}
	}
	return Template{}, false
}

// Fill substitutes {placeholder} markers with the provided values. Markers
// without a value are left as is.
func (t Template) Fill(values map[string]string) string {
	if len(values) == 0 {
		return t.Body
	}
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		if v == "" {
			continue
		}
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(t.Body)
}
