// Package postcall loads the scripted screens shown after a completed consultation
package postcall

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pushpaanand/teleconsult/internal/models"
)

// Catalog maps departments to their post-call action
type Catalog struct {
	Default     *models.PostCallAction           `yaml:"default"`
	Departments map[string]models.PostCallAction `yaml:"departments"`
}

// Load reads a catalog file. An empty path yields an empty catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return &Catalog{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read post-call scripts: %w", err)
	}
	return Parse(data)
}

// Parse decodes a catalog document
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse post-call scripts: %w", err)
	}

	normalized := make(map[string]models.PostCallAction, len(c.Departments))
	for dept, action := range c.Departments {
		if action.Title == "" && action.Message == "" {
			return nil, fmt.Errorf("post-call script for %q has neither title nor message", dept)
		}
		normalized[normalize(dept)] = action
	}
	c.Departments = normalized
	return &c, nil
}

// Lookup returns the action for a department, falling back to the default entry
func (c *Catalog) Lookup(department string) (models.PostCallAction, bool) {
	if c == nil {
		return models.PostCallAction{}, false
	}
	if action, ok := c.Departments[normalize(department)]; ok {
		return action, true
	}
	if c.Default != nil {
		return *c.Default, true
	}
	return models.PostCallAction{}, false
}

// Len returns the number of department-specific scripts
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Departments)
}

func normalize(department string) string {
	return strings.ToLower(strings.TrimSpace(department))
}
