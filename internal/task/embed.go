package task

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed templates.yaml
var defaultTemplates []byte

// DefaultSet loads the built-in template set.
func DefaultSet() (*Set, error) {
	return LoadSet(defaultTemplates)
}

// LoadSetFromPath reads a template set from a YAML file, for operators who
// ship their own templates instead of the built-ins.
func LoadSetFromPath(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template set: %w", err)
	}
	return LoadSet(data)
}
