// Package definitions loads SOP workflow definitions from JSON documents.
// The standard definitions ship embedded in the binary; additional ones can be
// loaded from a directory at startup.
package definitions

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/floridafirst/sopflow/pkg/schema"
)

//go:embed standard/*.json
var standardFS embed.FS

// DocumentValidator checks a raw definition document before it is decoded.
type DocumentValidator interface {
	ValidateDocument(data []byte) error
}

// Standard returns the embedded standard SOP definitions, ordered by file name.
func Standard(v DocumentValidator) ([]*schema.WorkflowDefinition, error) {
	sub, err := fs.Sub(standardFS, "standard")
	if err != nil {
		return nil, err
	}
	return Load(sub, v)
}

// LoadDir loads every *.json definition in dir.
func LoadDir(dir string, v DocumentValidator) ([]*schema.WorkflowDefinition, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("definitions dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("definitions dir %q is not a directory", dir)
	}
	return Load(os.DirFS(dir), v)
}

// Load parses every top-level *.json file in fsys, sorted by name.
func Load(fsys fs.FS, v DocumentValidator) ([]*schema.WorkflowDefinition, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	defs := make([]*schema.WorkflowDefinition, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		def, err := Parse(data, v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Parse validates (when v is non-nil) and decodes a single definition document.
func Parse(data []byte, v DocumentValidator) (*schema.WorkflowDefinition, error) {
	if v != nil {
		if err := v.ValidateDocument(data); err != nil {
			return nil, err
		}
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "decode workflow definition").WithCause(err)
	}
	return &def, nil
}
