// Package agent hosts the per-agent runtime: identity and signing, the
// definition loader, system-prompt assembly, conversation handling on top of
// the store, and response generation through the tool-enabled provider.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/haasonsaas/tenex/pkg/models"
)

// LoadDefinition reads one agent definition file. Environment variable
// references in the file are expanded before parsing, so signing keys can be
// stored as ${ENV_VAR} placeholders rather than raw secrets.
func LoadDefinition(path string) (*models.AgentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent definition: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var def models.AgentDefinition
	if err := json.Unmarshal([]byte(expanded), &def); err != nil {
		return nil, fmt.Errorf("parse agent definition %s: %w", filepath.Base(path), err)
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("agent definition %s: %w", filepath.Base(path), err)
	}
	return &def, nil
}

// LoadDefinitions reads every .json definition under dir, sorted by file
// name. Files that fail to load are skipped; their errors are joined into
// the returned error alongside whatever definitions did load, so one broken
// file does not take the whole roster down.
func LoadDefinitions(dir string) ([]*models.AgentDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read agents directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var defs []*models.AgentDefinition
	var errs []error
	for _, name := range names {
		def, err := LoadDefinition(filepath.Join(dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, def)
	}
	return defs, errors.Join(errs...)
}
