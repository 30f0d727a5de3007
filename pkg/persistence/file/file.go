// Package file provides file-based persistence: one JSON document per entity under
// <root>/<collection>/<id>.json.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/procflow/pkg/persistence"
)

const (
	definitionsDir = "definitions"
	instancesDir   = "instances"
	approvalsDir   = "approvals"
	templatesDir   = "templates"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root string
	mu   sync.RWMutex
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	return &Persistence{root: strings.Replace(root, "file://", "", 1)}
}

func (fp *Persistence) DefinitionRepository() persistence.DefinitionRepository {
	return &definitionRepository{fp}
}

func (fp *Persistence) InstanceRepository() persistence.InstanceRepository {
	return &instanceRepository{fp}
}

func (fp *Persistence) ApprovalRepository() persistence.ApprovalRepository {
	return &approvalRepository{fp}
}

func (fp *Persistence) TemplateRepository() persistence.TemplateRepository {
	return &templateRepository{fp}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) path(collection, id string) string {
	return filepath.Join(fp.root, collection, id+".json")
}

func (fp *Persistence) write(collection, id string, value any) error {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid %s id %q", collection, id)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	err := os.MkdirAll(filepath.Join(fp.root, collection), 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", collection, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", collection, id, err)
	}

	target := fp.path(collection, id)
	tmp := target + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s %s: %w", collection, id, err)
	}

	return os.Rename(tmp, target)
}

// read decodes the document into value. It returns fs.ErrNotExist when there is none.
func (fp *Persistence) read(collection, id string, value any) error {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	return fp.readLocked(collection, id, value)
}

func (fp *Persistence) readLocked(collection, id string, value any) error {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return fs.ErrNotExist
	}

	body, err := os.ReadFile(fp.path(collection, id))
	if err != nil {
		return err
	}

	err = json.Unmarshal(body, value)
	if err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", collection, id, err)
	}

	return nil
}

func (fp *Persistence) remove(collection, id string) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	return os.Remove(fp.path(collection, id))
}

// readAll decodes every document of a collection through decode.
func (fp *Persistence) readAll(collection string, decode func(id string) error) error {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	files, err := fs.Glob(os.DirFS(filepath.Join(fp.root, collection)), "*.json")
	if err != nil {
		return fmt.Errorf("failed to list %s files: %w", collection, err)
	}

	for _, file := range files {
		err := decode(strings.TrimSuffix(file, ".json"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return err
		}
	}

	return nil
}
