package services

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/dukex/procflow/pkg/models"
	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinTemplates embed.FS

// LoadTemplates decodes every .yaml and .yml file under fsys into a template.
// Files are read in lexical order; one file may hold several YAML documents.
func LoadTemplates(fsys fs.FS) ([]*models.WorkflowTemplate, error) {
	var templates []*models.WorkflowTemplate

	err := fs.WalkDir(fsys, ".", func(name string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.IsDir() {
			return nil
		}

		ext := strings.ToLower(path.Ext(name))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("failed to read template file %s: %w", name, err)
		}

		decoded, err := decodeTemplates(data)
		if err != nil {
			return fmt.Errorf("failed to decode template file %s: %w", name, err)
		}

		templates = append(templates, decoded...)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return templates, nil
}

// LoadTemplateDirectory loads the templates stored in a directory on disk.
func LoadTemplateDirectory(dir string) ([]*models.WorkflowTemplate, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open templates directory: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("templates path %s is not a directory", dir)
	}

	return LoadTemplates(os.DirFS(dir))
}

func loadBuiltinTemplates() ([]*models.WorkflowTemplate, error) {
	sub, err := fs.Sub(builtinTemplates, "builtin")
	if err != nil {
		return nil, err
	}

	templates, err := LoadTemplates(sub)
	if err != nil {
		return nil, err
	}

	for _, template := range templates {
		template.IsBuiltIn = true
	}

	return templates, nil
}

func decodeTemplates(data []byte) ([]*models.WorkflowTemplate, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var templates []*models.WorkflowTemplate

	for {
		var template models.WorkflowTemplate

		err := decoder.Decode(&template)
		if errors.Is(err, io.EOF) {
			return templates, nil
		}

		if err != nil {
			return nil, err
		}

		err = validateTemplate("LoadTemplates", &template)
		if err != nil {
			return nil, err
		}

		templates = append(templates, &template)
	}
}

// validateTemplate checks that a blueprint can seed a definition.
func validateTemplate(op string, template *models.WorkflowTemplate) error {
	if strings.TrimSpace(template.Name) == "" {
		return NewValidationError(op, "TEMPLATE_NAME_REQUIRED", "template name is required", ErrInvalidTemplate)
	}

	if len(template.Blueprint.Steps) == 0 {
		return NewValidationError(op, "TEMPLATE_STEPS_REQUIRED",
			fmt.Sprintf("template %q has no steps", template.Name), ErrInvalidTemplate)
	}

	err := validateStepTypes(op, template.Blueprint.Steps)
	if err != nil {
		return err
	}

	if template.Category == "" {
		template.Category = models.CategoryCustom
	}

	if template.Version == 0 {
		template.Version = 1
	}

	return nil
}
