package schema

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/braindrive/library-service/internal/atomicio"
)

// TemplateManifest lists the share/templates entries a tenant has
// published for reuse, keyed by template name.
type TemplateManifest struct {
	Templates []TemplateEntry `yaml:"templates"`
}

// TemplateEntry describes one exportable template file.
type TemplateEntry struct {
	Name        string `yaml:"name"`
	Path        string `yaml:"path"`
	Description string `yaml:"description,omitempty"`
}

func manifestPath(root string) string {
	return filepath.Join(root, "share", "templates", "manifest.yaml")
}

// ReadManifest loads share/templates/manifest.yaml, returning an empty
// manifest if it does not yet exist.
func ReadManifest(root string) (TemplateManifest, error) {
	data, err := os.ReadFile(manifestPath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return TemplateManifest{}, nil
		}
		return TemplateManifest{}, err
	}
	var manifest TemplateManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return TemplateManifest{}, err
	}
	return manifest, nil
}

// WriteManifest atomically persists the manifest back to
// share/templates/manifest.yaml.
func WriteManifest(root string, manifest TemplateManifest) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return err
	}
	path := manifestPath(root)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomicio.WriteBytes(path, data)
}

// UpsertTemplate adds or replaces a template entry by name.
func UpsertTemplate(manifest TemplateManifest, entry TemplateEntry) TemplateManifest {
	for i, existing := range manifest.Templates {
		if existing.Name == entry.Name {
			manifest.Templates[i] = entry
			return manifest
		}
	}
	manifest.Templates = append(manifest.Templates, entry)
	return manifest
}
