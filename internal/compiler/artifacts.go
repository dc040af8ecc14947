package compiler

import (
	"os"
	"path/filepath"

	"github.com/docforge/docforge/internal/faults"
	"github.com/docforge/docforge/pkg/file"
)

// GeneratorStore keeps compiled generator sources on disk, one JavaScript
// file per template slug under <dataDir>/generators/.
type GeneratorStore struct {
	dir string
}

func NewGeneratorStore(dataDir string) (*GeneratorStore, error) {
	dir := filepath.Join(dataDir, "generators")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, faults.Wrap(err, faults.ErrStorage, "creating generator directory")
	}
	return &GeneratorStore{dir: dir}, nil
}

// Path returns the on-disk location for a slug's generator. The slug is
// sanitized, so a hostile slug cannot escape the generator directory.
func (g *GeneratorStore) Path(slug string) string {
	return filepath.Join(g.dir, file.SafeName(slug)+".js")
}

// Ref returns the stable artifact reference reported to callers.
func (g *GeneratorStore) Ref(slug string) string {
	return "generators/" + file.SafeName(slug) + ".js"
}

func (g *GeneratorStore) Exists(slug string) bool {
	return file.Exists(g.Path(slug))
}

// Write atomically replaces the generator for slug. A reader never observes
// a half-written file.
func (g *GeneratorStore) Write(slug, source string) error {
	if err := file.WriteAtomic(g.Path(slug), []byte(source), 0o644); err != nil {
		return faults.Wrap(err, faults.ErrStorage, "writing generator artifact").
			WithContext("slug", slug)
	}
	return nil
}

// Read loads the generator source for slug, or NotFound when the template
// has never been compiled.
func (g *GeneratorStore) Read(slug string) (string, error) {
	data, err := os.ReadFile(g.Path(slug))
	if err != nil {
		if os.IsNotExist(err) {
			return "", faults.Newf(faults.ErrNotFound, "no compiled generator for template %q", slug)
		}
		return "", faults.Wrap(err, faults.ErrStorage, "reading generator artifact").
			WithContext("slug", slug)
	}
	return string(data), nil
}

// Delete removes the generator for slug. Missing artifacts are not an error.
func (g *GeneratorStore) Delete(slug string) error {
	if err := os.Remove(g.Path(slug)); err != nil && !os.IsNotExist(err) {
		return faults.Wrap(err, faults.ErrStorage, "deleting generator artifact").
			WithContext("slug", slug)
	}
	return nil
}
