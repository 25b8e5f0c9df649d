package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Persister stores named values of one type in a directory.
type Persister[T any] struct {
	dir   string
	codec Codec
}

// NewPersister roots a persister at dir, creating it if needed.
func NewPersister[T any](dir string, codec Codec) (*Persister[T], error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	return &Persister[T]{dir: dir, codec: codec}, nil
}

// Dir returns the root directory.
func (p *Persister[T]) Dir() string { return p.dir }

func (p *Persister[T]) path(name string) string {
	return filepath.Join(p.dir, name+p.codec.Extension())
}

// Save writes v under name. Readers never observe a partially written file:
// the value goes to a hidden temporary file that is renamed into place.
func (p *Persister[T]) Save(name string, v *T) error {
	tmp, err := os.CreateTemp(p.dir, "."+name+"-*")
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}

	cleanup := func(cause error) error {
		return errors.Join(fmt.Errorf("save %s: %w", name, cause), os.Remove(tmp.Name()))
	}

	if err = p.codec.Encode(tmp, v); err != nil {
		return errors.Join(cleanup(err), tmp.Close())
	}

	if err = tmp.Close(); err != nil {
		return cleanup(err)
	}

	if err = os.Rename(tmp.Name(), p.path(name)); err != nil {
		return cleanup(err)
	}

	return nil
}

// Load reads the value stored under name.
func (p *Persister[T]) Load(name string) (*T, error) {
	file, err := os.Open(p.path(name))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	defer file.Close()

	var v T

	if err = p.codec.Decode(file, &v); err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}

	return &v, nil
}

// Names lists stored names in sorted order, skipping temporary files.
func (p *Persister[T]) Names() ([]string, error) {
	ext := p.codec.Extension()

	matches, err := filepath.Glob(filepath.Join(p.dir, "*"+ext))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", p.dir, err)
	}

	names := make([]string, 0, len(matches))

	for _, match := range matches {
		if base := filepath.Base(match); !strings.HasPrefix(base, ".") {
			names = append(names, strings.TrimSuffix(base, ext))
		}
	}

	slices.Sort(names)

	return names, nil
}
