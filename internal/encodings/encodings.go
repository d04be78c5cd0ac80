package encodings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blondedman/face-recognition/internal/store"
	"github.com/blondedman/face-recognition/internal/types"
	"gopkg.in/yaml.v3"
)

var (
	// ErrMisaligned means names and encodings do not have the same length.
	ErrMisaligned = errors.New("names and encodings are not index-aligned")
	// ErrDimension means an encoding is not a 128-d vector.
	ErrDimension = errors.New("encoding has wrong dimension")
	// ErrFormat means the file extension is not a known database format.
	ErrFormat = errors.New("unsupported encodings format")
)

// Database holds the known faces. Names[i] labels Encodings[i].
// It is never mutated after it has been loaded.
type Database struct {
	Names     []string
	Encodings []types.Descriptor
}

// Len returns the number of known entries.
func (d *Database) Len() int { return len(d.Encodings) }

// Validate checks the index-alignment invariant.
func (d *Database) Validate() error {
	if len(d.Names) != len(d.Encodings) {
		return fmt.Errorf("%w: %d names, %d encodings", ErrMisaligned, len(d.Names), len(d.Encodings))
	}
	return nil
}

// Add appends one entry, keeping both slices aligned.
func (d *Database) Add(name string, enc types.Descriptor) {
	d.Names = append(d.Names, name)
	d.Encodings = append(d.Encodings, enc)
}

// Identities returns the distinct names in first-seen order with their sample counts.
func (d *Database) Identities() ([]string, map[string]int) {
	var order []string
	counts := make(map[string]int)
	for _, n := range d.Names {
		if _, ok := counts[n]; !ok {
			order = append(order, n)
		}
		counts[n]++
	}
	return order, counts
}

// fileFormat is the serialized shape shared by the JSON and YAML formats.
type fileFormat struct {
	Names     []string    `json:"names" yaml:"names"`
	Encodings [][]float32 `json:"encodings" yaml:"encodings"`
}

func (f fileFormat) toDatabase() (*Database, error) {
	if len(f.Names) != len(f.Encodings) {
		return nil, fmt.Errorf("%w: %d names, %d encodings", ErrMisaligned, len(f.Names), len(f.Encodings))
	}
	db := &Database{
		Names:     f.Names,
		Encodings: make([]types.Descriptor, len(f.Encodings)),
	}
	for i, vec := range f.Encodings {
		if len(vec) != types.DescriptorSize {
			return nil, fmt.Errorf("%w: entry %d (%s) has %d values, want %d", ErrDimension, i, f.Names[i], len(vec), types.DescriptorSize)
		}
		copy(db.Encodings[i][:], vec)
	}
	return db, nil
}

func fromDatabase(d *Database) fileFormat {
	f := fileFormat{
		Names:     d.Names,
		Encodings: make([][]float32, len(d.Encodings)),
	}
	for i := range d.Encodings {
		f.Encodings[i] = append([]float32(nil), d.Encodings[i][:]...)
	}
	return f
}

// IsDatabaseURL reports whether src points at PostgreSQL instead of a file.
func IsDatabaseURL(src string) bool {
	return strings.HasPrefix(src, "postgres://") || strings.HasPrefix(src, "postgresql://")
}

// Open loads the database from a file or, for a postgres URL, from the store.
func Open(ctx context.Context, src string) (*Database, error) {
	if !IsDatabaseURL(src) {
		return LoadFile(src)
	}

	s, err := store.New(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	defer s.Close(context.Background())

	names, encs, err := s.LoadEncodings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load encodings: %w", err)
	}
	db := &Database{Names: names, Encodings: encs}
	return db, db.Validate()
}

// LoadFile reads a .json, .yaml or .yml encodings file.
func LoadFile(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f fileFormat
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &f)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("%w: %q (use .json, .yaml or .yml)", ErrFormat, filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return f.toDatabase()
}

// SaveFile writes the database in the format chosen by the file extension.
func SaveFile(path string, d *Database) error {
	if err := d.Validate(); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.Marshal(fromDatabase(d))
	case ".yaml", ".yml":
		data, err = yaml.Marshal(fromDatabase(d))
	default:
		return fmt.Errorf("%w: %q (use .json, .yaml or .yml)", ErrFormat, filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
