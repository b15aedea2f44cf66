// Package scenario loads incident records from YAML files, either the set
// embedded in the binary or a directory supplied at runtime.
package scenario

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/linnemanlabs/arbiter/internal/incident"
)

// All is the selector that expands to every known incident id.
const All = "all"

// ErrNotFound is returned when no source knows an incident id.
var ErrNotFound = errors.New("incident not found")

//go:embed incidents/*.yaml
var embedded embed.FS

// Source produces incidents by id.
type Source interface {
	Load(ctx context.Context, id string) (*incident.Incident, error)
	List(ctx context.Context) ([]string, error)
}

// FS reads <id>.yaml files from the root of a file system.
type FS struct {
	fsys fs.FS
}

func NewFS(fsys fs.FS) *FS { return &FS{fsys: fsys} }

// Embedded returns the incidents compiled into the binary.
func Embedded() *FS {
	sub, err := fs.Sub(embedded, "incidents")
	if err != nil {
		panic(err)
	}
	return NewFS(sub)
}

// Dir returns a source over the YAML files in path.
func Dir(path string) *FS { return NewFS(os.DirFS(path)) }

// Load reads and decodes one incident. The id inside the file, when present,
// must match the file name.
func (s *FS) Load(_ context.Context, id string) (*incident.Incident, error) {
	if !validID(id) {
		return nil, fmt.Errorf("invalid incident id %q", id)
	}
	b, err := fs.ReadFile(s.fsys, id+".yaml")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read incident %s: %w", id, err)
	}

	var inc incident.Incident
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&inc); err != nil {
		return nil, fmt.Errorf("parse incident %s: %w", id, err)
	}
	switch inc.ID {
	case "":
		inc.ID = id
	case id:
	default:
		return nil, fmt.Errorf("incident file %s.yaml declares id %q", id, inc.ID)
	}
	return &inc, nil
}

// List returns every incident id, sorted.
func (s *FS) List(_ context.Context) ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	slices.Sort(ids)
	return ids, nil
}

func validID(id string) bool {
	return id != "" && !strings.EqualFold(id, All) && !strings.ContainsAny(id, `/\`) && fs.ValidPath(id)
}

// Chain consults sources in order. Earlier sources win when ids collide.
type Chain []Source

func (c Chain) Load(ctx context.Context, id string) (*incident.Incident, error) {
	for _, s := range c {
		inc, err := s.Load(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return inc, err
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (c Chain) List(ctx context.Context) ([]string, error) {
	var ids []string
	for _, s := range c {
		got, err := s.List(ctx)
		if err != nil {
			return nil, err
		}
		ids = append(ids, got...)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

// Resolve expands selectors into incident ids. "all", in any case, expands to
// every id the source knows; other selectors are kept in order with duplicates removed.
func Resolve(ctx context.Context, src Source, selectors []string) ([]string, error) {
	if len(selectors) == 0 {
		return nil, errors.New("no incidents selected")
	}
	var out []string
	seen := map[string]bool{}
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		if !strings.EqualFold(sel, All) {
			add(sel)
			continue
		}
		ids, err := src.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			add(id)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no incidents selected")
	}
	return out, nil
}
