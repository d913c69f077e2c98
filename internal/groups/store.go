// Package groups persists resolved selections as named spider groups.
package groups

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("group not found")
	ErrInvalid  = errors.New("invalid group")
)

var validName = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Group is a saved node/project/version/spiders selection. Version may be the
// auto-latest sentinel, in which case it is resolved when a job runs.
type Group struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Node        string    `json:"node"`
	Project     string    `json:"project"`
	Version     string    `json:"version"`
	Spiders     []string  `json:"spiders"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ValidateName reports whether name can be used as a group name.
func ValidateName(name string) error {
	if !validName.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: name %q must use only letters, digits, '.', '_' or '-'", ErrInvalid, name)
	}
	return nil
}

// Validate checks the fields every stored group must have.
func (g Group) Validate() error {
	if err := ValidateName(g.Name); err != nil {
		return err
	}
	switch {
	case g.Node == "":
		return fmt.Errorf("%w: node is required", ErrInvalid)
	case g.Project == "":
		return fmt.Errorf("%w: project is required", ErrInvalid)
	case g.Version == "":
		return fmt.Errorf("%w: version is required", ErrInvalid)
	case len(g.Spiders) == 0:
		return fmt.Errorf("%w: at least one spider is required", ErrInvalid)
	}
	return nil
}

// Store is the CRUD surface for spider groups.
type Store interface {
	Save(g Group) (Group, error)
	Get(name string) (Group, error)
	List() ([]Group, error)
	Delete(name string) error
}

// FileStore keeps one JSON file per group in a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// NewFileStore returns a store rooted at dir. The directory is created on
// first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, now: time.Now}
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Save creates or replaces the group with g.Name, keeping the original
// creation time on replace.
func (s *FileStore) Save(g Group) (Group, error) {
	if err := g.Validate(); err != nil {
		return Group{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	g.Spiders = slices.Clone(g.Spiders)
	g.CreatedAt = now
	g.UpdatedAt = now
	existing, err := s.load(g.Name)
	switch {
	case err == nil:
		g.CreatedAt = existing.CreatedAt
	case !errors.Is(err, ErrNotFound):
		return Group{}, err
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return Group{}, err
	}
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return Group{}, err
	}
	tmp := s.path(g.Name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return Group{}, err
	}
	if err := os.Rename(tmp, s.path(g.Name)); err != nil {
		os.Remove(tmp)
		return Group{}, err
	}
	return g, nil
}

// Get returns the named group or ErrNotFound.
func (s *FileStore) Get(name string) (Group, error) {
	if !validName.MatchString(name) {
		return Group{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(name)
}

// List returns every group sorted by name. A missing directory is empty.
func (s *FileStore) List() ([]Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []Group{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]Group, 0, len(entries))
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok {
			continue
		}
		g, err := s.load(name)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Delete removes the named group or returns ErrNotFound.
func (s *FileStore) Delete(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(name))
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return err
}

func (s *FileStore) load(name string) (Group, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return Group{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return Group{}, err
	}
	var g Group
	if err := json.Unmarshal(data, &g); err != nil {
		return Group{}, fmt.Errorf("parsing group %q: %w", name, err)
	}
	return g, nil
}
