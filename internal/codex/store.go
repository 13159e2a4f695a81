package codex

import (
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/grovetools/remote-panel/config"
	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/schema"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Store reads and writes the registry file. A missing file yields the
// default registry; a file that is not valid JSON or does not match the
// registry schema is an error.
type Store struct {
	path      string
	validator *schema.Validator
	now       func() time.Time

	mu sync.Mutex
}

// NewStore opens the registry at path.
func NewStore(path string) (*Store, error) {
	v, err := schema.NewReflectedValidator(&Registry{}, "Codex Session Registry")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to build registry schema")
	}
	return &Store{path: path, validator: v, now: time.Now}, nil
}

// Path returns the registry file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads and normalizes the registry.
func (s *Store) Load() (*Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (*Registry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultRegistry(s.now()), nil
		}
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to read session registry").
			WithDetail("path", s.path)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	if err := s.validator.ValidateJSON(data); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "session registry is malformed").
			WithDetail("path", s.path)
	}
	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid, "session registry is malformed").
			WithDetail("path", s.path)
	}
	return reg.Normalize(s.now()), nil
}

// Save stamps, normalizes and atomically writes reg.
func (s *Store) Save(reg *Registry) (*Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(reg)
}

func (s *Store) save(reg *Registry) (*Registry, error) {
	now := s.now()
	cp := *reg
	cp.UpdatedAt = ""
	out := cp.Normalize(now)

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := config.WriteFileAtomic(s.path, append(data, '\n'), 0644); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to write session registry")
	}
	return out, nil
}

// Update loads the registry, applies fn and saves the result, holding the
// store lock throughout.
func (s *Store) Update(fn func(reg *Registry, now time.Time) (*Registry, error)) (*Registry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		return nil, err
	}
	next, err := fn(current, s.now())
	if err != nil {
		return nil, err
	}
	return s.save(next)
}
