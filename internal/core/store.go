package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// store.go - the playbook store.
//
// Every .json/.yaml/.yml document in the playbook directory is parsed,
// validated and registered under its file base name. A document that fails
// to read, parse or validate is skipped and recorded as a PlaybookLoadError;
// the rest of the directory still loads. The store is never mutated after
// construction, so lookups need no locking.
// ---------------------------------------------------------------------------

// PlaybookStore holds the playbooks loaded at startup.
type PlaybookStore struct {
	dir        string
	playbooks  map[string]*Playbook
	loadErrors []*PlaybookLoadError
	warnings   map[string][]string
}

// LoadPlaybookStore reads every playbook document in dir. It fails only when
// the directory itself cannot be read.
func LoadPlaybookStore(dir string, logger zerolog.Logger) (*PlaybookStore, error) {
	logger = logger.With().Str("component", "playbook_store").Logger()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading playbook directory: %w", err)
	}

	s := &PlaybookStore{
		dir:       dir,
		playbooks: make(map[string]*Playbook),
		warnings:  make(map[string][]string),
	}

	for _, entry := range entries {
		if entry.IsDir() || !isPlaybookFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))

		if _, dup := s.playbooks[name]; dup {
			s.skip(logger, path, fmt.Errorf("duplicate playbook name %q", name))
			continue
		}

		pb, err := ReadPlaybookFile(path)
		if err != nil {
			s.skip(logger, path, err)
			continue
		}

		s.playbooks[name] = pb
		if warnings := LintPlaybook(pb); len(warnings) > 0 {
			s.warnings[name] = warnings
			for _, w := range warnings {
				logger.Warn().Str("playbook", name).Msg(w)
			}
		}
		logger.Debug().Str("playbook", name).Int("blocks", len(pb.Workflow.Blocks)).Msg("playbook loaded")
	}

	logger.Info().
		Str("dir", dir).
		Int("loaded", len(s.playbooks)).
		Int("skipped", len(s.loadErrors)).
		Msg("playbook store ready")

	return s, nil
}

// NewPlaybookStore builds a store from already-parsed playbooks. Each one is
// validated; the first invalid playbook fails the whole call.
func NewPlaybookStore(playbooks map[string]*Playbook) (*PlaybookStore, error) {
	s := &PlaybookStore{
		playbooks: make(map[string]*Playbook, len(playbooks)),
		warnings:  make(map[string][]string),
	}
	for name, pb := range playbooks {
		if err := ValidatePlaybook(pb); err != nil {
			return nil, fmt.Errorf("playbook %q: %w", name, err)
		}
		s.playbooks[name] = pb
		if warnings := LintPlaybook(pb); len(warnings) > 0 {
			s.warnings[name] = warnings
		}
	}
	return s, nil
}

func (s *PlaybookStore) skip(logger zerolog.Logger, path string, err error) {
	loadErr := &PlaybookLoadError{Path: path, Err: err}
	s.loadErrors = append(s.loadErrors, loadErr)
	logger.Warn().Err(err).Str("path", path).Msg("skipping malformed playbook")
}

// ReadPlaybookFile parses and validates one playbook document. The format is
// chosen by extension: .json, or .yaml/.yml.
func ReadPlaybookFile(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	var pb Playbook
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &pb); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &pb); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
	}

	if err := ValidatePlaybook(&pb); err != nil {
		return nil, err
	}
	return &pb, nil
}

func isPlaybookFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Get returns the playbook registered under name.
func (s *PlaybookStore) Get(name string) (*Playbook, bool) {
	pb, ok := s.playbooks[name]
	return pb, ok
}

// Names returns the loaded playbook names in sorted order.
func (s *PlaybookStore) Names() []string {
	names := make([]string, 0, len(s.playbooks))
	for name := range s.playbooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of loaded playbooks.
func (s *PlaybookStore) Count() int {
	return len(s.playbooks)
}

// Dir returns the directory the store was loaded from.
func (s *PlaybookStore) Dir() string {
	return s.dir
}

// LoadErrors returns the documents skipped during load.
func (s *PlaybookStore) LoadErrors() []*PlaybookLoadError {
	out := make([]*PlaybookLoadError, len(s.loadErrors))
	copy(out, s.loadErrors)
	return out
}

// Warnings returns lint warnings for the named playbook.
func (s *PlaybookStore) Warnings(name string) []string {
	return s.warnings[name]
}
