package core

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/JonMunkholm/tidyimport/internal/spec"
)

// SpecInfo describes a registered spec for listings.
type SpecInfo struct {
	Key     string   `json:"key"`
	Group   string   `json:"group"`
	Path    string   `json:"path,omitempty"`
	Columns []string `json:"columns"`
}

// SpecDefinition is a registered spec with its compiled engine.
type SpecDefinition struct {
	Info   SpecInfo
	Spec   *spec.Spec
	Engine *Engine
}

var (
	registry   = make(map[string]SpecDefinition)
	registryMu sync.RWMutex
)

// Register compiles s and adds it to the registry under key.
// Returns an error if the key is taken or the spec does not compile.
func Register(key, group string, s *spec.Spec) error {
	engine, err := NewEngine(s)
	if err != nil {
		return fmt.Errorf("register %s: %w", key, err)
	}

	def := SpecDefinition{
		Info:   SpecInfo{Key: key, Group: group},
		Spec:   s,
		Engine: engine,
	}
	for _, col := range s.Columns {
		def.Info.Columns = append(def.Info.Columns, col.Target)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[key]; exists {
		return fmt.Errorf("spec already registered: %s", key)
	}
	registry[key] = def
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(key, group string, s *spec.Spec) {
	if err := Register(key, group, s); err != nil {
		panic(err)
	}
}

// RegisterDir loads every .yaml, .yml and .json file under dir. The key is the
// file name without extension; the group is the sub-directory ("" at the top).
// Returns the number of specs registered.
func RegisterDir(dir string) (int, error) {
	var count int
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsSpecFile(path) {
			return nil
		}

		s, err := spec.LoadFile(path)
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, filepath.Dir(path))
		if err != nil {
			return err
		}
		group := filepath.ToSlash(rel)
		if group == "." {
			group = ""
		}

		key := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if err := Register(key, group, s); err != nil {
			return err
		}

		registryMu.Lock()
		def := registry[key]
		def.Info.Path = path
		registry[key] = def
		registryMu.Unlock()

		count++
		return nil
	})
	return count, err
}

// IsSpecFile reports whether path has a spec document extension.
func IsSpecFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}

// Get returns a spec definition by key.
// Returns false if not found.
func Get(key string) (SpecDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[key]
	return def, ok
}

// All returns all registered spec definitions.
// Sorted by group then by key for consistent ordering.
func All() []SpecDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]SpecDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Info.Group != result[j].Info.Group {
			return result[i].Info.Group < result[j].Info.Group
		}
		return result[i].Info.Key < result[j].Info.Key
	})

	return result
}

// ByGroup returns all spec definitions for a specific group.
// Sorted by key for consistent ordering.
func ByGroup(group string) []SpecDefinition {
	var result []SpecDefinition
	for _, def := range All() {
		if def.Info.Group == group {
			result = append(result, def)
		}
	}
	return result
}

// Groups returns all unique group names.
// Sorted alphabetically.
func Groups() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	seen := make(map[string]bool)
	for _, def := range registry {
		seen[def.Info.Group] = true
	}

	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}

	sort.Strings(groups)
	return groups
}

// SpecCount returns the number of registered specs.
func SpecCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered specs.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]SpecDefinition)
}
