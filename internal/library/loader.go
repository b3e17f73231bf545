// Package library loads profiles and automations from disk and keeps them
// in step with the files while the process runs.
//
// Layout:
//
//	<profiles dir>/*.yaml      one profile per file
//	<automations dir>/*.yaml   one automation per file
//
// A document without a name takes the file name without its extension.
package library

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nerrad567/cuebox/internal/automation"
	"github.com/nerrad567/cuebox/internal/profile"
)

// Kind is the kind of definition a file holds.
type Kind string

// Definition kinds.
const (
	KindProfile    Kind = "profile"
	KindAutomation Kind = "automation"
)

// Library is the result of a full load.
type Library struct {
	Profiles    []*profile.Profile
	Automations []*automation.Automation
}

// Loader reads definitions from the profiles and automations directories.
type Loader struct {
	ProfilesDir    string
	AutomationsDir string
}

// NewLoader creates a Loader.
func NewLoader(profilesDir, automationsDir string) *Loader {
	return &Loader{ProfilesDir: profilesDir, AutomationsDir: automationsDir}
}

// LoadAll reads both directories. Files that fail to parse are left out of
// the result and reported together in the error; everything else loads.
func (l *Loader) LoadAll() (*Library, error) {
	lib := &Library{}
	var errs []error

	profiles, err := l.LoadProfiles()
	lib.Profiles = profiles
	if err != nil {
		errs = append(errs, err)
	}

	automations, err := l.LoadAutomations()
	lib.Automations = automations
	if err != nil {
		errs = append(errs, err)
	}
	return lib, errors.Join(errs...)
}

// LoadProfiles parses every profile file, sorted by path.
func (l *Loader) LoadProfiles() ([]*profile.Profile, error) {
	paths, err := yamlFiles(l.ProfilesDir)
	if err != nil {
		return nil, err
	}
	var (
		out  []*profile.Profile
		errs []error
	)
	for _, path := range paths {
		p, err := l.LoadProfile(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, p)
	}
	return out, errors.Join(errs...)
}

// LoadAutomations parses every automation file, sorted by path.
func (l *Loader) LoadAutomations() ([]*automation.Automation, error) {
	paths, err := yamlFiles(l.AutomationsDir)
	if err != nil {
		return nil, err
	}
	var (
		out  []*automation.Automation
		errs []error
	)
	for _, path := range paths {
		a, err := l.LoadAutomation(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, a)
	}
	return out, errors.Join(errs...)
}

// LoadProfile parses one profile file.
func (l *Loader) LoadProfile(path string) (*profile.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %s: %w", path, err)
	}
	p, err := profile.Parse(data, NameFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Source = path
	return p, nil
}

// LoadAutomation parses one automation file.
func (l *Loader) LoadAutomation(path string) (*automation.Automation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading automation %s: %w", path, err)
	}
	a, err := automation.Parse(data, NameFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.Source = path
	return a, nil
}

// KindOf returns the kind of definition path holds, judged by its directory.
func (l *Loader) KindOf(path string) (Kind, bool) {
	if !IsYAML(path) {
		return "", false
	}
	dir := filepath.Clean(filepath.Dir(path))
	switch dir {
	case filepath.Clean(l.ProfilesDir):
		return KindProfile, true
	case filepath.Clean(l.AutomationsDir):
		return KindAutomation, true
	default:
		return "", false
	}
}

// NameFromPath returns the file name without directory or extension.
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsYAML reports whether path has a YAML extension.
func IsYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// yamlFiles lists the YAML files directly inside dir. A missing directory
// holds no files.
func yamlFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || !IsYAML(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
