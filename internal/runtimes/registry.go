// Package runtimes discovers installed language runtimes and builds the
// command lines that invoke them.
//
// Runtimes live on disk at <PACKAGES_ROOT>/<language>/<version>/bin/<binary>.
// The registry scans that tree once at startup (and on explicit Refresh) and
// is read-only between scans.
package runtimes

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"runbox/internal/logging"
)

var (
	// ErrUnsupportedLanguage marks a language missing from the static table.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrRuntimeNotFound marks a language/version pair with no installed match.
	ErrRuntimeNotFound = errors.New("runtime not found")
)

// Descriptor is an immutable handle to one concrete installed runtime.
type Descriptor struct {
	Language        string
	ResolvedVersion string
	InterpreterPath string
	Env             map[string]string
	EntryExecutable bool

	flags []string
}

// Argv builds the command line for an execution: interpreter path, table
// flags, entry file path, then the caller's args verbatim.
func (d *Descriptor) Argv(entryPath string, args []string) []string {
	argv := make([]string, 0, 2+len(d.flags)+len(args))
	argv = append(argv, d.InterpreterPath)
	argv = append(argv, d.flags...)
	argv = append(argv, entryPath)
	argv = append(argv, args...)
	return argv
}

// BinDir returns the directory holding the interpreter binary, used as the
// child's PATH.
func (d *Descriptor) BinDir() string {
	return filepath.Dir(d.InterpreterPath)
}

// Registry resolves (language, version) requests against the on-disk tree.
type Registry struct {
	packagesRoot string

	mu sync.RWMutex
	// installed maps language -> sorted installed versions; byVersion maps
	// language -> version -> descriptor.
	installed map[string][]string
	byVersion map[string]map[string]*Descriptor
}

// NewRegistry scans packagesRoot and returns a ready registry. A missing or
// empty tree is not an error; the registry simply advertises no runtimes.
func NewRegistry(packagesRoot string) (*Registry, error) {
	r := &Registry{packagesRoot: packagesRoot}
	if err := r.Refresh(); err != nil {
		return nil, err
	}
	return r, nil
}

// Refresh rescans the packages tree, replacing the installed set atomically.
func (r *Registry) Refresh() error {
	installed := make(map[string][]string)
	byVersion := make(map[string]map[string]*Descriptor)

	for name, lang := range languageTable {
		langDir := filepath.Join(r.packagesRoot, name)
		entries, err := os.ReadDir(langDir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("scan %s: %w", langDir, err)
		}

		for _, entry := range entries {
			if !entry.IsDir() || !looksLikeVersion(entry.Name()) {
				continue
			}
			version := entry.Name()
			interp := filepath.Join(langDir, version, "bin", lang.Binary)
			if !isExecutableFile(interp) {
				logging.L().Warn("skipping runtime without executable interpreter",
					zap.String("language", name),
					zap.String("version", version),
					zap.String("path", interp))
				continue
			}

			if byVersion[name] == nil {
				byVersion[name] = make(map[string]*Descriptor)
			}
			byVersion[name][version] = &Descriptor{
				Language:        name,
				ResolvedVersion: version,
				InterpreterPath: interp,
				Env:             lang.Env,
				EntryExecutable: lang.EntryExecutable,
				flags:           lang.Flags,
			}
			installed[name] = append(installed[name], version)
		}
		sort.Strings(installed[name])
	}

	r.mu.Lock()
	r.installed = installed
	r.byVersion = byVersion
	r.mu.Unlock()

	for name, versions := range installed {
		logging.L().Info("discovered runtime",
			zap.String("language", name),
			zap.Strings("versions", versions))
	}
	return nil
}

// List returns the advertised (language, versions) pairs from the last scan,
// sorted by language name.
func (r *Registry) List() []LanguageVersions {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LanguageVersions, 0, len(r.installed))
	for name, versions := range r.installed {
		out = append(out, LanguageVersions{
			Language: name,
			Versions: append([]string(nil), versions...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Language < out[j].Language })
	return out
}

// LanguageVersions pairs a language with its installed versions.
type LanguageVersions struct {
	Language string   `json:"language"`
	Versions []string `json:"versions"`
}

// Resolve maps (language, version) to a concrete installed runtime.
//
// Resolution order: exact version directory first; otherwise the
// lexicographically greatest installed version that equals the request or
// extends it with a "." (a request for "3.11" matches "3.11.9"; "3" matches
// the greatest installed 3.x). ErrUnsupportedLanguage and ErrRuntimeNotFound
// are non-fatal and surfaced to the caller.
func (r *Registry) Resolve(language, version string) (*Descriptor, error) {
	name, ok := NormalizeLanguage(language)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, fmt.Errorf("%w: %s (version required)", ErrRuntimeNotFound, name)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	byVer := r.byVersion[name]
	if d, ok := byVer[version]; ok {
		return d, nil
	}

	prefix := version + "."
	best := ""
	for _, installed := range r.installed[name] {
		if installed == version || strings.HasPrefix(installed, prefix) {
			if installed > best {
				best = installed
			}
		}
	}
	if best == "" {
		return nil, fmt.Errorf("%w: %s %s", ErrRuntimeNotFound, name, version)
	}
	return byVer[best], nil
}

// looksLikeVersion accepts dotted numeric names like "3.11.9" or "20.5".
func looksLikeVersion(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}
