package runtimes

import "strings"

// Language describes one supported interpreter family. Adding a language to
// the service means adding one entry to languageTable.
type Language struct {
	// Name is the canonical language identifier used in requests and in the
	// on-disk packages tree.
	Name string

	// Aliases are accepted request spellings normalized to Name.
	Aliases []string

	// Binary is the interpreter executable expected under
	// <PACKAGES_ROOT>/<name>/<version>/bin/.
	Binary string

	// Flags are interpreter flags inserted between the binary and the entry
	// file.
	Flags []string

	// Env holds language-specific environment adjustments for the child.
	Env map[string]string

	// EntryExecutable marks languages whose entry file must carry the
	// executable bit.
	EntryExecutable bool
}

var languageTable = map[string]Language{
	"python": {
		Name:    "python",
		Aliases: []string{"py", "python3"},
		Binary:  "python",
		Flags:   []string{"-u"},
		Env: map[string]string{
			"PYTHONDONTWRITEBYTECODE": "1",
			"PYTHONUNBUFFERED":        "1",
		},
	},
	"node": {
		Name:    "node",
		Aliases: []string{"js", "javascript", "nodejs"},
		Binary:  "node",
		Env: map[string]string{
			"NODE_ENV": "production",
		},
	},
	"ruby": {
		Name:    "ruby",
		Aliases: []string{"rb"},
		Binary:  "ruby",
	},
	"bash": {
		Name:            "bash",
		Aliases:         []string{"sh", "shell"},
		Binary:          "bash",
		EntryExecutable: true,
	},
}

var aliasIndex = buildAliasIndex()

func buildAliasIndex() map[string]string {
	idx := make(map[string]string, len(languageTable)*2)
	for name, lang := range languageTable {
		idx[name] = name
		for _, a := range lang.Aliases {
			idx[a] = name
		}
	}
	return idx
}

// NormalizeLanguage maps a request spelling to the canonical language name.
// The second return is false for languages not in the table.
func NormalizeLanguage(language string) (string, bool) {
	name, ok := aliasIndex[strings.ToLower(strings.TrimSpace(language))]
	return name, ok
}

// SupportedLanguages returns the canonical names of every table entry.
func SupportedLanguages() []string {
	names := make([]string, 0, len(languageTable))
	for name := range languageTable {
		names = append(names, name)
	}
	return names
}
