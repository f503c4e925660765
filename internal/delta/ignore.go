package delta

import (
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// names the coordination layer keeps at the top of the sync target
var defaultIgnoreLines = []string{
	"/locks/",
	"/temp/",
	"/info.json",
}

// IgnoreList filters listing entries with gitignore-style patterns.
type IgnoreList struct {
	lines  []string
	ignore *gitignore.GitIgnore
}

// NewIgnoreList compiles the default reserved names plus the extra lines.
func NewIgnoreList(extra ...string) *IgnoreList {
	lines := append([]string{}, defaultIgnoreLines...)
	for _, line := range extra {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return &IgnoreList{
		lines:  lines,
		ignore: gitignore.CompileIgnoreLines(lines...),
	}
}

func (l *IgnoreList) Lines() []string {
	return append([]string(nil), l.lines...)
}

// ShouldIgnore reports whether the item at path, relative to the base
// directory of the target, is filtered out. Directory patterns such as
// "locks/" only match directories.
func (l *IgnoreList) ShouldIgnore(path string, isDir bool) bool {
	if l == nil || l.ignore == nil {
		return false
	}
	path = strings.TrimPrefix(path, "/")
	if isDir {
		return l.ignore.MatchesPath(strings.TrimSuffix(path, "/") + "/")
	}
	return l.ignore.MatchesPath(path)
}
