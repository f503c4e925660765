package driver

import (
	"context"
	"fmt"
	pathpkg "path"
	"strings"
)

// DefaultRoot is the special root every bundled backend accepts.
const DefaultRoot = "root"

// SplitPath splits `root:/a/b` into ("root", "a/b"). A bare special root
// yields an empty sub path. The root must be one of caps.SpecialRoots.
func SplitPath(p string, caps Capabilities) (root, sub string, err error) {
	root, sub, _ = splitRaw(p)
	if root == "" || !caps.HasSpecialRoot(root) {
		return "", "", fmt.Errorf("%w: %q has no known special root", ErrInvalidPath, p)
	}
	return root, sub, nil
}

func splitRaw(p string) (root, sub string, hasColon bool) {
	root, rest, hasColon := strings.Cut(p, ":")
	if !hasColon {
		return p, "", false
	}
	return root, cleanSub(rest), true
}

func cleanSub(sub string) string {
	sub = pathpkg.Clean("/" + sub)
	return strings.Trim(sub, "/")
}

// FormatPath is the inverse of SplitPath.
func FormatPath(root, sub string) string {
	sub = cleanSub(sub)
	if sub == "" {
		return root
	}
	return root + ":/" + sub
}

// JoinPath appends a relative path to a special path.
func JoinPath(base, rel string) string {
	root, sub, _ := splitRaw(base)
	return FormatPath(root, pathpkg.Join(sub, rel))
}

// ParentPath returns the parent of p; the parent of `root:/a` is `root`, and
// a special root has no parent.
func ParentPath(p string) string {
	root, sub, _ := splitRaw(p)
	if sub == "" {
		return ""
	}
	parent := pathpkg.Dir(sub)
	if parent == "." {
		return root
	}
	return FormatPath(root, parent)
}

func Basename(p string) string {
	root, sub, _ := splitRaw(p)
	if sub == "" {
		return root
	}
	return pathpkg.Base(sub)
}

// EnsureBasePath creates the directory chain of basePath one segment at a
// time. Syncing straight into a special root creates nothing.
func EnsureBasePath(ctx context.Context, basePath string, mkdir func(ctx context.Context, path string) error) error {
	root, sub, _ := splitRaw(strings.TrimSuffix(basePath, ":"))
	if sub == "" {
		return nil
	}

	current := ""
	for _, segment := range strings.Split(sub, "/") {
		current = pathpkg.Join(current, segment)
		if err := mkdir(ctx, FormatPath(root, current)); err != nil {
			return fmt.Errorf("initialize %s: %w", FormatPath(root, current), err)
		}
	}
	return nil
}
