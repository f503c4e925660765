package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCaps = Capabilities{Name: "test", SpecialRoots: []string{DefaultRoot}}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		in       string
		root     string
		sub      string
		wantFail bool
	}{
		{in: "root", root: "root", sub: ""},
		{in: "root:/", root: "root", sub: ""},
		{in: "root:/Apps/Joplin", root: "root", sub: "Apps/Joplin"},
		{in: "root:/Apps//Joplin/", root: "root", sub: "Apps/Joplin"},
		{in: "root:/../etc", root: "root", sub: "etc"},
		{in: "appfolder:/x", wantFail: true},
		{in: "info.json", wantFail: true},
		{in: "", wantFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			root, sub, err := SplitPath(tt.in, testCaps)
			if tt.wantFail {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.root, root)
			assert.Equal(t, tt.sub, sub)
		})
	}
}

func TestJoinAndParentPath(t *testing.T) {
	assert.Equal(t, "root:/Apps/Joplin/info.json", JoinPath("root:/Apps/Joplin", "info.json"))
	assert.Equal(t, "root:/locks/a.json", JoinPath("root", "locks/a.json"))
	assert.Equal(t, "root:/x", JoinPath("root:/", "x"))
	assert.Equal(t, "root:/Apps", JoinPath("root:/Apps", ""))

	assert.Equal(t, "root:/Apps", ParentPath("root:/Apps/Joplin"))
	assert.Equal(t, "root", ParentPath("root:/Apps"))
	assert.Equal(t, "", ParentPath("root"))

	assert.Equal(t, "Joplin", Basename("root:/Apps/Joplin"))
	assert.Equal(t, "root", Basename("root"))
}

func TestEnsureBasePath(t *testing.T) {
	var created []string
	mkdir := func(_ context.Context, p string) error {
		created = append(created, p)
		return nil
	}

	require.NoError(t, EnsureBasePath(context.Background(), "root:/Apps/Joplin/sync", mkdir))
	assert.Equal(t, []string{"root:/Apps", "root:/Apps/Joplin", "root:/Apps/Joplin/sync"}, created)

	created = nil
	require.NoError(t, EnsureBasePath(context.Background(), "root:/", mkdir))
	require.NoError(t, EnsureBasePath(context.Background(), "root", mkdir))
	assert.Empty(t, created)
}
