package migration

import (
	"context"
	"fmt"

	"github.com/19Mahmoud19/joplin/internal/driver"
)

// Migration upgrades a sync target to one schema version. It may run again
// after a partial failure, so it must be idempotent or resumable.
type Migration interface {
	Exec(ctx context.Context, api *driver.FileAPI) error
}

// Func adapts a plain function to Migration.
type Func func(ctx context.Context, api *driver.FileAPI) error

func (f Func) Exec(ctx context.Context, api *driver.FileAPI) error {
	return f(ctx, api)
}

// Registry holds migrations indexed by the version they upgrade to. Index 0
// and 1 are never used: a target starts at version 1.
type Registry []Migration

// NewRegistry returns an empty registry whose highest version is latest.
func NewRegistry(latest int) Registry {
	if latest < 1 {
		latest = 1
	}
	return make(Registry, latest+1)
}

// Register sets the migration that upgrades to version v, growing the
// registry when needed.
func (r Registry) Register(v int, m Migration) (Registry, error) {
	if v < 2 {
		return r, fmt.Errorf("migration version must be at least 2, got %d", v)
	}
	if m == nil {
		return r, fmt.Errorf("nil migration for version %d", v)
	}
	for len(r) <= v {
		r = append(r, nil)
	}
	if r[v] != nil {
		return r, fmt.Errorf("migration for version %d already registered", v)
	}
	r[v] = m
	return r, nil
}

// Latest is the highest version the registry can upgrade to.
func (r Registry) Latest() int {
	if len(r) < 2 {
		return 1
	}
	return len(r) - 1
}

func (r Registry) At(v int) Migration {
	if v < 0 || v >= len(r) {
		return nil
	}
	return r[v]
}

// Default is the registry of the sync target format.
func Default() Registry {
	return Registry{nil, nil, Func(migrateV2)}
}

// reserved directories introduced by version 2
var v2Dirs = []string{"locks", "temp", ".resource"}

// migrateV2 creates the reserved directories; Mkdir is idempotent so a rerun
// after a partial failure is safe.
func migrateV2(ctx context.Context, api *driver.FileAPI) error {
	for _, dir := range v2Dirs {
		if err := api.Mkdir(ctx, dir); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
