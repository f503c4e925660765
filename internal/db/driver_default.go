//go:build !sqlite3_cgo

package db

import (
	// pure Go build, sqlite runs as wasm
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	driverName = "sqlite3"
	driverID   = "ncruces/go-sqlite3"
)
