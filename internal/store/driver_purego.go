//go:build !sqlite_cgo

package store

// Pure Go build, the default. No C compiler is needed and FTS5 is always
// available.
//
//	CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver the store opens.
	DriverName = "sqlite"

	// BuildMode describes the current build configuration.
	BuildMode = "purego"
)

func dsn(path string) string {
	if path == ":memory:" {
		return ":memory:?_pragma=foreign_keys(ON)"
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
}
