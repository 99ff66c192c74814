package memory

// The archive uses the cgo sqlite driver in production. Tests open the
// archive with the pure-Go "sqlite" driver instead; see archive_test.go.
import (
	_ "github.com/mattn/go-sqlite3"
)
