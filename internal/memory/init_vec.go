//go:build sqlite_vec && cgo

package memory

// Registers the sqlite-vec extension with every sqlite3 connection.
// Built only with -tags sqlite_vec; without it the archive detects the
// missing vec0 module and falls back to cosine scans.
import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	vec.Auto()
}
