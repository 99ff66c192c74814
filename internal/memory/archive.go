package memory

import (
	"bytes"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"maestro/internal/logging"
	"maestro/internal/types"
)

// Archive is the durable SQLite store behind PatternMemory. Patterns are
// stored as JSON rows plus, when the sqlite-vec extension is loaded, a
// parallel vec0 table for similarity search over the full history rather
// than just the in-memory window.
type Archive struct {
	db     *sql.DB
	hasVec bool
}

// OpenArchive opens (creating if needed) the archive at path. driver
// selects the database/sql driver name: "sqlite3" in production, the
// pure-Go "sqlite" in tests.
func OpenArchive(driver, path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			logging.Get(logging.CategoryMemory).Warn("pragma failed (%s): %v", p, err)
		}
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	a.hasVec = a.detectVec()
	if a.hasVec {
		if err := a.createVecTable(); err != nil {
			logging.Get(logging.CategoryMemory).Warn("vec table unavailable, similarity search falls back to scan: %v", err)
			a.hasVec = false
		}
	}

	logging.Memory("archive open at %s (vec=%v)", path, a.hasVec)
	return a, nil
}

func (a *Archive) migrate() error {
	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS patterns (
			id TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL,
			project_id TEXT NOT NULL DEFAULT '',
			intent TEXT NOT NULL,
			domain TEXT NOT NULL,
			success INTEGER NOT NULL,
			payload TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_patterns_timestamp ON patterns(timestamp);
		CREATE INDEX IF NOT EXISTS idx_patterns_project ON patterns(project_id, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("migrate archive: %w", err)
	}
	return nil
}

// detectVec probes for the sqlite-vec extension by creating a throwaway
// virtual table. Absence is normal on builds without the sqlite_vec tag.
func (a *Archive) detectVec() bool {
	_, err := a.db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])`)
	if err != nil {
		logging.MemoryDebug("sqlite-vec not available: %v", err)
		return false
	}
	a.db.Exec(`DROP TABLE IF EXISTS vec_probe`)
	return true
}

func (a *Archive) createVecTable() error {
	_, err := a.db.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_patterns USING vec0(embedding float[%d], pattern_id TEXT)`,
		FeatureDims))
	return err
}

// InsertPattern upserts one pattern row and, when vec is available, its
// feature vector. A vec insert failure is non-fatal.
func (a *Archive) InsertPattern(p *types.ExecutionPattern) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pattern %s: %w", p.ID, err)
	}

	success := 0
	if p.Success {
		success = 1
	}
	_, err = a.db.Exec(`
		INSERT OR REPLACE INTO patterns (id, timestamp, project_id, intent, domain, success, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Timestamp.UnixMilli(), p.ProjectContext.ProjectID,
		string(p.ObjectiveType), string(p.Domain), success, string(payload))
	if err != nil {
		return fmt.Errorf("insert pattern %s: %w", p.ID, err)
	}

	if a.hasVec {
		blob := encodeVectorBlob(FeatureVector(p))
		if _, err := a.db.Exec(
			`INSERT OR REPLACE INTO vec_patterns (rowid, embedding, pattern_id)
			 VALUES ((SELECT rowid FROM patterns WHERE id = ?), ?, ?)`,
			p.ID, blob, p.ID); err != nil {
			logging.MemoryDebug("vec insert failed for %s: %v", p.ID, err)
		}
	}
	return nil
}

// LoadWindow returns all patterns at or after since, oldest first.
func (a *Archive) LoadWindow(since time.Time) ([]types.ExecutionPattern, error) {
	rows, err := a.db.Query(
		`SELECT payload FROM patterns WHERE timestamp >= ? ORDER BY timestamp ASC`,
		since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("load window: %w", err)
	}
	defer rows.Close()

	var out []types.ExecutionPattern
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var p types.ExecutionPattern
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			logging.Get(logging.CategoryMemory).Warn("skipping corrupt archived pattern: %v", err)
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SearchSimilar finds archived patterns near the query vector across the
// full history, not just the live window. Uses the vec0 index when
// present and falls back to a full cosine scan otherwise.
func (a *Archive) SearchSimilar(query []float32, topK int) ([]PatternMatch, error) {
	if topK <= 0 {
		topK = 5
	}
	if a.hasVec {
		matches, err := a.searchVec(query, topK)
		if err == nil {
			return matches, nil
		}
		logging.MemoryDebug("vec search failed, falling back to scan: %v", err)
	}
	return a.searchScan(query, topK)
}

func (a *Archive) searchVec(query []float32, topK int) ([]PatternMatch, error) {
	rows, err := a.db.Query(`
		SELECT p.payload, vec_distance_cosine(vp.embedding, ?) AS distance
		FROM vec_patterns vp
		JOIN patterns p ON p.id = vp.pattern_id
		ORDER BY distance ASC
		LIMIT ?`,
		encodeVectorBlob(query), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []PatternMatch
	for rows.Next() {
		var payload string
		var distance float64
		if err := rows.Scan(&payload, &distance); err != nil {
			continue
		}
		var p types.ExecutionPattern
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			continue
		}
		matches = append(matches, PatternMatch{Pattern: p, Similarity: 1.0 - distance})
	}
	return matches, rows.Err()
}

func (a *Archive) searchScan(query []float32, topK int) ([]PatternMatch, error) {
	rows, err := a.db.Query(`SELECT payload FROM patterns`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []PatternMatch
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			continue
		}
		var p types.ExecutionPattern
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			continue
		}
		sim := CosineSimilarity(query, FeatureVector(&p))
		matches = append(matches, PatternMatch{Pattern: p, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// partial selection: keep the best topK
	for i := 0; i < len(matches); i++ {
		for j := i + 1; j < len(matches); j++ {
			if matches[j].Similarity > matches[i].Similarity {
				matches[i], matches[j] = matches[j], matches[i]
			}
		}
		if i+1 >= topK {
			break
		}
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Count returns the total archived pattern count.
func (a *Archive) Count() (int, error) {
	var n int
	err := a.db.QueryRow(`SELECT COUNT(*) FROM patterns`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// encodeVectorBlob serializes a float32 vector in the little-endian
// layout sqlite-vec expects.
func encodeVectorBlob(vec []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}
