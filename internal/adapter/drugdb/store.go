package drugdb

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chih3b/SanteConnect/internal/domain"
)

// Medication is one row of the local essential medications list.
type Medication struct {
	Name       string   `json:"name"`
	Generic    string   `json:"generic"`
	Class      string   `json:"class"`
	CommonUses []string `json:"common_uses"`
	Usage      string   `json:"usage"`
	Dosage     string   `json:"dosage"`
	Forme      string   `json:"forme"`
	ListedNEML bool     `json:"listed_in_tunisia_neml"`
	BrandNames []string `json:"brand_names"`
}

// Match is a search hit with its similarity score.
type Match struct {
	Medication
	Score float64
}

// Store is the SQLite-backed local medication list.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the medication database at path and runs
// the schema migration. Use ":memory:" for a throwaway store.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open medication db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate medication db: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS medications (
			name        TEXT PRIMARY KEY,
			generic     TEXT NOT NULL DEFAULT '',
			class       TEXT NOT NULL DEFAULT '',
			common_uses TEXT NOT NULL DEFAULT '[]',
			usage       TEXT NOT NULL DEFAULT '',
			dosage      TEXT NOT NULL DEFAULT '',
			forme       TEXT NOT NULL DEFAULT '',
			listed_neml INTEGER NOT NULL DEFAULT 0,
			brand_names TEXT NOT NULL DEFAULT '[]',
			updated_at  TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Count returns the number of stored medications.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM medications").Scan(&n)
	return n, err
}

// Upsert inserts or replaces medications in one transaction and returns how
// many were written. Rows without a name are skipped.
func (s *Store) Upsert(ctx context.Context, meds []Medication) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO medications
			(name, generic, class, common_uses, usage, dosage, forme, listed_neml, brand_names, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	n := 0
	for _, m := range meds {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			continue
		}
		uses, _ := json.Marshal(nonNil(m.CommonUses))
		brands, _ := json.Marshal(nonNil(m.BrandNames))
		if _, err := stmt.ExecContext(ctx, name, m.Generic, m.Class, string(uses), m.Usage,
			m.Dosage, m.Forme, m.ListedNEML, string(brands), now); err != nil {
			return n, fmt.Errorf("insert %q: %w", name, err)
		}
		n++
	}
	return n, tx.Commit()
}

// Search scores every stored medication against name (and its generic
// name) and returns the best topK matches, highest score first.
func (s *Store) Search(ctx context.Context, name string, topK int) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, generic, class, common_uses, usage, dosage, forme, listed_neml, brand_names FROM medications")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Medication
		var uses, brands string
		if err := rows.Scan(&m.Name, &m.Generic, &m.Class, &uses, &m.Usage,
			&m.Dosage, &m.Forme, &m.ListedNEML, &brands); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(uses), &m.CommonUses)
		_ = json.Unmarshal([]byte(brands), &m.BrandNames)

		score := similarity(name, m.Name)
		if m.Generic != "" {
			score = max(score, similarity(name, m.Generic))
		}
		matches = append(matches, Match{Medication: m, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), strings.Compare(a.Name, b.Name))
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// LoadSeedFile reads a JSON array of medications.
func LoadSeedFile(path string) ([]Medication, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var meds []Medication
	if err := json.Unmarshal(data, &meds); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return meds, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
