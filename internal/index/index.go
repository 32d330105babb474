// Package index keeps the POI catalog in DuckDB for name search and ad-hoc
// read-only queries.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"github.com/joeblew999/plat-wayfind/internal/wayfind"
)

// Config locates the database. An empty DataDir keeps it in memory.
type Config struct {
	DataDir    string
	DBName     string
	Extensions []string
}

// Index is a DuckDB-backed POI index.
type Index struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open opens (or creates) the database and loads the configured
// extensions. Extensions that fail to load are logged and skipped.
func Open(cfg Config, log zerolog.Logger) (*Index, error) {
	dsn := ""
	if cfg.DataDir != "" {
		dir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create duckdb directory: %w", err)
		}
		name := cfg.DBName
		if name == "" {
			name = "wayfind"
		}
		dsn = filepath.Join(dir, name+".duckdb")
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	ix := &Index{db: db, log: log.With().Str("component", "index").Logger()}
	for _, ext := range cfg.Extensions {
		if _, err := db.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			ix.log.Warn().Err(err).Str("extension", ext).Msg("duckdb extension not loaded")
		}
	}
	return ix, nil
}

// Close closes the database.
func (ix *Index) Close() error { return ix.db.Close() }

var schema = []string{
	`CREATE OR REPLACE TABLE levels (id VARCHAR PRIMARY KEY, name VARCHAR, position INTEGER, overlay VARCHAR)`,
	`CREATE OR REPLACE TABLE categories (id VARCHAR PRIMARY KEY, name VARCHAR, parent VARCHAR, icon VARCHAR)`,
	`CREATE OR REPLACE TABLE pois (
		fid VARCHAR, name VARCHAR, level VARCHAR, category VARCHAR,
		description VARCHAR, lon DOUBLE, lat DOUBLE
	)`,
}

// Load replaces the indexed catalog.
func (ix *Index) Load(ctx context.Context, cat *wayfind.Catalog, pois []wayfind.POI) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	for i, l := range cat.Levels() {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO levels VALUES (?, ?, ?, ?)`,
			l.ID, l.Name, i, nullString(l.GeoJSONURL)); err != nil {
			return fmt.Errorf("insert level %s: %w", l.ID, err)
		}
	}
	for _, c := range cat.Categories() {
		if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO categories VALUES (?, ?, ?, ?)`,
			c.ID, c.Name, nullString(c.ParentID), nullString(c.IconURL)); err != nil {
			return fmt.Errorf("insert category %s: %w", c.ID, err)
		}
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO pois VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for _, p := range pois {
		var lon, lat sql.NullFloat64
		if p.Located() {
			lon = sql.NullFloat64{Float64: p.Coordinates[0], Valid: true}
			lat = sql.NullFloat64{Float64: p.Coordinates[1], Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, p.FID, p.Name, p.LevelID, p.CategoryID,
			nullString(p.Description), lon, lat); err != nil {
			return fmt.Errorf("insert poi %s: %w", p.FID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	ix.log.Info().Int("pois", len(pois)).Msg("poi index loaded")
	return nil
}

// Query filters a search. Empty fields do not filter.
type Query struct {
	Text     string
	Level    string
	Category string
	Limit    int
}

// Hit is one search result.
type Hit struct {
	wayfind.POI
	LevelName    string `json:"levelName,omitempty"`
	CategoryName string `json:"categoryName,omitempty"`
}

// DefaultLimit caps search results when Query.Limit is zero.
const DefaultLimit = 50

// Search finds POIs whose name contains q.Text, case-insensitively,
// ordered by name.
func (ix *Index) Search(ctx context.Context, q Query) ([]Hit, error) {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	rows, err := ix.db.QueryContext(ctx, `
		SELECT p.fid, p.name, p.level, p.category, coalesce(p.description, ''), p.lon, p.lat,
		       coalesce(l.name, p.level), coalesce(c.name, p.category)
		FROM pois p
		LEFT JOIN levels l ON l.id = p.level
		LEFT JOIN categories c ON c.id = p.category
		WHERE contains(lower(p.name), lower(?))
		  AND (? = '' OR p.level = ?)
		  AND (? = '' OR p.category = ?)
		ORDER BY lower(p.name), p.fid
		LIMIT ?`,
		q.Text, q.Level, q.Level, q.Category, q.Category, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var h Hit
		var lon, lat sql.NullFloat64
		if err := rows.Scan(&h.FID, &h.Name, &h.LevelID, &h.CategoryID, &h.Description,
			&lon, &lat, &h.LevelName, &h.CategoryName); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if lon.Valid && lat.Valid {
			h.Coordinates = &orb.Point{lon.Float64, lat.Float64}
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Tables lists the tables in the database.
func (ix *Index) Tables(ctx context.Context) ([]string, error) {
	rows, err := ix.db.QueryContext(ctx, "SHOW TABLES")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// ErrNotReadOnly is returned for statements that could modify the index.
var ErrNotReadOnly = errors.New("only read-only statements are allowed")

var readOnlyPrefixes = []string{"select", "with", "show", "describe", "summarize", "from", "explain"}

// Result is a generic query result.
type Result struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// MaxRows caps ad-hoc query results.
const MaxRows = 1000

// ReadQuery runs a single read-only statement.
func (ix *Index) ReadQuery(ctx context.Context, query string) (Result, error) {
	q := strings.TrimSpace(query)
	if strings.Contains(strings.TrimSuffix(q, ";"), ";") {
		return Result{}, fmt.Errorf("%w: multiple statements", ErrNotReadOnly)
	}
	lower := strings.ToLower(q)
	ok := false
	for _, p := range readOnlyPrefixes {
		if strings.HasPrefix(lower, p) {
			ok = true
			break
		}
	}
	if !ok {
		return Result{}, ErrNotReadOnly
	}

	rows, err := ix.db.QueryContext(ctx, q)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}
	res := Result{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() && len(res.Rows) < MaxRows {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		res.Rows = append(res.Rows, row)
	}
	return res, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
