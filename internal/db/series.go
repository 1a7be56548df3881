package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/iancoleman/strcase"

	"github.com/banshee-data/ethotrack/internal/observation"
)

// ErrRunExists is returned by WriteRun when the store already holds the
// metadata of an earlier session.
var ErrRunExists = errors.New("store already holds a run")

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ROIRecord is one row of roi_map.
type ROIRecord struct {
	Idx     int           `db:"roi_idx"`
	Value   sql.NullInt64 `db:"roi_value"`
	X       int           `db:"x"`
	Y       int           `db:"y"`
	W       int           `db:"w"`
	H       int           `db:"h"`
	Polygon string        `db:"polygon"`
}

// VarRecord is one row of var_map: how a Variable header is stored.
type VarRecord struct {
	Column         string `db:"var_name"`
	Header         string `db:"header"`
	SQLType        string `db:"sql_type"`
	FunctionalType string `db:"functional_type"`
}

// Record is one series row. ID is assigned by the writer and is the
// idempotency key: re-inserting a committed ID is a no-op.
type Record struct {
	ID    int64
	T     int64
	Point *observation.DataPoint
}

type Snapshot struct {
	T   int64
	PNG []byte
}

// Batch is everything committed by one flush.
type Batch struct {
	Series   map[int][]Record
	Snapshot *Snapshot
}

func (b Batch) Len() int {
	n := 0
	for _, recs := range b.Series {
		n += len(recs)
	}
	return n
}

// SeriesRow is a stored record read back, keyed by column name.
type SeriesRow struct {
	ID     int64
	T      int64
	Values map[string]int64
}

// TableName is the series table for the ROI with the given idx.
func TableName(idx int) string { return fmt.Sprintf("roi_%d", idx) }

// ColumnName maps a Variable header to its column. Headers that are
// already lower snake case are kept verbatim.
func ColumnName(header string) (string, error) {
	c := header
	if !identRe.MatchString(c) {
		c = strcase.ToSnake(header)
	}
	if !identRe.MatchString(c) {
		return "", fmt.Errorf("header %q does not map to a valid column (%q)", header, c)
	}
	if c == "id" || c == "t" {
		return "", fmt.Errorf("header %q collides with reserved column %q", header, c)
	}
	return c, nil
}

// WriteRun records the session metadata and ROI map, and creates one
// series table per ROI with a column for every variable in vars. The
// schema is fixed from here on. It fails with ErrRunExists if called twice
// against the same store.
func (db *DB) WriteRun(ctx context.Context, meta map[string]string, rois []ROIRecord, vars []observation.Variable) error {
	cols, err := schemaColumns(vars)
	if err != nil {
		return err
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM metadata`).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return ErrRunExists
		}
		keys := make([]string, 0, len(meta))
		for k := range meta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, `INSERT INTO metadata (field, value) VALUES (?, ?)`, k, meta[k]); err != nil {
				return fmt.Errorf("insert metadata %s: %w", k, err)
			}
		}
		for _, c := range cols {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO var_map (var_name, header, sql_type, functional_type) VALUES (?, ?, 'INTEGER', ?)`,
				c.name, c.v.Header, string(c.v.Type)); err != nil {
				return fmt.Errorf("var_map %s: %w", c.name, err)
			}
		}
		now := time.Now().Unix()
		for _, r := range rois {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO roi_map (roi_idx, roi_value, x, y, w, h, polygon) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				r.Idx, r.Value, r.X, r.Y, r.W, r.H, r.Polygon); err != nil {
				return fmt.Errorf("insert roi %d: %w", r.Idx, err)
			}
			if err := createSeries(ctx, tx, r.Idx, cols, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func createSeries(ctx context.Context, tx *sql.Tx, idx int, cols []column, now int64) error {
	table := TableName(idx)
	defs := []string{"id INTEGER PRIMARY KEY", "t INTEGER NOT NULL"}
	for _, c := range cols {
		defs = append(defs, c.name+" INTEGER")
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %s (%s)`, table, strings.Join(defs, ", "))); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX %s_t ON %s (t)`, table, table)); err != nil {
		return fmt.Errorf("index %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO series_map (roi_idx, table_name, created_at) VALUES (?, ?, ?)`,
		idx, table, now); err != nil {
		return fmt.Errorf("series_map %d: %w", idx, err)
	}
	return nil
}

// InsertBatch commits every record and the optional snapshot in one
// transaction. Every record must belong to a ROI written by WriteRun and
// carry only headers from its schema; otherwise nothing is committed.
func (db *DB) InsertBatch(ctx context.Context, b Batch) error {
	idxs := make([]int, 0, len(b.Series))
	for idx, recs := range b.Series {
		if len(recs) > 0 {
			idxs = append(idxs, idx)
		}
	}
	sort.Ints(idxs)
	if len(idxs) == 0 && b.Snapshot == nil {
		return nil
	}

	return db.withTx(ctx, func(tx *sql.Tx) error {
		for _, idx := range idxs {
			if err := insertSeries(ctx, tx, idx, b.Series[idx]); err != nil {
				return fmt.Errorf("roi %d: %w", idx, err)
			}
		}
		if s := b.Snapshot; s != nil {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO img_snapshots (t, img) VALUES (?, ?)`, s.T, s.PNG); err != nil {
				return fmt.Errorf("insert snapshot: %w", err)
			}
		}
		return nil
	})
}

type column struct {
	name string
	v    observation.Variable
}

// schemaColumns maps vars to distinct column names, in order.
func schemaColumns(vars []observation.Variable) ([]column, error) {
	cols := make([]column, 0, len(vars))
	byName := make(map[string]string, len(vars))
	for _, v := range vars {
		name, err := ColumnName(v.Header)
		if err != nil {
			return nil, err
		}
		if prev, ok := byName[name]; ok {
			return nil, fmt.Errorf("headers %q and %q both map to column %q", prev, v.Header, name)
		}
		byName[name] = v.Header
		cols = append(cols, column{name: name, v: v})
	}
	return cols, nil
}

// seriesColumns lists the columns of an existing series table, id and t
// excluded.
func seriesColumns(ctx context.Context, tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols := make(map[string]bool)
	found := false
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		found = true
		if name != "id" && name != "t" {
			cols[name] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("no series table %s", table)
	}
	return cols, nil
}

func insertSeries(ctx context.Context, tx *sql.Tx, idx int, recs []Record) error {
	table := TableName(idx)
	known, err := seriesColumns(ctx, tx, table)
	if err != nil {
		return err
	}

	// Columns actually present in recs, first-seen order.
	var cols []column
	byName := make(map[string]string)
	for _, r := range recs {
		for _, v := range r.Point.Variables() {
			name, err := ColumnName(v.Header)
			if err != nil {
				return err
			}
			if prev, ok := byName[name]; ok {
				if prev != v.Header {
					return fmt.Errorf("headers %q and %q both map to column %q", prev, v.Header, name)
				}
				continue
			}
			if !known[name] {
				return fmt.Errorf("header %q is not in the schema of %s", v.Header, table)
			}
			byName[name] = v.Header
			cols = append(cols, column{name: name, v: v})
		}
	}

	names := []string{"id", "t"}
	for _, c := range cols {
		names = append(names, c.name)
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT OR IGNORE INTO %s (%s) VALUES (%s)`, table, strings.Join(names, ", "), marks))
	if err != nil {
		return err
	}
	defer stmt.Close()

	args := make([]any, len(names))
	for _, r := range recs {
		args[0], args[1] = r.ID, r.T
		for i, c := range cols {
			if v, ok := r.Point.Get(c.v.Header); ok {
				args[i+2] = v.Value
			} else {
				args[i+2] = nil
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert record %d: %w", r.ID, err)
		}
	}
	return nil
}

// Metadata returns the run metadata as field -> value.
func (db *DB) Metadata(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		Field string `db:"field"`
		Value string `db:"value"`
	}
	if err := db.x.SelectContext(ctx, &rows, `SELECT field, value FROM metadata`); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Field] = r.Value
	}
	return out, nil
}

func (db *DB) ROIMap(ctx context.Context) ([]ROIRecord, error) {
	var out []ROIRecord
	err := db.x.SelectContext(ctx, &out,
		`SELECT roi_idx, roi_value, x, y, w, h, polygon FROM roi_map ORDER BY roi_idx`)
	return out, err
}

func (db *DB) VarMap(ctx context.Context) ([]VarRecord, error) {
	var out []VarRecord
	err := db.x.SelectContext(ctx, &out,
		`SELECT var_name, header, sql_type, functional_type FROM var_map ORDER BY var_name`)
	return out, err
}

// SeriesIndices lists the ROI idx of every series table.
func (db *DB) SeriesIndices(ctx context.Context) ([]int, error) {
	var out []int
	err := db.x.SelectContext(ctx, &out, `SELECT roi_idx FROM series_map ORDER BY roi_idx`)
	return out, err
}

// Series reads back every record of one ROI in id order. Unknown ROIs
// yield nil; a ROI that never produced a record yields an empty slice.
func (db *DB) Series(ctx context.Context, idx int) ([]SeriesRow, error) {
	var n int
	if err := db.x.GetContext(ctx, &n, `SELECT COUNT(*) FROM series_map WHERE roi_idx = ?`, idx); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	rows, err := db.x.QueryxContext(ctx, fmt.Sprintf(`SELECT * FROM %s ORDER BY id`, TableName(idx)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []SeriesRow{}
	for rows.Next() {
		m := make(map[string]interface{})
		if err := rows.MapScan(m); err != nil {
			return nil, err
		}
		row := SeriesRow{Values: make(map[string]int64, len(m))}
		for k, raw := range m {
			if raw == nil {
				continue
			}
			v, err := toInt64(raw)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", TableName(idx), k, err)
			}
			switch k {
			case "id":
				row.ID = v
			case "t":
				row.T = v
			default:
				row.Values[k] = v
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func toInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
}

// SnapshotTimes lists the timestamps of stored snapshots, oldest first.
func (db *DB) SnapshotTimes(ctx context.Context) ([]int64, error) {
	var out []int64
	err := db.x.SelectContext(ctx, &out, `SELECT t FROM img_snapshots ORDER BY t`)
	return out, err
}

// Snapshot returns the PNG stored at t.
func (db *DB) Snapshot(ctx context.Context, t int64) ([]byte, error) {
	var img []byte
	if err := db.x.GetContext(ctx, &img, `SELECT img FROM img_snapshots WHERE t = ?`, t); err != nil {
		return nil, err
	}
	return img, nil
}
