package units

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/progflow/internal/engine"
	"github.com/roach88/progflow/internal/table"
)

// SQLConfig configures a SQLLoader.
type SQLConfig struct {
	DSN      string   `mapstructure:"dsn"`
	Table    string   `mapstructure:"table"`
	Columns  []string `mapstructure:"columns"`
	StepSize int      `mapstructure:"step_size"`
}

// SQLLoader pages through a SQLite table in rowid order, one page of at
// most step size rows per step. NULLs load as NaN, 0 or "" depending on the
// column type.
type SQLLoader struct {
	core   *engine.Core
	cfg    SQLConfig
	db     *sql.DB
	ownsDB bool

	specs  []table.ColumnSpec
	query  string
	out    *table.Table
	lastID int64
	rows   int64
	total  int64
	done   bool
}

// NewSQLLoader creates a loader that opens cfg.DSN with the sqlite3 driver
// on its first step.
func NewSQLLoader(name string, cfg SQLConfig) (*SQLLoader, error) {
	if cfg.DSN == "" {
		return nil, errors.New("sql: dsn is required")
	}
	return newSQLLoader(name, nil, cfg)
}

// NewSQLLoaderDB creates a loader over an existing handle. The caller keeps
// ownership of db.
func NewSQLLoaderDB(name string, db *sql.DB, cfg SQLConfig) (*SQLLoader, error) {
	if db == nil {
		return nil, errors.New("sql: nil database")
	}
	return newSQLLoader(name, db, cfg)
}

func newSQLLoader(name string, db *sql.DB, cfg SQLConfig) (*SQLLoader, error) {
	if cfg.Table == "" {
		return nil, errors.New("sql: table is required")
	}
	if name == "" {
		name = engine.GenerateName("sql")
	}
	l := &SQLLoader{core: engine.NewCore(name, "sql"), cfg: cfg, db: db}
	l.core.DeclareOutput("result", table.KindTable)
	l.core.SetDataInput(true)
	if cfg.StepSize > 0 {
		l.core.SetDefaultStepSize(cfg.StepSize)
	}
	return l, nil
}

func (l *SQLLoader) Core() *engine.Core { return l.core }

// Table returns the loaded table, or nil before the first step.
func (l *SQLLoader) Table() *table.Table { return l.out }

func (l *SQLLoader) Step(ctx context.Context, _ int64, b engine.Budget) (engine.StepResult, error) {
	if l.done {
		return engine.StepResult{State: engine.StateZombie}, nil
	}
	if l.out == nil {
		if err := l.start(ctx); err != nil {
			l.finish()
			return engine.StepResult{}, fmt.Errorf("sql %s: %w", l.core.Name(), err)
		}
	}

	n, err := l.page(ctx, b.StepSize)
	if err != nil {
		l.finish()
		return engine.StepResult{}, fmt.Errorf("sql %s: %w", l.core.Name(), err)
	}
	if n < b.StepSize {
		l.finish()
		return engine.StepResult{State: engine.StateZombie, Steps: n}, nil
	}
	return engine.StepResult{State: engine.StateReady, Steps: n}, nil
}

func (l *SQLLoader) start(ctx context.Context) error {
	if l.db == nil {
		db, err := sql.Open("sqlite3", l.cfg.DSN)
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
		l.db, l.ownsDB = db, true
	}
	specs, err := l.describe(ctx)
	if err != nil {
		return err
	}
	l.specs = specs

	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = quoteIdent(s.Name)
	}
	l.query = fmt.Sprintf(`SELECT rowid, %s FROM %s WHERE rowid > ? ORDER BY rowid LIMIT ?`,
		strings.Join(names, ", "), quoteIdent(l.cfg.Table))

	if err := l.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(l.cfg.Table)),
	).Scan(&l.total); err != nil {
		return fmt.Errorf("count: %w", err)
	}

	t, err := table.New(l.core.Name(), specs...)
	if err != nil {
		return err
	}
	l.out = t
	return l.core.SetOutput("result", t)
}

// describe maps the table's declared column types onto table types using
// SQLite's affinity rules.
func (l *SQLLoader) describe(ctx context.Context) ([]table.ColumnSpec, error) {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(l.cfg.Table)))
	if err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}
	defer rows.Close()

	declared := make(map[string]table.Type)
	var order []string
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("describe: %w", err)
		}
		declared[name] = affinity(typ)
		order = append(order, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("table %q not found", l.cfg.Table)
	}

	if len(l.cfg.Columns) > 0 {
		order = l.cfg.Columns
	}
	specs := make([]table.ColumnSpec, 0, len(order))
	for _, name := range order {
		typ, ok := declared[name]
		if !ok {
			return nil, fmt.Errorf("column %q not in table %q", name, l.cfg.Table)
		}
		specs = append(specs, table.ColumnSpec{Name: name, Type: typ})
	}
	return specs, nil
}

func affinity(declared string) table.Type {
	d := strings.ToUpper(declared)
	switch {
	case strings.Contains(d, "INT"):
		return table.Int64
	case strings.Contains(d, "CHAR"), strings.Contains(d, "CLOB"), strings.Contains(d, "TEXT"):
		return table.String
	default:
		return table.Float64
	}
}

func (l *SQLLoader) page(ctx context.Context, limit int) (int, error) {
	rows, err := l.db.QueryContext(ctx, l.query, l.lastID, limit)
	if err != nil {
		return 0, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols := make([]any, len(l.specs))
	batch := make(table.Batch, len(l.specs))
	for i, s := range l.specs {
		switch s.Type {
		case table.Int64:
			cols[i] = make([]int64, 0, limit)
		case table.String:
			cols[i] = make([]string, 0, limit)
		default:
			cols[i] = make([]float64, 0, limit)
		}
	}

	dest := make([]any, len(l.specs)+1)
	var id int64
	dest[0] = &id
	vals := make([]any, len(l.specs))
	for i, s := range l.specs {
		switch s.Type {
		case table.Int64:
			vals[i] = new(sql.NullInt64)
		case table.String:
			vals[i] = new(sql.NullString)
		default:
			vals[i] = new(sql.NullFloat64)
		}
		dest[i+1] = vals[i]
	}

	n := 0
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return 0, fmt.Errorf("scan: %w", err)
		}
		for i := range l.specs {
			switch v := vals[i].(type) {
			case *sql.NullInt64:
				cols[i] = append(cols[i].([]int64), v.Int64)
			case *sql.NullString:
				cols[i] = append(cols[i].([]string), v.String)
			case *sql.NullFloat64:
				f := v.Float64
				if !v.Valid {
					f = nan
				}
				cols[i] = append(cols[i].([]float64), f)
			}
		}
		l.lastID = id
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("query: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	for i, s := range l.specs {
		batch[s.Name] = cols[i]
	}
	if _, err := l.out.Append(batch); err != nil {
		return 0, err
	}
	l.rows += int64(n)
	return n, nil
}

func (l *SQLLoader) finish() {
	l.done = true
	if l.ownsDB && l.db != nil {
		l.db.Close()
		l.db = nil
	}
}

// Progress implements engine.ProgressReporter.
func (l *SQLLoader) Progress() (int64, int64) {
	return l.rows, max(l.total, l.rows)
}

// RowsIngested implements engine.DataInput.
func (l *SQLLoader) RowsIngested() int64 { return l.rows }

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
