package export

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/xerrors"

	"github.com/vulnbuilder/vuln-builder/log"
	"github.com/vulnbuilder/vuln-builder/types"
)

const defaultTable = "vulnerabilities"

// DBPool is the subset of *pgxpool.Pool the sink uses.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Postgres inserts records into a table keyed by id, one table per group.
// Conflicting ids are ignored.
type Postgres struct {
	pool   DBPool
	table  string
	insert string
}

func NewPostgres(ctx context.Context, opts Options) (Sink, error) {
	pool := opts.Pool
	if pool == nil {
		if opts.DSN == "" {
			return nil, xerrors.New("postgres export requires a dsn")
		}
		p, err := pgxpool.New(ctx, opts.DSN)
		if err != nil {
			return nil, xerrors.Errorf("failed to create connection pool: %w", err)
		}
		pool = p
	}
	table := TableName(opts.Table, opts.Group)

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, xerrors.Errorf("failed to ping database: %w", err)
	}

	p := &Postgres{
		pool:   pool,
		table:  pgx.Identifier{table}.Sanitize(),
		insert: insertSQL(pgx.Identifier{table}.Sanitize()),
	}
	if _, err := pool.Exec(ctx, p.createSQL()); err != nil {
		pool.Close()
		return nil, xerrors.Errorf("failed to create table %s: %w", table, err)
	}
	return p, nil
}

// TableName returns the table a group is written to: base, or
// "<base>_<group>" when a group is set.
func TableName(base, group string) string {
	if base == "" {
		base = defaultTable
	}
	if group = strings.TrimSpace(group); group == "" {
		return base
	}
	return base + "_" + group
}

func (p *Postgres) createSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    description TEXT NOT NULL,
    vendor TEXT NOT NULL,
    cwe_category TEXT,
    cwe_explanation TEXT,
    cwe_name TEXT,
    cause TEXT,
    impact TEXT,
    published TIMESTAMPTZ,
    cvss_score DOUBLE PRECISION,
    severity TEXT,
    source TEXT NOT NULL,
    description_without_punct TEXT,
    description_normalized TEXT,
    explanation TEXT,
    provider TEXT,
    run_id TEXT
)`, p.table)
}

func insertSQL(table string) string {
	placeholders := make([]string, len(Columns))
	for i := range Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id) DO NOTHING",
		table, strings.Join(Columns, ", "), strings.Join(placeholders, ", "))
}

func (p *Postgres) Export(ctx context.Context, records []types.EnrichedRecord) (int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, xerrors.Errorf("failed to begin transaction: %w", err)
	}

	written := 0
	for _, r := range records {
		tag, err := tx.Exec(ctx, p.insert,
			r.ID, r.Description, r.Vendor, r.CWECategory, r.CWEExplanation, r.CWEName,
			r.Cause, r.Impact, r.Published, r.CVSSScore, r.Severity, r.Source,
			r.DescriptionWithoutPunct, r.DescriptionNormalized, r.Explanation,
			r.Provider, r.RunID,
		)
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Logger.Errorw("Failed to rollback transaction", "error", rbErr)
			}
			return 0, xerrors.Errorf("failed to insert %s: %w", r.ID, err)
		}
		written += int(tag.RowsAffected())
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, xerrors.Errorf("failed to commit transaction: %w", err)
	}
	return written, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
