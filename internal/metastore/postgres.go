package metastore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rowjay/logfetch/internal/config"
	"github.com/rowjay/logfetch/internal/manifest"
)

const recordColumns = "partition_key, row_key, deployment_id, role, role_instance, source_directory, " +
	"file_time, file_size, complete_file_name, relative_path, container, status, event_tick_count"

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres pages through a manifest table ordered by (partition_key, row_key).
type Postgres struct {
	db       querier
	sql      string
	pageSize int
	close    func()
}

type pgRow struct {
	PartitionKey     string    `db:"partition_key"`
	RowKey           string    `db:"row_key"`
	DeploymentID     string    `db:"deployment_id"`
	Role             string    `db:"role"`
	RoleInstance     string    `db:"role_instance"`
	SourceDirectory  string    `db:"source_directory"`
	FileTime         time.Time `db:"file_time"`
	FileSize         int64     `db:"file_size"`
	CompleteFileName string    `db:"complete_file_name"`
	RelativePath     string    `db:"relative_path"`
	Container        string    `db:"container"`
	Status           string    `db:"status"`
	EventTickCount   int64     `db:"event_tick_count"`
}

type pgCursor struct {
	PartitionKey string `json:"pk"`
	RowKey       string `json:"rk"`
}

func OpenPostgres(ctx context.Context, cfg config.ManifestConfig) (*Postgres, error) {
	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("manifest.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.Postgres.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Postgres.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	p := NewPostgres(pool, cfg.Table, cfg.PageSize)
	p.close = pool.Close
	return p, nil
}

func NewPostgres(db querier, table string, size int) *Postgres {
	return &Postgres{db: db, sql: buildQuery(table), pageSize: pageSize(size)}
}

// buildQuery renders the page query. Names fold to lower case like unquoted SQL
// identifiers. An empty cursor sorts before every key.
func buildQuery(table string) string {
	ident := pgx.Identifier(strings.Split(strings.ToLower(table), ".")).Sanitize()
	return "SELECT " + recordColumns + " FROM " + ident +
		" WHERE partition_key >= $1 AND partition_key < $2" +
		" AND status = $3 AND container = $4" +
		" AND file_time >= $5 AND file_time < $6" +
		" AND (partition_key, row_key) > ($7, $8)" +
		" ORDER BY partition_key, row_key LIMIT $9"
}

func (p *Postgres) Query(ctx context.Context, f manifest.Filter, token string) (manifest.Page, error) {
	var cur pgCursor
	if token != "" {
		if err := decodeToken(token, &cur); err != nil {
			return manifest.Page{}, err
		}
	}
	lo, hi := f.PartitionRange()
	rows, err := p.db.Query(ctx, p.sql, lo, hi, manifest.StatusSucceeded, f.Container, f.From, f.To,
		cur.PartitionKey, cur.RowKey, p.pageSize)
	if err != nil {
		return manifest.Page{}, fmt.Errorf("query manifest: %w", err)
	}
	found, err := pgx.CollectRows(rows, pgx.RowToStructByName[pgRow])
	if err != nil {
		return manifest.Page{}, fmt.Errorf("read manifest rows: %w", err)
	}
	return pgPage(found, p.pageSize)
}

// pgPage converts rows and sets a cursor only when the page came back full.
func pgPage(found []pgRow, size int) (manifest.Page, error) {
	page := manifest.Page{Records: make([]manifest.Record, 0, len(found))}
	for _, r := range found {
		page.Records = append(page.Records, manifest.Record{
			PartitionKey:     r.PartitionKey,
			RowKey:           r.RowKey,
			DeploymentID:     r.DeploymentID,
			Role:             r.Role,
			RoleInstance:     r.RoleInstance,
			SourceDirectory:  r.SourceDirectory,
			FileTime:         r.FileTime.UTC(),
			FileSize:         r.FileSize,
			CompleteFileName: r.CompleteFileName,
			RelativePath:     r.RelativePath,
			Container:        r.Container,
			Status:           r.Status,
			EventTickCount:   r.EventTickCount,
		})
	}
	if len(found) == size && size > 0 {
		last := found[len(found)-1]
		next, err := encodeToken(pgCursor{PartitionKey: last.PartitionKey, RowKey: last.RowKey})
		if err != nil {
			return manifest.Page{}, err
		}
		page.Next = next
	}
	return page, nil
}

func (p *Postgres) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}
