package crm

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// querier is the subset of *pgxpool.Pool used by PostgresJobSource.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresJobSource reads a synced mirror of CRM jobs from the crm_jobs table.
type PostgresJobSource struct {
	db     querier
	logger *zap.Logger
}

type PostgresConfig struct {
	DSN         string
	MaxConns    int32
	DialTimeout time.Duration
}

// OpenPostgresJobSource connects a pgx pool. The caller owns the returned pool.
func OpenPostgresJobSource(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*PostgresJobSource, *pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("parse crm dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "callscope"

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, nil, fmt.Errorf("connect crm mirror: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping crm mirror: %w", err)
	}
	return NewPostgresJobSource(pool, logger), pool, nil
}

func NewPostgresJobSource(db querier, logger *zap.Logger) *PostgresJobSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresJobSource{db: db, logger: logger}
}

const jobsBetweenSQL = `
	SELECT job_id, COALESCE(client_name, ''), COALESCE(client_id, ''), created_at
	FROM crm_jobs
	WHERE created_at >= $1 AND created_at <= $2
	ORDER BY created_at, job_id`

func (s *PostgresJobSource) JobsCreatedBetween(ctx context.Context, from, to time.Time) ([]Job, error) {
	rows, err := s.db.Query(ctx, jobsBetweenSQL, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query crm jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]Job, 0)
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.ClientName, &j.ClientID, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan crm job: %w", err)
		}
		j.CreatedAt = j.CreatedAt.UTC()
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crm jobs: %w", err)
	}
	s.logger.Debug("Loaded CRM jobs from mirror", zap.Int("count", len(jobs)))
	return jobs, nil
}
