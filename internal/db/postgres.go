package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rawblock/mule-engine/internal/audit"
)

// schemaSQL is compiled into the binary so schema init works from any
// working directory.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the durable SAR audit log
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(ctx context.Context, connStr string, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	logger.Info("connected to PostgreSQL audit store")
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping reports whether the database is reachable
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InitSchema executes the embedded schema.sql DDL statements
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	s.logger.Info("SAR audit schema initialized")
	return nil
}

const insertSubmissionSQL = `
	INSERT INTO sar_submissions (reference_id, ring_id, report_content, analyst_notes, submitted_at)
	VALUES ($1, $2, $3, $4, $5);
`

// Append records a submission. It implements audit.Log.
func (s *PostgresStore) Append(ctx context.Context, sub audit.Submission) error {
	_, err := s.pool.Exec(ctx, insertSubmissionSQL,
		sub.ReferenceID,
		sub.RingID,
		sub.ReportContent,
		sub.AnalystNotes,
		sub.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sar submission: %w", err)
	}
	return nil
}

const selectSubmissionsSQL = `
	SELECT reference_id, ring_id, report_content, analyst_notes, submitted_at
	FROM sar_submissions
	WHERE ring_id = $1
	ORDER BY id DESC
	LIMIT $2;
`

// SubmissionsForRing returns up to limit submissions for a ring, newest first
func (s *PostgresStore) SubmissionsForRing(ctx context.Context, ringID string, limit int) ([]audit.Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, selectSubmissionsSQL, ringID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sar submissions: %w", err)
	}
	defer rows.Close()

	var out []audit.Submission
	for rows.Next() {
		var sub audit.Submission
		if err := rows.Scan(&sub.ReferenceID, &sub.RingID, &sub.ReportContent, &sub.AnalystNotes, &sub.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sar submission: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
