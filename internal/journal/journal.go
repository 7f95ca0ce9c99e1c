// Package journal 本地取件记录：每次批量状态提交写一行（只追加）
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Outcome 提交结果
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	// OutcomeUnknown 对话框关闭时请求被取消，registry 可能已经生效
	OutcomeUnknown Outcome = "unknown"
)

// Entry pickup_journal 一行
type Entry struct {
	ID          string
	RequestID   string
	PackageIDs  []string
	RecipientID string
	HasProof    bool
	Outcome     Outcome
	Message     string
	CreatedAt   time.Time
}

// Recorder workflow 依赖的最小接口
type Recorder interface {
	Record(ctx context.Context, e *Entry) error
}

// Noop 未启用 journal 时使用
type Noop struct{}

func (Noop) Record(context.Context, *Entry) error { return nil }

const schema = `
CREATE TABLE IF NOT EXISTS pickup_journal (
	journal_id   UUID PRIMARY KEY,
	request_id   VARCHAR(64) NOT NULL,
	package_ids  TEXT[] NOT NULL,
	recipient_id VARCHAR(64) NOT NULL,
	has_proof    BOOLEAN NOT NULL DEFAULT FALSE,
	outcome      VARCHAR(16) NOT NULL,
	message      TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_pickup_journal_created_at ON pickup_journal (created_at DESC)`

// Repository PostgreSQL 实现
type Repository struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewRepository 创建 journal 仓库
func NewRepository(db *sql.DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureSchema 建表（幂等）
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create pickup_journal: %w", err)
	}
	return nil
}

// Record 追加一行；ID / CreatedAt 为空时自动填写
func (r *Repository) Record(ctx context.Context, e *Entry) error {
	if e == nil {
		return fmt.Errorf("journal entry is nil")
	}
	if len(e.PackageIDs) == 0 {
		return fmt.Errorf("package_ids is required")
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now()
	}

	query := `
		INSERT INTO pickup_journal (
			journal_id, request_id, package_ids, recipient_id, has_proof, outcome, message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.RequestID, pq.Array(e.PackageIDs), e.RecipientID, e.HasProof, string(e.Outcome), e.Message, e.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to record pickup",
			zap.Strings("package_ids", e.PackageIDs),
			zap.String("recipient_id", e.RecipientID),
			zap.Error(err),
		)
		return fmt.Errorf("failed to insert pickup_journal: %w", err)
	}
	return nil
}

// ListRecent 最近 limit 条，按时间倒序
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT journal_id, request_id, package_ids, recipient_id, has_proof, outcome, COALESCE(message, ''), created_at
		FROM pickup_journal
		ORDER BY created_at DESC
		LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pickup_journal: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByPackage 某个包裹出现过的所有提交（排查并发覆盖）
func (r *Repository) ListByPackage(ctx context.Context, packageID string) ([]Entry, error) {
	if packageID == "" {
		return nil, fmt.Errorf("package_id is required")
	}
	query := `
		SELECT journal_id, request_id, package_ids, recipient_id, has_proof, outcome, COALESCE(message, ''), created_at
		FROM pickup_journal
		WHERE $1 = ANY(package_ids)
		ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pickup_journal: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			ids     pq.StringArray
			outcome string
		)
		if err := rows.Scan(&e.ID, &e.RequestID, &ids, &e.RecipientID, &e.HasProof, &outcome, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pickup_journal: %w", err)
		}
		e.PackageIDs = []string(ids)
		e.Outcome = Outcome(outcome)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pickup_journal: %w", err)
	}
	return out, nil
}
