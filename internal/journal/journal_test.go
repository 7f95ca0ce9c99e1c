package journal

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockJournal(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Repository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	repo := NewRepository(db, zap.NewNop())
	return db, mock, repo
}

// containsAll 匹配 pq.Array 序列化后的 text[] 参数
type containsAll []string

func (c containsAll) Match(v driver.Value) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	for _, id := range c {
		if !strings.Contains(s, id) {
			return false
		}
	}
	return true
}

var journalColumns = []string{
	"journal_id", "request_id", "package_ids", "recipient_id", "has_proof", "outcome", "message", "created_at",
}

func TestRecord_Success(t *testing.T) {
	db, mock, repo := setupMockJournal(t)
	defer db.Close()

	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return at }

	mock.ExpectExec(`INSERT INTO pickup_journal`).
		WithArgs(sqlmock.AnyArg(), "req-1", containsAll{"pkg_1", "pkg_2"}, "rec_9", true, "success", "", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := &Entry{RequestID: "req-1", PackageIDs: []string{"pkg_1", "pkg_2"}, RecipientID: "rec_9", HasProof: true, Outcome: OutcomeSuccess}
	require.NoError(t, repo.Record(context.Background(), e))
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, at, e.CreatedAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_RequiresPackages(t *testing.T) {
	db, mock, repo := setupMockJournal(t)
	defer db.Close()

	err := repo.Record(context.Background(), &Entry{RecipientID: "rec_9"})
	assert.Error(t, err)
	assert.Error(t, repo.Record(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_DBError(t *testing.T) {
	db, mock, repo := setupMockJournal(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO pickup_journal`).WillReturnError(errors.New("connection refused"))

	err := repo.Record(context.Background(), &Entry{PackageIDs: []string{"pkg_1"}, RecipientID: "rec_9", Outcome: OutcomeFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecent(t *testing.T) {
	db, mock, repo := setupMockJournal(t)
	defer db.Close()

	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(journalColumns).
		AddRow("j2", "req-2", "{pkg_3}", "rec_1", false, "failed", "failed update status", at.Add(time.Minute)).
		AddRow("j1", "req-1", "{pkg_1,pkg_2}", "rec_9", true, "success", "", at)

	mock.ExpectQuery(`SELECT (.+) FROM pickup_journal`).WithArgs(20).WillReturnRows(rows)

	entries, err := repo.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "j2", entries[0].ID)
	assert.Equal(t, OutcomeFailed, entries[0].Outcome)
	assert.Equal(t, []string{"pkg_1", "pkg_2"}, entries[1].PackageIDs)
	assert.True(t, entries[1].HasProof)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListByPackage(t *testing.T) {
	db, mock, repo := setupMockJournal(t)
	defer db.Close()

	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(journalColumns).
		AddRow("j1", "req-1", "{pkg_1,pkg_2}", "rec_9", true, "success", "", at)
	mock.ExpectQuery(`ANY\(package_ids\)`).WithArgs("pkg_1").WillReturnRows(rows)

	entries, err := repo.ListByPackage(context.Background(), "pkg_1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "rec_9", entries[0].RecipientID)

	_, err = repo.ListByPackage(context.Background(), "")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock, repo := setupMockJournal(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS pickup_journal`).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, repo.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
