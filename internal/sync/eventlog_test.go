package syncx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-grades/internal/db"
)

type recordingExecer struct{ queries []string }

func (r *recordingExecer) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	r.queries = append(r.queries, query)
	return nil, nil
}

func TestAppendTx_PostgresTakesCommitOrderLock(t *testing.T) {
	ex := &recordingExecer{}
	repo := NewEventRepo(nil).WithDriver("postgres")
	require.NoError(t, repo.AppendTx(context.Background(), ex, Event{Type: TypeGradeChangeRecorded, Key: "o/p", DataJSON: "{}"}))
	require.Len(t, ex.queries, 2)
	assert.Contains(t, ex.queries[0], "pg_advisory_xact_lock")
	assert.Contains(t, ex.queries[1], "INSERT INTO event_log")

	ex = &recordingExecer{}
	repo = NewEventRepo(nil).WithDriver("sqlite")
	require.NoError(t, repo.AppendTx(context.Background(), ex, Event{Type: TypeGradeChangeRecorded, Key: "o/p", DataJSON: "{}"}))
	require.Len(t, ex.queries, 1)
}

func TestSince_Pages(t *testing.T) {
	ctx := context.Background()
	dbh, err := db.Open(ctx, db.DriverSQLite, "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbh.Close() })
	repo := NewEventRepo(dbh).WithSite("site-a").WithDriver("sqlite")

	for _, k := range []string{"o/p1", "o/p2", "o/p3"} {
		require.NoError(t, repo.AppendJSON(ctx, dbh, TypeGradeChangeRecorded, k, map[string]string{"key": k}))
	}

	page, err := repo.Since(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "o/p1", page[0].Key)
	assert.Equal(t, "site-a", page[0].SiteID)
	assert.JSONEq(t, `{"key":"o/p1"}`, page[0].DataJSON)

	rest, err := repo.Since(ctx, page[1].Seq, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "o/p3", rest[0].Key)
}
