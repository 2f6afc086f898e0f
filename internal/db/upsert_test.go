package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "eval_cache",
		Columns:      []string{"cache_key", "entry_json"},
		ConflictKeys: []string{"cache_key"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "eval_cache",
		ConflictKeys: []string{"cache_key"},
	}, [][]any{{"k", "{}"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "eval_cache",
		Columns: []string{"cache_key", "entry_json"},
	}, [][]any{{"k", "{}"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_StagesAndMerges(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_eval_cache"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_eval_cache"}, []string{"cache_key", "entry_json", "updated_at"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "eval_cache" .+ ON CONFLICT \("cache_key"\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	rows := [][]any{
		{"k1", `{"score":80}`, "2026-08-01T00:00:00Z"},
		{"k2", `{"score":55}`, "2026-08-01T00:00:00Z"},
	}
	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "eval_cache",
		Columns:      []string{"cache_key", "entry_json", "updated_at"},
		ConflictKeys: []string{"cache_key"},
	}, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"cache_key", "entry_json", "updated_at"})
	assert.Equal(t, `"cache_key", "entry_json", "updated_at"`, result)
}
