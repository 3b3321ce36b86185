package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "leads", []string{"email", "full_name"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"leads"}, []string{"email", "full_name"}).WillReturnResult(3)

	rows := [][]any{{"a@x.com", "A"}, {"b@x.com", "B"}, {"c@x.com", "C"}}
	n, err := CopyFrom(context.Background(), mock, "leads", []string{"email", "full_name"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"leads"}, []string{"email"}).WillReturnError(fmt.Errorf("copy failed"))

	rows := [][]any{{"a@x.com"}}
	_, err = CopyFrom(context.Background(), mock, "leads", []string{"email"}, rows)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO leads")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_WithinTx(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_leads"}, []string{"email"}).WillReturnResult(2)
	mock.ExpectRollback()

	ctx := context.Background()
	tx, err := mock.Begin(ctx)
	require.NoError(t, err)

	rows := [][]any{{"a@x.com"}, {"b@x.com"}}
	n, err := CopyFrom(ctx, tx, "_tmp_upsert_leads", []string{"email"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, tx.Rollback(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}
