package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTx captures Exec calls and how the transaction ended.
type recordingTx struct {
	pgx.Tx
	execSQL    []string
	execArgs   [][]any
	committed  bool
	rolledBack bool
}

func (t *recordingTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execSQL = append(t.execSQL, sql)
	t.execArgs = append(t.execArgs, args)
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (t *recordingTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *recordingTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type recordingDB struct{ tx *recordingTx }

func (d *recordingDB) Begin(context.Context) (pgx.Tx, error) {
	d.tx = &recordingTx{}
	return d.tx, nil
}

func TestContextRoundTrip(t *testing.T) {
	id := uuid.New()
	ctx := WithID(context.Background(), id)

	got, err := Require(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = Require(context.Background())
	assert.ErrorIs(t, err, ErrRequired)

	_, ok := FromContext(WithID(context.Background(), uuid.Nil))
	assert.False(t, ok, "nil tenant must not count as bound")
}

func TestBeginBindsTenantLocally(t *testing.T) {
	db := &recordingDB{}
	id := uuid.New()

	tx, err := Begin(context.Background(), db, id)
	require.NoError(t, err)
	require.NotNil(t, tx)

	require.Len(t, db.tx.execSQL, 1)
	assert.Contains(t, db.tx.execSQL[0], "set_config('app.current_tenant', $1, true)")
	assert.Equal(t, []any{id.String()}, db.tx.execArgs[0])
}

func TestBeginRejectsNilTenant(t *testing.T) {
	db := &recordingDB{}
	_, err := Begin(context.Background(), db, uuid.Nil)
	assert.ErrorIs(t, err, ErrRequired)
	assert.Nil(t, db.tx, "no transaction should be opened")
}

func TestInTxCommitsOnSuccess(t *testing.T) {
	db := &recordingDB{}
	err := InTx(context.Background(), db, uuid.New(), func(pgx.Tx) error { return nil })
	require.NoError(t, err)
	assert.True(t, db.tx.committed)
	assert.False(t, db.tx.rolledBack)
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := &recordingDB{}
	boom := errors.New("boom")
	err := InTx(context.Background(), db, uuid.New(), func(pgx.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, db.tx.committed)
	assert.True(t, db.tx.rolledBack)
}
