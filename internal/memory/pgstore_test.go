package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PgStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPgStore(mock, nil), mock
}

func TestPgStore_Add(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO episodic_memory").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := store.Add(context.Background(), "AAPL long worked out", "portfolio_manager", map[string]string{"date": "2024-01-02"})
	require.NoError(t, err)

	_, err = uuid.Parse(id)
	assert.NoError(t, err, "returned id should be a uuid")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_Search(t *testing.T) {
	store, mock := newMockStore(t)

	recID := uuid.New()
	rows := pgxmock.NewRows([]string{"id", "user_id", "content", "metadata", "created_at"}).
		AddRow(recID, "portfolio_manager", "AAPL long worked out", []byte(`{"date":"2024-01-02"}`), time.Now())

	mock.ExpectQuery("SELECT id, user_id, content, metadata, created_at").
		WithArgs(pgxmock.AnyArg(), "portfolio_manager", 3).
		WillReturnRows(rows)

	got, err := store.Search(context.Background(), "AAPL decision", "portfolio_manager", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, recID.String(), got[0].ID)
	assert.Equal(t, "2024-01-02", got[0].Metadata["date"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_UpdateNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE episodic_memory").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.Update(context.Background(), uuid.NewString(), "revised", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_Delete(t *testing.T) {
	store, mock := newMockStore(t)

	id := uuid.New()
	mock.ExpectExec("DELETE FROM episodic_memory").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.Delete(context.Background(), id.String()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgStore_DeleteInvalidID(t *testing.T) {
	store, _ := newMockStore(t)
	err := store.Delete(context.Background(), "not-a-uuid")
	assert.Error(t, err)
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := HashEmbedder{}

	a, err := e.Embed(context.Background(), "bullish momentum on AAPL")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "bullish momentum on AAPL")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, EmbeddingDim)

	// Unit norm
	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	c, err := e.Embed(context.Background(), "completely different text about bonds")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
