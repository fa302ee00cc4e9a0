package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualpainter/painter/internal/canvas"
)

func newTestSQLGateway(t *testing.T, ttl time.Duration) *SQLGateway {
	t.Helper()
	gw, err := NewSQLGateway(context.Background(), SQLOptions{
		Driver:     DriverSQLite,
		DSN:        filepath.Join(t.TempDir(), "painter.db"),
		SessionTTL: ttl,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func TestNewSQLGateway_RejectsBadOptions(t *testing.T) {
	_, err := NewSQLGateway(context.Background(), SQLOptions{Driver: DriverSQLite})
	assert.ErrorContains(t, err, "dsn is required")

	_, err = NewSQLGateway(context.Background(), SQLOptions{Driver: "oracle", DSN: "x"})
	assert.ErrorContains(t, err, "unsupported sql driver")
}

func TestSQLGateway_Lifecycle(t *testing.T) {
	gw := newTestSQLGateway(t, 0)
	ctx := context.Background()

	_, err := gw.GetSession(ctx, "abc123")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, gw.CreateUser(ctx, "A", "abc123", "R1"))
	require.NoError(t, gw.CreateUser(ctx, "B", "abc123", "ignored"))
	require.NoError(t, gw.CreateUser(ctx, "B", "abc123", "R1"))

	rec, err := gw.GetSession(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", rec.SessionID)
	assert.Equal(t, "R1", rec.RoomID)
	assert.Equal(t, "A", rec.CreatedBy)
	assert.Equal(t, 2, rec.Participants)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Empty(t, rec.CanvasData)

	require.NoError(t, gw.UpdateCanvasState(ctx, "abc123", canvas.PNGDataURLPrefix+"AAAA", false))
	require.NoError(t, gw.UpdateCanvasState(ctx, "abc123", canvas.PNGDataURLPrefix+"BBBB", true))
	require.NoError(t, gw.UpdateCanvasState(ctx, "abc123", canvas.PNGDataURLPrefix+"CCCC", false))

	rec, err = gw.GetSession(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, canvas.PNGDataURLPrefix+"CCCC", rec.CanvasData)
	assert.Equal(t, canvas.PNGDataURLPrefix+"BBBB", rec.DrawingLayerData)
	assert.Equal(t, "R1", rec.RoomID, "canvas updates keep the room")
}

func TestSQLGateway_ListActiveSessions(t *testing.T) {
	gw := newTestSQLGateway(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, gw.CreateUser(ctx, "A", "s1", "R1"))
	require.NoError(t, gw.UpdateCanvasState(ctx, "s2", canvas.PNGDataURLPrefix+"AAAA", false))

	records, err := gw.ListActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "s1", records[0].SessionID)
	assert.Equal(t, 1, records[0].Participants)
	assert.Equal(t, "s2", records[1].SessionID)
	assert.Equal(t, canvas.PNGDataURLPrefix+"AAAA", records[1].CanvasData)

	gw.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	records, err = gw.ListActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSQLGateway_DeleteSession(t *testing.T) {
	gw := newTestSQLGateway(t, 0)
	ctx := context.Background()

	require.NoError(t, gw.CreateUser(ctx, "A", "s1", "R1"))
	require.NoError(t, gw.DeleteSession(ctx, "s1"))
	require.NoError(t, gw.DeleteSession(ctx, "s1"))

	_, err := gw.GetSession(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, gw.CreateUser(ctx, "A", "s1", "R2"))
	rec, err := gw.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Participants)
	assert.Equal(t, "R2", rec.RoomID)
}

func TestSQLGateway_Ping(t *testing.T) {
	gw := newTestSQLGateway(t, 0)
	assert.NoError(t, gw.Ping(context.Background()))
	require.NoError(t, gw.Close())
	assert.Error(t, gw.Ping(context.Background()))
}
