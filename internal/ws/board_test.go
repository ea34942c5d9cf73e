package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

func staticSnapshot(data any) SnapshotFunc {
	return func(ctx context.Context, businessID string) (any, error) {
		return data, nil
	}
}

func dialBoard(t *testing.T, businessID string, snapshot SnapshotFunc) (*Board, *websocket.Conn) {
	t.Helper()
	board := NewBoard(snapshot, nil)
	r := chi.NewRouter()
	r.Get("/ws/board/{businessId}", board.Handler)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + srv.URL[len("http"):] + "/ws/board/" + businessID
	conn, err := websocket.Dial(url, "", "http://localhost/")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return board, conn
}

func readFrame(t *testing.T, conn *websocket.Conn) boardMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg boardMessage
	require.NoError(t, websocket.JSON.Receive(conn, &msg))
	return msg
}

func TestBoardSendsInitialSnapshot(t *testing.T) {
	_, conn := dialBoard(t, "biz-1", staticSnapshot(map[string]int{"queueLength": 3}))

	msg := readFrame(t, conn)
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, "biz-1", msg.BusinessID)
	assert.NotEmpty(t, msg.At)
	data, ok := msg.Data.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, data["queueLength"])
}

func TestBoardNotifyFansOutFreshSnapshot(t *testing.T) {
	var version atomic.Int64
	board, conn := dialBoard(t, "biz-1", func(ctx context.Context, businessID string) (any, error) {
		return map[string]int64{"version": version.Load()}, nil
	})
	readFrame(t, conn) // initial snapshot

	// Wait for the subscriber to register before notifying.
	require.Eventually(t, func() bool {
		board.mu.RLock()
		defer board.mu.RUnlock()
		return len(board.subs["biz-1"]) == 1
	}, 2*time.Second, 5*time.Millisecond)

	version.Store(7)
	board.Notify("biz-1")

	msg := readFrame(t, conn)
	assert.Equal(t, "snapshot", msg.Type)
	data, ok := msg.Data.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 7, data["version"])
}

func TestBoardNotifyIgnoresOtherBusinesses(t *testing.T) {
	board, conn := dialBoard(t, "biz-1", staticSnapshot("ok"))
	readFrame(t, conn)

	require.Eventually(t, func() bool {
		board.mu.RLock()
		defer board.mu.RUnlock()
		return len(board.subs["biz-1"]) == 1
	}, 2*time.Second, 5*time.Millisecond)

	board.Notify("biz-other")
	board.Notify("biz-1")

	msg := readFrame(t, conn)
	assert.Equal(t, "biz-1", msg.BusinessID)
}

func TestBoardPingPong(t *testing.T) {
	_, conn := dialBoard(t, "biz-1", staticSnapshot("ok"))
	readFrame(t, conn)

	require.NoError(t, websocket.JSON.Send(conn, inboundFrame{Type: "ping"}))
	msg := readFrame(t, conn)
	assert.Equal(t, "pong", msg.Type)
}

func TestBoardNotifyNeverBlocksCaller(t *testing.T) {
	board := NewBoard(staticSnapshot("ok"), nil)
	sub := &subscriber{frames: make(chan boardMessage, 1)}
	board.add("biz-1", sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Second and later frames overflow the buffer and are dropped.
		for i := 0; i < 20; i++ {
			board.Notify("biz-1")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a slow subscriber")
	}
	assert.Len(t, sub.frames, 1)
}

func TestBoardSnapshotErrorSuppressesFrame(t *testing.T) {
	board := NewBoard(func(ctx context.Context, businessID string) (any, error) {
		return nil, errors.New("store down")
	}, nil)
	sub := &subscriber{frames: make(chan boardMessage, 1)}
	board.add("biz-1", sub)

	board.Notify("biz-1")
	assert.Empty(t, sub.frames)
}

func TestBoardRemoveDropsEmptyBusinessSet(t *testing.T) {
	board := NewBoard(staticSnapshot("ok"), nil)
	sub := &subscriber{frames: make(chan boardMessage, 1)}
	board.add("biz-1", sub)
	board.remove("biz-1", sub)

	board.mu.RLock()
	defer board.mu.RUnlock()
	assert.NotContains(t, board.subs, "biz-1")
}
