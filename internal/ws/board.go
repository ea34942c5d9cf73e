// Package ws pushes live queue snapshots to connected boards. A board
// subscribes to one business; every committed engine write triggers a
// fresh snapshot to everyone watching that business.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/websocket"

	"github.com/kvasirlabs/waitline/pkg/logging"
)

// SnapshotFunc builds the board payload for a business, typically the
// per-helper wait times.
type SnapshotFunc func(ctx context.Context, businessID string) (any, error)

// boardMessage is the frame sent to boards.
type boardMessage struct {
	Type       string `json:"type"` // "snapshot", "pong", "error"
	BusinessID string `json:"businessId,omitempty"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	At         string `json:"at,omitempty"`
}

type inboundFrame struct {
	Type string `json:"type"` // "ping"
}

type subscriber struct {
	frames chan boardMessage
}

// Board is the hub: one subscriber set per business id.
type Board struct {
	snapshot SnapshotFunc
	logger   *logging.Logger

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

func NewBoard(snapshot SnapshotFunc, logger *logging.Logger) *Board {
	if logger == nil {
		logger = logging.Default()
	}
	return &Board{
		snapshot: snapshot,
		logger:   logger.Component("ws.board"),
		subs:     make(map[string]map[*subscriber]struct{}),
	}
}

// Handler serves GET /ws/board/{businessId}.
func (b *Board) Handler(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "businessId")
	websocket.Handler(func(conn *websocket.Conn) {
		b.serve(conn, businessID)
	}).ServeHTTP(w, r)
}

// Notify rebuilds the snapshot for a business and fans it out. Safe to
// call from the engine commit hook; slow boards drop frames instead of
// blocking the caller.
func (b *Board) Notify(businessID string) {
	b.mu.RLock()
	watchers := make([]*subscriber, 0, len(b.subs[businessID]))
	for sub := range b.subs[businessID] {
		watchers = append(watchers, sub)
	}
	b.mu.RUnlock()
	if len(watchers) == 0 {
		return
	}
	msg, ok := b.buildSnapshot(businessID)
	if !ok {
		return
	}
	for _, sub := range watchers {
		select {
		case sub.frames <- msg:
		default:
			// Board fell behind; the next commit will catch it up.
		}
	}
}

func (b *Board) serve(conn *websocket.Conn, businessID string) {
	defer conn.Close()
	if businessID == "" {
		_ = websocket.JSON.Send(conn, boardMessage{Type: "error", Error: "businessId is required"})
		return
	}

	if msg, ok := b.buildSnapshot(businessID); ok {
		if err := websocket.JSON.Send(conn, msg); err != nil {
			return
		}
	}

	sub := &subscriber{frames: make(chan boardMessage, 8)}
	b.add(businessID, sub)
	defer b.remove(businessID, sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var frame inboundFrame
			if err := websocket.JSON.Receive(conn, &frame); err != nil {
				return
			}
			if frame.Type == "ping" {
				select {
				case sub.frames <- boardMessage{Type: "pong"}:
				default:
				}
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case msg := <-sub.frames:
			if err := websocket.JSON.Send(conn, msg); err != nil {
				return
			}
		}
	}
}

const snapshotTimeout = 3 * time.Second

func (b *Board) buildSnapshot(businessID string) (boardMessage, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	data, err := b.snapshot(ctx, businessID)
	if err != nil {
		b.logger.Warn("board snapshot failed", "business_id", businessID, "error", err)
		return boardMessage{}, false
	}
	return boardMessage{
		Type:       "snapshot",
		BusinessID: businessID,
		Data:       data,
		At:         time.Now().UTC().Format(time.RFC3339),
	}, true
}

func (b *Board) add(businessID string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[businessID] == nil {
		b.subs[businessID] = make(map[*subscriber]struct{})
	}
	b.subs[businessID][sub] = struct{}{}
}

func (b *Board) remove(businessID string, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[businessID], sub)
	if len(b.subs[businessID]) == 0 {
		delete(b.subs, businessID)
	}
}
