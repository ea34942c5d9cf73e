// Package queue implements the scheduling and mutation engine: the
// entry data model, the per-entry action state machine with undo, the
// FCFS restructure that rebalances lanes across helpers, and the read
// projections the API serves. All writes run inside store transactions
// guarded by a per-business mutex.
package queue

import (
	"time"

	"github.com/kvasirlabs/waitline/internal/catalog"
)

// Status of a queue entry. in_queue, hold, and skipped are the live
// statuses that occupy a lane position; completed and removed are
// terminal.
type Status string

const (
	StatusInQueue   Status = "in_queue"
	StatusHold      Status = "hold"
	StatusSkipped   Status = "skipped"
	StatusCompleted Status = "completed"
	StatusRemoved   Status = "removed"
)

// Live reports whether the status occupies a lane position.
func (s Status) Live() bool {
	return s == StatusInQueue || s == StatusHold || s == StatusSkipped
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRemoved
}

// Preference pins an entry to its chosen helper (SPECIFIC) or lets the
// restructure move it freely (ANY).
type Preference string

const (
	PreferenceAny      Preference = "ANY"
	PreferenceSpecific Preference = "SPECIFIC"
)

// Action names the queue mutations. edit is reserved for restructure
// writes; undo inverts the most recent vendor action.
type Action string

const (
	ActionSkip    Action = "skip"
	ActionHold    Action = "hold"
	ActionUnhold  Action = "unhold"
	ActionRemove  Action = "remove"
	ActionNext    Action = "next"
	ActionAddTime Action = "add_time"
	ActionEdit    Action = "edit"
	ActionUndo    Action = "undo"
)

// ValidAction reports whether a names a caller-invocable action.
func ValidAction(a Action) bool {
	switch a {
	case ActionSkip, ActionHold, ActionUnhold, ActionRemove, ActionNext, ActionAddTime, ActionUndo:
		return true
	}
	return false
}

// Source of a history event.
type Source string

const (
	SourceUser   Source = "user"
	SourceVendor Source = "vendor"
)

// HistoryEvent is one element of the append-only history on each
// entry. Pre-change values are recorded so undo can invert the event.
type HistoryEvent struct {
	Action                Action    `json:"action"`
	Source                Source    `json:"source"`
	At                    time.Time `json:"at"`
	PrevPosition          *int      `json:"prevPosition,omitempty"`
	NewPosition           *int      `json:"newPosition,omitempty"`
	AddedTime             *int      `json:"addedTime,omitempty"`
	EstWait               *int      `json:"estWait,omitempty"`
	NewlyAssignedHelperID string    `json:"newlyAssignedHelperId,omitempty"`
}

// Entry is the core queue record. Exactly one of UserID and ManualID
// is set. JoiningPosition is fixed at enqueue; CurrentPosition moves
// under actions and restructures. AddedMinutes accumulates add_time
// overlays so they survive position recomputation.
type Entry struct {
	ID         string
	BusinessID string
	HelperID   string

	UserID   string
	ManualID string

	ServiceID  string
	Gender     catalog.Gender
	Preference Preference

	JoiningPosition int
	CurrentPosition int

	JoiningTime     time.Time
	EstServiceStart time.Time
	EstWaitMinutes  int
	AddedMinutes    int

	Status Status
	Total  float64
	Rating *int
	Notes  string

	History []HistoryEvent

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Registered reports whether the entry belongs to a registered user.
func (e *Entry) Registered() bool { return e.UserID != "" }

// Live reports whether the entry occupies a lane position.
func (e *Entry) Live() bool { return e.Status.Live() }

// Clone returns a deep copy.
func (e *Entry) Clone() *Entry {
	cp := *e
	cp.History = append([]HistoryEvent(nil), e.History...)
	if e.Rating != nil {
		r := *e.Rating
		cp.Rating = &r
	}
	return &cp
}

// recomputeETA derives the estimated wait from the current position,
// the service duration, and the accumulated add_time overlay.
func (e *Entry) recomputeETA(now time.Time, durationMinutes int) {
	e.EstWaitMinutes = (e.CurrentPosition-1)*durationMinutes + e.AddedMinutes
	e.EstServiceStart = now.Add(time.Duration(e.EstWaitMinutes) * time.Minute)
}

// appendEvent records a history event and bumps UpdatedAt.
func (e *Entry) appendEvent(ev HistoryEvent) {
	e.History = append(e.History, ev)
	e.UpdatedAt = ev.At
}

// lastActionEvent returns the most recent event that is a direct
// action (edit events from restructures are skipped), or nil.
func (e *Entry) lastActionEvent() *HistoryEvent {
	for i := len(e.History) - 1; i >= 0; i-- {
		if e.History[i].Action == ActionEdit {
			continue
		}
		return &e.History[i]
	}
	return nil
}

func intPtr(v int) *int { return &v }
