package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvasirlabs/waitline/internal/apperr"
	"github.com/kvasirlabs/waitline/internal/catalog"
	"github.com/kvasirlabs/waitline/internal/clock"
	"github.com/kvasirlabs/waitline/internal/identity"
	"github.com/kvasirlabs/waitline/internal/notify"
)

type capturePublisher struct {
	mu      sync.Mutex
	intents []notify.Intent
}

func (c *capturePublisher) Publish(intents ...notify.Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intents = append(c.intents, intents...)
}

func (c *capturePublisher) bodies() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.intents))
	for i, in := range c.intents {
		out[i] = in.Body
	}
	return out
}

func (c *capturePublisher) reset() {
	c.mu.Lock()
	c.intents = nil
	c.mu.Unlock()
}

type fixture struct {
	t     *testing.T
	eng   *Engine
	store *Memory
	clk   *clock.Mock
	pub   *capturePublisher
	owner identity.Principal
}

func acceptedHelper(id string, services ...string) catalog.Helper {
	return catalog.Helper{HelperID: id, Status: catalog.HelperAccepted, Active: true, Services: services}
}

// newFixture builds an engine over the memory store with one business
// ("biz-1", owner "owner-1"), one 30-minute service "svc-cut", and the
// given helpers.
func newFixture(t *testing.T, helpers ...catalog.Helper) *fixture {
	t.Helper()
	store := NewMemory(nil)
	clk := clock.NewMock(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	pub := &capturePublisher{}
	eng := NewEngine(EngineConfig{Store: store, Clock: clk, Publisher: pub})

	ctx := context.Background()
	require.NoError(t, store.Catalog().CreateUser(ctx, &catalog.User{
		ID: "owner-1", Email: "owner@example.com", Role: catalog.RoleVendor, Active: true,
	}))
	require.NoError(t, store.Catalog().CreateBusiness(ctx, &catalog.Business{
		ID: "biz-1", OwnerID: "owner-1", Name: "Fade Factory", Timezone: "UTC",
		Active: true, Helpers: helpers,
	}))
	require.NoError(t, store.Catalog().CreateService(ctx, &catalog.Service{
		ID: "svc-cut", BusinessID: "biz-1", Name: "Haircut", DurationMinutes: 30, Price: 25,
	}))
	return &fixture{
		t: t, eng: eng, store: store, clk: clk, pub: pub,
		owner: identity.Principal{ID: "owner-1", Role: identity.RoleVendor},
	}
}

func (f *fixture) addCustomer(id string) identity.Principal {
	f.t.Helper()
	require.NoError(f.t, f.store.Catalog().CreateUser(context.Background(), &catalog.User{
		ID: id, Email: id + "@example.com", Role: catalog.RoleCustomer, Gender: catalog.GenderMale,
		PushToken: "tok-" + id, ReceiveNotifications: true, Active: true,
	}))
	return identity.Principal{ID: id, Role: identity.RoleCustomer}
}

// enqueue creates one ANY entry for the customer and advances the
// clock a minute so joining times stay distinct.
func (f *fixture) enqueue(p identity.Principal) *Entry {
	f.t.Helper()
	created, err := f.eng.Enqueue(context.Background(), p, EnqueueRequest{
		BusinessID: "biz-1", UserType: UserTypeNormal,
		Items: []LineItem{{ServiceID: "svc-cut", Gender: catalog.GenderMale, Preference: PreferenceAny}},
	})
	require.NoError(f.t, err)
	require.Len(f.t, created, 1)
	f.clk.Advance(time.Minute)
	return created[0]
}

func (f *fixture) entry(id string) *Entry {
	f.t.Helper()
	e, err := f.store.GetEntry(context.Background(), id)
	require.NoError(f.t, err)
	return e
}

func (f *fixture) act(p identity.Principal, entryID string, action Action) (*ActionResult, error) {
	return f.eng.ApplyAction(context.Background(), p, ActionRequest{
		BusinessID: "biz-1", EntryID: entryID, Action: action,
	})
}

// assertLaneDense checks position uniqueness and density for one lane.
func (f *fixture) assertLaneDense(helperID string) {
	f.t.Helper()
	lane, err := f.store.ListLane(context.Background(), "biz-1", helperID)
	require.NoError(f.t, err)
	for i, e := range lane {
		assert.Equalf(f.t, i+1, e.CurrentPosition, "lane %s entry %s", helperID, e.ID)
	}
}

func TestEnqueueBalancesAcrossHelpers(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"), acceptedHelper("h2", "svc-cut"))
	p := f.addCustomer("cust-1")

	created, err := f.eng.Enqueue(context.Background(), p, EnqueueRequest{
		BusinessID: "biz-1", UserType: UserTypeNormal,
		Items: []LineItem{
			{ServiceID: "svc-cut", Preference: PreferenceAny, Gender: catalog.GenderMale},
			{ServiceID: "svc-cut", Preference: PreferenceAny, Gender: catalog.GenderMale},
			{ServiceID: "svc-cut", Preference: PreferenceAny, Gender: catalog.GenderMale},
		},
	})
	require.NoError(t, err)
	require.Len(t, created, 3)

	h1, err := f.store.ListLane(context.Background(), "biz-1", "h1")
	require.NoError(t, err)
	h2, err := f.store.ListLane(context.Background(), "biz-1", "h2")
	require.NoError(t, err)
	require.Len(t, h1, 2)
	require.Len(t, h2, 1)

	assert.Equal(t, 1, h1[0].CurrentPosition)
	assert.Equal(t, 0, h1[0].EstWaitMinutes)
	assert.Equal(t, 2, h1[1].CurrentPosition)
	assert.Equal(t, 30, h1[1].EstWaitMinutes)
	assert.Equal(t, 1, h2[0].CurrentPosition)
	assert.Equal(t, 0, h2[0].EstWaitMinutes)
}

func TestEnqueueSpecificHelper(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"), acceptedHelper("h2", "svc-cut"))
	p := f.addCustomer("cust-1")

	created, err := f.eng.Enqueue(context.Background(), p, EnqueueRequest{
		BusinessID: "biz-1", UserType: UserTypeNormal,
		Items: []LineItem{{ServiceID: "svc-cut", Preference: PreferenceSpecific, HelperID: "h2", Gender: catalog.GenderMale}},
	})
	require.NoError(t, err)
	assert.Equal(t, "h2", created[0].HelperID)
	assert.Equal(t, 1, created[0].JoiningPosition)
}

func TestEnqueueValidation(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	p := f.addCustomer("cust-1")
	ctx := context.Background()

	_, err := f.eng.Enqueue(ctx, p, EnqueueRequest{BusinessID: "biz-1", UserType: UserTypeNormal})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidArgument))

	_, err = f.eng.Enqueue(ctx, p, EnqueueRequest{
		BusinessID: "biz-1", UserType: UserTypeNormal, ManualID: "m-1",
		Items: []LineItem{{ServiceID: "svc-cut", Preference: PreferenceAny, Gender: catalog.GenderMale}},
	})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidArgument), "manualId on a normal enqueue")

	_, err = f.eng.Enqueue(ctx, p, EnqueueRequest{
		BusinessID: "biz-1", UserType: UserTypeNormal,
		Items: []LineItem{{ServiceID: "svc-missing", Preference: PreferenceAny, Gender: catalog.GenderMale}},
	})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, err = f.eng.Enqueue(ctx, p, EnqueueRequest{
		BusinessID: "biz-1", UserType: UserTypeNormal,
		Items: []LineItem{{ServiceID: "svc-cut", Preference: PreferenceSpecific, HelperID: "h9", Gender: catalog.GenderMale}},
	})
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound), "unknown specific helper")
}

func TestEnqueueGenderEligibility(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut", "svc-women"))
	require.NoError(t, f.store.Catalog().CreateService(context.Background(), &catalog.Service{
		ID: "svc-women", BusinessID: "biz-1", Name: "Blowout", DurationMinutes: 45, Price: 40,
		AllowedGenders: []catalog.Gender{catalog.GenderFemale},
	}))
	p := f.addCustomer("cust-1")

	_, err := f.eng.Enqueue(context.Background(), p, EnqueueRequest{
		BusinessID: "biz-1", UserType: UserTypeNormal,
		Items: []LineItem{{ServiceID: "svc-women", Preference: PreferenceAny, Gender: catalog.GenderMale}},
	})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidArgument))
}

func TestEnqueueIsAtomic(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	p := f.addCustomer("cust-1")

	_, err := f.eng.Enqueue(context.Background(), p, EnqueueRequest{
		BusinessID: "biz-1", UserType: UserTypeNormal,
		Items: []LineItem{
			{ServiceID: "svc-cut", Preference: PreferenceAny, Gender: catalog.GenderMale},
			{ServiceID: "svc-missing", Preference: PreferenceAny, Gender: catalog.GenderMale},
		},
	})
	require.Error(t, err)

	count, err := f.store.CountLane(context.Background(), "biz-1", "h1")
	require.NoError(t, err)
	assert.Zero(t, count, "failed request must insert nothing")
}

func TestEnqueueManualCustomer(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	require.NoError(t, f.store.Catalog().CreateManualCustomer(context.Background(), &catalog.ManualCustomer{
		ID: "man-1", BusinessID: "biz-1", Name: "Walk In", Phone: "555-0100", Gender: catalog.GenderFemale,
	}))

	created, err := f.eng.Enqueue(context.Background(), f.owner, EnqueueRequest{
		BusinessID: "biz-1", UserType: UserTypeManual, ManualID: "man-1",
		Items: []LineItem{{ServiceID: "svc-cut", Preference: PreferenceAny, Gender: catalog.GenderFemale}},
	})
	require.NoError(t, err)
	assert.Equal(t, "man-1", created[0].ManualID)
	assert.Empty(t, created[0].UserID)
}

func TestSkipSwapsAndUndoRestores(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	var ids []string
	for i := 0; i < 5; i++ {
		p := f.addCustomer(fmt.Sprintf("cust-%d", i+1))
		ids = append(ids, f.enqueue(p).ID)
	}

	res, err := f.act(f.owner, ids[1], ActionSkip)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, res.Entry.Status)

	wantPos := map[string]int{ids[0]: 1, ids[1]: 3, ids[2]: 2, ids[3]: 4, ids[4]: 5}
	for id, pos := range wantPos {
		assert.Equal(t, pos, f.entry(id).CurrentPosition)
	}
	assert.Equal(t, 60, f.entry(ids[1]).EstWaitMinutes)
	assert.Equal(t, 30, f.entry(ids[2]).EstWaitMinutes)
	f.assertLaneDense("h1")

	f.clk.Advance(2 * time.Minute)
	_, err = f.act(f.owner, ids[1], ActionUndo)
	require.NoError(t, err)
	for i, id := range ids {
		e := f.entry(id)
		assert.Equal(t, i+1, e.CurrentPosition)
		assert.Equal(t, StatusInQueue, e.Status)
		assert.Equal(t, 30*i, e.EstWaitMinutes)
	}
}

func TestUndoOutsideWindow(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	p1 := f.addCustomer("cust-1")
	f.addCustomer("cust-2")
	id := f.enqueue(p1).ID
	f.enqueue(identity.Principal{ID: "cust-2", Role: identity.RoleCustomer})

	_, err := f.act(f.owner, id, ActionSkip)
	require.NoError(t, err)

	f.clk.Advance(6 * time.Minute)
	_, err = f.act(f.owner, id, ActionUndo)
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidArgument), "undo after the window is invalid")
}

func TestUndoRequiresVendorEvent(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	p := f.addCustomer("cust-1")
	id := f.enqueue(p).ID

	_, err := f.act(f.owner, id, ActionUndo)
	assert.True(t, apperr.IsKind(err, apperr.KindFailedPrecondition), "nothing to undo yet")

	// A customer's own removal is user-sourced and not undoable.
	_, err = f.act(p, id, ActionRemove)
	require.NoError(t, err)
	_, err = f.act(f.owner, id, ActionUndo)
	assert.True(t, apperr.IsKind(err, apperr.KindFailedPrecondition))
}

func TestHoldRetainsPosition(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	var ids []string
	for i := 0; i < 5; i++ {
		p := f.addCustomer(fmt.Sprintf("cust-%d", i+1))
		ids = append(ids, f.enqueue(p).ID)
	}

	_, err := f.act(f.owner, ids[2], ActionHold)
	require.NoError(t, err)

	for i, id := range ids {
		e := f.entry(id)
		assert.Equal(t, i+1, e.CurrentPosition, "hold keeps every position")
		assert.Equal(t, 30*i, e.EstWaitMinutes)
	}
	assert.Equal(t, StatusHold, f.entry(ids[2]).Status)

	_, err = f.act(f.owner, ids[2], ActionUnhold)
	require.NoError(t, err)
	for i, id := range ids {
		e := f.entry(id)
		assert.Equal(t, i+1, e.CurrentPosition)
		assert.Equal(t, StatusInQueue, e.Status)
	}
}

func TestHelperBreakReassignsFlexible(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"), acceptedHelper("h2", "svc-cut"))
	// Pin three entries onto h1 so h2 starts empty.
	var ids []string
	for i := 0; i < 3; i++ {
		p := f.addCustomer(fmt.Sprintf("cust-%d", i+1))
		created, err := f.eng.Enqueue(context.Background(), p, EnqueueRequest{
			BusinessID: "biz-1", UserType: UserTypeNormal,
			Items: []LineItem{{ServiceID: "svc-cut", Preference: PreferenceSpecific, HelperID: "h1", Gender: catalog.GenderMale}},
		})
		require.NoError(t, err)
		ids = append(ids, created[0].ID)
		f.clk.Advance(time.Minute)
	}
	f.pub.reset()

	res, err := f.eng.SetHelperBreak(context.Background(), f.owner, "biz-1", "h1", true)
	require.NoError(t, err)
	assert.Equal(t, 3, res.UpdatedCount)

	for i, id := range ids {
		e := f.entry(id)
		assert.Equal(t, "h2", e.HelperID)
		assert.Equal(t, i+1, e.CurrentPosition, "joining order preserved")
		last := e.History[len(e.History)-1]
		assert.Equal(t, ActionEdit, last.Action)
		assert.Equal(t, "h2", last.NewlyAssignedHelperID)
	}
	f.assertLaneDense("h2")

	reassigned := 0
	for _, body := range f.pub.bodies() {
		if strings.Contains(body, "Helper reassigned.") {
			reassigned++
		}
	}
	assert.Equal(t, 3, reassigned, "one reassignment message per customer")
}

func TestHelperResumeRebalances(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"), acceptedHelper("h2", "svc-cut"))
	_, err := f.eng.SetHelperBreak(context.Background(), f.owner, "biz-1", "h1", true)
	require.NoError(t, err)

	// All four land on h2 while h1 rests.
	for i := 0; i < 4; i++ {
		p := f.addCustomer(fmt.Sprintf("cust-%d", i+1))
		f.enqueue(p)
	}
	h2, _ := f.store.ListLane(context.Background(), "biz-1", "h2")
	require.Len(t, h2, 4)

	_, err = f.eng.SetHelperBreak(context.Background(), f.owner, "biz-1", "h1", false)
	require.NoError(t, err)
	h1After, _ := f.store.ListLane(context.Background(), "biz-1", "h1")
	h2After, _ := f.store.ListLane(context.Background(), "biz-1", "h2")
	assert.Equal(t, 2, len(h1After))
	assert.Equal(t, 2, len(h2After))
	f.assertLaneDense("h1")
	f.assertLaneDense("h2")
}

func TestNextCompletesHeadOnly(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	p1 := f.addCustomer("cust-1")
	p2 := f.addCustomer("cust-2")
	first := f.enqueue(p1).ID
	second := f.enqueue(p2).ID

	_, err := f.act(f.owner, second, ActionNext)
	assert.True(t, apperr.IsKind(err, apperr.KindFailedPrecondition), "next on non-head")

	res, err := f.act(f.owner, first, ActionNext)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Entry.Status)

	e2 := f.entry(second)
	assert.Equal(t, 1, e2.CurrentPosition, "successor promoted by the triggered rebalance")
	assert.Equal(t, 0, e2.EstWaitMinutes)
}

func TestRemoveVacatesAndUndoReinstates(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	var ids []string
	for i := 0; i < 3; i++ {
		p := f.addCustomer(fmt.Sprintf("cust-%d", i+1))
		ids = append(ids, f.enqueue(p).ID)
	}

	_, err := f.act(f.owner, ids[1], ActionRemove)
	require.NoError(t, err)
	assert.Equal(t, StatusRemoved, f.entry(ids[1]).Status)
	assert.Equal(t, 2, f.entry(ids[2]).CurrentPosition, "gap packed")
	f.assertLaneDense("h1")

	f.clk.Advance(time.Minute)
	_, err = f.act(f.owner, ids[1], ActionUndo)
	require.NoError(t, err)
	assert.Equal(t, StatusInQueue, f.entry(ids[1]).Status)
	assert.Equal(t, 2, f.entry(ids[1]).CurrentPosition)
	assert.Equal(t, 3, f.entry(ids[2]).CurrentPosition)
	f.assertLaneDense("h1")
}

func TestAddTimeOverlaySurvivesRebalance(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	p1 := f.addCustomer("cust-1")
	p2 := f.addCustomer("cust-2")
	f.enqueue(p1)
	id := f.enqueue(p2).ID

	_, err := f.eng.ApplyAction(context.Background(), f.owner, ActionRequest{
		BusinessID: "biz-1", EntryID: id, Action: ActionAddTime, Minutes: 15,
	})
	require.NoError(t, err)
	assert.Equal(t, 45, f.entry(id).EstWaitMinutes, "(2-1)*30 + 15")

	// The overlay is part of the ETA formula, so a rerun changes nothing.
	res, err := f.eng.Restructure(context.Background(), f.owner, "biz-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, res.UpdatedCount)
	assert.Equal(t, 45, f.entry(id).EstWaitMinutes)

	f.clk.Advance(time.Minute)
	_, err = f.act(f.owner, id, ActionUndo)
	require.NoError(t, err)
	assert.Equal(t, 30, f.entry(id).EstWaitMinutes)
}

func TestRestructureIdempotent(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"), acceptedHelper("h2", "svc-cut"))
	for i := 0; i < 5; i++ {
		p := f.addCustomer(fmt.Sprintf("cust-%d", i+1))
		f.enqueue(p)
	}

	first, err := f.eng.Restructure(context.Background(), f.owner, "biz-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	second, err := f.eng.Restructure(context.Background(), f.owner, "biz-1", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, first.UpdatedCount, "enqueue already placed everyone")
	assert.Zero(t, second.UpdatedCount, "second run is a no-op")
	assert.Equal(t, 2, second.ActiveHelpers)
}

func TestRestructureWithNoActiveHelpers(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	p := f.addCustomer("cust-1")
	id := f.enqueue(p).ID
	f.pub.reset()

	_, err := f.eng.SetHelperBreak(context.Background(), f.owner, "biz-1", "h1", true)
	require.NoError(t, err)

	assert.Equal(t, 1, f.entry(id).CurrentPosition, "entry frozen in place")
	bodies := f.pub.bodies()
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], "Queue paused")
}

func TestCustomerAuthorization(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	p1 := f.addCustomer("cust-1")
	p2 := f.addCustomer("cust-2")
	own := f.enqueue(p1).ID
	other := f.enqueue(p2).ID

	_, err := f.act(p1, own, ActionHold)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden), "customers cannot hold")

	_, err = f.act(p1, other, ActionRemove)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden), "not their entry")

	res, err := f.act(p1, own, ActionRemove)
	require.NoError(t, err)
	assert.Equal(t, StatusRemoved, res.Entry.Status)
	last := res.Entry.History[len(res.Entry.History)-1]
	assert.Equal(t, SourceUser, last.Source)
}

func TestTerminalEntriesRejectActions(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	p := f.addCustomer("cust-1")
	id := f.enqueue(p).ID

	_, err := f.act(f.owner, id, ActionNext)
	require.NoError(t, err)

	for _, action := range []Action{ActionSkip, ActionHold, ActionRemove, ActionNext, ActionAddTime} {
		req := ActionRequest{BusinessID: "biz-1", EntryID: id, Action: action, Minutes: 5}
		_, err := f.eng.ApplyAction(context.Background(), f.owner, req)
		assert.Truef(t, apperr.IsKind(err, apperr.KindFailedPrecondition), "action %s on completed entry", action)
	}
}

func TestBusinessPauseBlocksEnqueue(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	p := f.addCustomer("cust-1")
	f.enqueue(p)
	f.pub.reset()

	_, err := f.eng.SetBusinessActive(context.Background(), f.owner, "biz-1", false)
	require.NoError(t, err)
	bodies := f.pub.bodies()
	require.Len(t, bodies, 1)
	assert.Contains(t, bodies[0], "Queue paused")

	_, err = f.eng.Enqueue(context.Background(), p, EnqueueRequest{
		BusinessID: "biz-1", UserType: UserTypeNormal,
		Items: []LineItem{{ServiceID: "svc-cut", Preference: PreferenceAny, Gender: catalog.GenderMale}},
	})
	assert.True(t, apperr.IsKind(err, apperr.KindFailedPrecondition))

	_, err = f.eng.SetBusinessActive(context.Background(), f.owner, "biz-1", true)
	require.NoError(t, err)
	_, err = f.eng.Enqueue(context.Background(), p, EnqueueRequest{
		BusinessID: "biz-1", UserType: UserTypeNormal,
		Items: []LineItem{{ServiceID: "svc-cut", Preference: PreferenceAny, Gender: catalog.GenderMale}},
	})
	assert.NoError(t, err)
}

func TestPauseRequiresOwner(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	require.NoError(t, f.store.Catalog().CreateUser(context.Background(), &catalog.User{
		ID: "h1", Email: "h1@example.com", Role: catalog.RoleVendor, Active: true,
	}))
	helperPrincipal := identity.Principal{ID: "h1", Role: identity.RoleVendor}

	_, err := f.eng.SetBusinessActive(context.Background(), helperPrincipal, "biz-1", false)
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))

	// A helper may still toggle their own break.
	_, err = f.eng.SetHelperBreak(context.Background(), helperPrincipal, "biz-1", "h1", true)
	assert.NoError(t, err)
}

func TestUpdateRating(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	p := f.addCustomer("cust-1")
	id := f.enqueue(p).ID

	_, err := f.eng.UpdateRating(context.Background(), p, id, 5, "great")
	assert.True(t, apperr.IsKind(err, apperr.KindFailedPrecondition), "cannot rate before completion")

	_, err = f.act(f.owner, id, ActionNext)
	require.NoError(t, err)

	updated, err := f.eng.UpdateRating(context.Background(), p, id, 5, "great")
	require.NoError(t, err)
	require.NotNil(t, updated.Rating)
	assert.Equal(t, 5, *updated.Rating)

	_, err = f.eng.UpdateRating(context.Background(), p, id, 3, "changed my mind")
	assert.True(t, apperr.IsKind(err, apperr.KindFailedPrecondition), "rating is one-shot")

	_, err = f.eng.UpdateRating(context.Background(), f.owner, id, 4, "")
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden), "only the customer rates")
}

func TestHelperWaitTimes(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	p1 := f.addCustomer("cust-1")
	p2 := f.addCustomer("cust-2")
	f.enqueue(p1)
	f.enqueue(p2)

	waits, err := f.eng.HelperWaitTimes(context.Background(), "biz-1")
	require.NoError(t, err)
	require.Len(t, waits, 1)
	assert.Equal(t, "h1", waits[0].HelperID)
	assert.Equal(t, 2, waits[0].QueueLength)
	assert.Equal(t, 60, waits[0].EstWaitMinutes)
}

func TestRecentHelperActions(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	p1 := f.addCustomer("cust-1")
	p2 := f.addCustomer("cust-2")
	first := f.enqueue(p1).ID
	f.enqueue(p2)

	_, err := f.act(f.owner, first, ActionSkip)
	require.NoError(t, err)
	f.clk.Advance(time.Minute)
	_, err = f.eng.ApplyAction(context.Background(), f.owner, ActionRequest{
		BusinessID: "biz-1", EntryID: first, Action: ActionAddTime, Minutes: 5,
	})
	require.NoError(t, err)

	records, err := f.eng.RecentHelperActions(context.Background(), f.owner, "biz-1", "h1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, ActionAddTime, records[0].Action, "newest first")
	assert.Equal(t, ActionSkip, records[1].Action)

	f.clk.Advance(10 * time.Minute)
	records, err = f.eng.RecentHelperActions(context.Background(), f.owner, "biz-1", "h1")
	require.NoError(t, err)
	assert.Empty(t, records, "stale actions fall out of the window")
}

func TestHelperQueueProjection(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	p1 := f.addCustomer("cust-1")
	p2 := f.addCustomer("cust-2")
	f.enqueue(p1)
	held := f.enqueue(p2).ID
	_, err := f.act(f.owner, held, ActionHold)
	require.NoError(t, err)

	view, err := f.eng.HelperQueue(context.Background(), f.owner, "biz-1", "h1")
	require.NoError(t, err)
	require.Len(t, view.Entries, 2)
	assert.Equal(t, "Haircut", view.Entries[0].ServiceName)
	assert.Equal(t, 30, view.Entries[0].DurationMinutes)
	assert.Equal(t, 1, view.Counts[StatusInQueue])
	assert.Equal(t, 1, view.Counts[StatusHold])

	cust := identity.Principal{ID: "cust-1", Role: identity.RoleCustomer}
	_, err = f.eng.HelperQueue(context.Background(), cust, "biz-1", "h1")
	assert.True(t, apperr.IsKind(err, apperr.KindForbidden))
}

func TestUserHistory(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	p := f.addCustomer("cust-1")
	first := f.enqueue(p).ID
	_, err := f.act(f.owner, first, ActionNext)
	require.NoError(t, err)
	f.enqueue(p)

	views, err := f.eng.UserHistory(context.Background(), p, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, StatusInQueue, views[0].Status, "newest first")
	assert.Equal(t, StatusCompleted, views[1].Status)
}

func TestActionNotificationsAfterCommit(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"))
	p1 := f.addCustomer("cust-1")
	p2 := f.addCustomer("cust-2")
	first := f.enqueue(p1).ID
	f.enqueue(p2)
	f.pub.reset()

	_, err := f.act(f.owner, first, ActionSkip)
	require.NoError(t, err)

	bodies := f.pub.bodies()
	require.Len(t, bodies, 2, "both swapped customers hear about it")
	assert.Contains(t, bodies[0], "Position: 1 → 2")
	assert.Contains(t, bodies[1], "Position: 2 → 1")

	// A failed action publishes nothing.
	f.pub.reset()
	_, err = f.act(f.owner, first, ActionNext)
	require.Error(t, err)
	assert.Empty(t, f.pub.bodies())
}

func TestConcurrentEnqueuesKeepLanesDense(t *testing.T) {
	f := newFixture(t, acceptedHelper("h1", "svc-cut"), acceptedHelper("h2", "svc-cut"))
	const n = 20
	principals := make([]identity.Principal, n)
	for i := range principals {
		principals[i] = f.addCustomer(fmt.Sprintf("cust-%d", i))
	}

	var wg sync.WaitGroup
	for _, p := range principals {
		wg.Add(1)
		go func(p identity.Principal) {
			defer wg.Done()
			_, err := f.eng.Enqueue(context.Background(), p, EnqueueRequest{
				BusinessID: "biz-1", UserType: UserTypeNormal,
				Items: []LineItem{{ServiceID: "svc-cut", Preference: PreferenceAny, Gender: catalog.GenderMale}},
			})
			assert.NoError(t, err)
		}(p)
	}
	wg.Wait()

	f.assertLaneDense("h1")
	f.assertLaneDense("h2")
	c1, _ := f.store.CountLane(context.Background(), "biz-1", "h1")
	c2, _ := f.store.CountLane(context.Background(), "biz-1", "h2")
	assert.Equal(t, n, c1+c2)
	assert.Equal(t, 10, c1, "balanced")
}
