package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/cohabit/internal/config"
	"github.com/dukerupert/cohabit/internal/database"
	"github.com/dukerupert/cohabit/internal/model"
	"github.com/dukerupert/cohabit/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeDeliverer struct {
	popups []model.Notification
	err    error
}

func (f *fakeDeliverer) Popup(ctx context.Context, n model.Notification) error {
	f.popups = append(f.popups, n)
	return f.err
}

func setupKV(t *testing.T) *store.KVStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewKVStore(db)
}

func newService(t *testing.T, kv *store.KVStore, clock *fakeClock, mutate ...func(*config.NotifyConfig)) *Service {
	t.Helper()
	cfg := config.DefaultConfig().Notify
	for _, fn := range mutate {
		fn(&cfg)
	}
	svc, err := NewService(kv, cfg, time.UTC, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.Now = clock.Now
	return svc
}

func countTitle(t *testing.T, svc *Service, title string) int {
	t.Helper()
	h, err := svc.History()
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	n := 0
	for _, item := range h.Notifications {
		if item.Title == title {
			n++
		}
	}
	return n
}

// 2026-02-05 is a Thursday.
func feb(day, hour, min, sec int) time.Time {
	return time.Date(2026, 2, day, hour, min, sec, 0, time.UTC)
}

func TestTrashRuleOncePerDay(t *testing.T) {
	kv := setupKV(t)
	clock := &fakeClock{now: feb(5, 20, 0, 5)}
	svc := newService(t, kv, clock)
	ctx := context.Background()

	fired, err := svc.CheckTrash(ctx)
	if err != nil || !fired {
		t.Fatalf("first check: fired=%v err=%v", fired, err)
	}

	// Same minute: guarded.
	clock.Set(feb(5, 20, 0, 40))
	if fired, _ := svc.CheckTrash(ctx); fired {
		t.Error("second check in the same minute fired")
	}

	// A fresh service (restart) in the same window sees the day marker.
	again := newService(t, kv, clock)
	if fired, _ := again.CheckTrash(ctx); fired {
		t.Error("check after restart fired again")
	}

	if n := countTitle(t, svc, "Trash day"); n != 1 {
		t.Errorf("trash notifications = %d, want 1", n)
	}
}

func TestTrashRuleOnlyOnConfiguredDays(t *testing.T) {
	kv := setupKV(t)
	clock := &fakeClock{now: feb(2, 20, 0, 0)} // Monday
	svc := newService(t, kv, clock)

	if fired, _ := svc.CheckTrash(context.Background()); fired {
		t.Error("fired on a Monday")
	}

	clock.Set(feb(5, 20, 5, 0)) // Thursday, past the minute
	if fired, _ := svc.CheckTrash(context.Background()); fired {
		t.Error("fired outside the trigger minute")
	}

	clock.Set(feb(10, 20, 0, 0)) // Tuesday
	if fired, _ := svc.CheckTrash(context.Background()); !fired {
		t.Error("did not fire on Tuesday at 20:00")
	}
}

func TestRentRules(t *testing.T) {
	kv := setupKV(t)
	clock := &fakeClock{now: feb(20, 10, 0, 0)}
	svc := newService(t, kv, clock)
	ctx := context.Background()

	if fired, err := svc.CheckRent(ctx); err != nil || !fired {
		t.Fatalf("reminder: fired=%v err=%v", fired, err)
	}

	clock.Set(feb(25, 10, 30, 0))
	if fired, err := svc.CheckRent(ctx); err != nil || !fired {
		t.Fatalf("due: fired=%v err=%v", fired, err)
	}

	// Later the same hour, after a restart: month markers hold.
	clock.Set(feb(25, 10, 45, 0))
	if fired, _ := newService(t, kv, clock).CheckRent(ctx); fired {
		t.Error("rent due fired twice in one month")
	}

	if n := countTitle(t, svc, "Rent due"); n != 1 {
		t.Errorf("rent due notifications = %d, want 1", n)
	}
	if n := countTitle(t, svc, "Rent reminder"); n != 1 {
		t.Errorf("rent reminder notifications = %d, want 1", n)
	}

	// Next month fires again.
	clock.Set(time.Date(2026, 3, 25, 10, 0, 0, 0, time.UTC))
	if fired, _ := svc.CheckRent(ctx); !fired {
		t.Error("rent due did not fire in March")
	}
}

func TestRentRuleDisabled(t *testing.T) {
	kv := setupKV(t)
	clock := &fakeClock{now: feb(25, 10, 0, 0)}
	svc := newService(t, kv, clock, func(c *config.NotifyConfig) { c.Rent.Enabled = false })

	if fired, _ := svc.CheckRent(context.Background()); fired {
		t.Error("disabled rule fired")
	}
}

func rosterEvents(day int, names ...string) []model.ScheduleEvent {
	var out []model.ScheduleEvent
	for i, n := range names {
		out = append(out, model.ScheduleEvent{
			ID:         int64(day*10 + i),
			Start:      feb(day, 9+i, 0, 0),
			End:        feb(day, 18, 0, 0),
			AuthorName: n,
		})
	}
	return out
}

func TestAllMembersRule(t *testing.T) {
	kv := setupKV(t)
	clock := &fakeClock{now: feb(5, 8, 0, 0)}
	svc := newService(t, kv, clock)
	ctx := context.Background()

	events := append(rosterEvents(3, "승혜", "가연", "석린"), rosterEvents(7, "승혜", "가연", "석린")...)
	events = append(events, rosterEvents(8, "승혜", "가연")...)

	fired, err := svc.CheckAllMembers(ctx, events)
	if err != nil || !fired {
		t.Fatalf("first check: fired=%v err=%v", fired, err)
	}
	h, _ := svc.History()
	if len(h.Notifications) != 1 || h.Notifications[0].Body != "All 3 members are scheduled on Sat, Feb 7." {
		t.Errorf("history = %+v", h.Notifications)
	}

	// Repeated checks never add a second record for Feb 7.
	for i := 0; i < 3; i++ {
		if fired, _ := svc.CheckAllMembers(ctx, events); fired {
			t.Error("re-fired on the same day")
		}
	}
	clock.Set(feb(6, 8, 0, 0))
	if fired, _ := svc.CheckAllMembers(ctx, events); fired {
		t.Error("re-fired for Feb 7 on the next day")
	}

	// A newly covered date fires on a later day.
	events = append(events, rosterEvents(9, "석린", "가연", "승혜")...)
	if fired, _ := svc.CheckAllMembers(ctx, events); !fired {
		t.Error("Feb 9 did not fire")
	}
	if n := countTitle(t, svc, "Everyone is in"); n != 2 {
		t.Errorf("all-members notifications = %d, want 2", n)
	}
}

func TestAllMembersMatchesEmailCaseInsensitive(t *testing.T) {
	kv := setupKV(t)
	clock := &fakeClock{now: feb(5, 8, 0, 0)}
	svc := newService(t, kv, clock, func(c *config.NotifyConfig) {
		c.AllMembers.Roster = []string{"pizza@test.com", "Hosk2014@test.com"}
	})

	events := []model.ScheduleEvent{
		{ID: 1, Start: feb(5, 9, 0, 0), AuthorEmail: "PIZZA@test.com"},
		{ID: 2, Start: feb(5, 10, 0, 0), AuthorEmail: "hosk2014@test.com"},
	}
	if fired, _ := svc.CheckAllMembers(context.Background(), events); !fired {
		t.Error("roster by email did not fire")
	}
}

func TestDebounce(t *testing.T) {
	kv := setupKV(t)
	clock := &fakeClock{now: feb(5, 12, 0, 0)}
	svc := newService(t, kv, clock)
	ctx := context.Background()

	if _, ok, _ := svc.Notify(ctx, "test", "Hi", "there"); !ok {
		t.Fatal("first notify not recorded")
	}
	clock.Set(feb(5, 12, 0, 3))
	if _, ok, _ := svc.Notify(ctx, "test", "Hi", "there"); ok {
		t.Error("duplicate within window recorded")
	}
	if _, ok, _ := svc.Notify(ctx, "test", "Hi", "elsewhere"); !ok {
		t.Error("different body should not be debounced")
	}
	clock.Set(feb(5, 12, 0, 10))
	if _, ok, _ := svc.Notify(ctx, "test", "Hi", "there"); !ok {
		t.Error("duplicate after window not recorded")
	}

	if n := countTitle(t, svc, "Hi"); n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func TestHistoryOperations(t *testing.T) {
	kv := setupKV(t)
	clock := &fakeClock{now: feb(5, 12, 0, 0)}
	svc := newService(t, kv, clock)
	ctx := context.Background()

	a, _, _ := svc.Notify(ctx, "test", "A", "")
	svc.Notify(ctx, "test", "B", "")
	svc.Notify(ctx, "test", "C", "")

	h, _ := svc.History()
	if len(h.Notifications) != 3 || h.Notifications[0].Title != "C" {
		t.Fatalf("history not newest first: %+v", h.Notifications)
	}
	if n, _ := svc.UnreadCount(); n != 3 {
		t.Errorf("unread = %d, want 3", n)
	}

	if err := svc.MarkRead(ctx, a.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n, _ := svc.UnreadCount(); n != 2 {
		t.Errorf("unread after mark read = %d, want 2", n)
	}

	if err := svc.Delete(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if h, _ := svc.History(); len(h.Notifications) != 2 {
		t.Errorf("len after delete = %d, want 2", len(h.Notifications))
	}

	if err := svc.MarkAllRead(ctx); err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	if n, _ := svc.UnreadCount(); n != 0 {
		t.Errorf("unread after mark all = %d, want 0", n)
	}

	if err := svc.ClearAll(ctx); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	h, _ = svc.History()
	if len(h.Notifications) != 0 {
		t.Errorf("len after clear = %d, want 0", len(h.Notifications))
	}
}

func TestHistoryLimit(t *testing.T) {
	kv := setupKV(t)
	clock := &fakeClock{now: feb(5, 12, 0, 0)}
	svc := newService(t, kv, clock, func(c *config.NotifyConfig) { c.HistoryLimit = 3 })
	ctx := context.Background()

	for _, title := range []string{"1", "2", "3", "4", "5"} {
		svc.Notify(ctx, "test", title, "")
	}
	h, _ := svc.History()
	if len(h.Notifications) != 3 {
		t.Fatalf("len = %d, want 3", len(h.Notifications))
	}
	if h.Notifications[0].Title != "5" || h.Notifications[2].Title != "3" {
		t.Errorf("kept = %+v", h.Notifications)
	}
}

func TestSubscribe(t *testing.T) {
	kv := setupKV(t)
	clock := &fakeClock{now: feb(5, 12, 0, 0)}
	svc := newService(t, kv, clock)
	ctx := context.Background()

	var counts []int
	cancel := svc.Subscribe(func(u Update) { counts = append(counts, u.Count) })

	svc.Notify(ctx, "test", "A", "")
	svc.Notify(ctx, "test", "B", "")
	svc.MarkAllRead(ctx)
	cancel()
	svc.Notify(ctx, "test", "C", "")

	want := []int{1, 2, 0}
	if len(counts) != len(want) {
		t.Fatalf("counts = %v, want %v", counts, want)
	}
	for i := range want {
		if counts[i] != want[i] {
			t.Errorf("counts[%d] = %d, want %d", i, counts[i], want[i])
		}
	}
}

func TestDeliveryRespectsPermission(t *testing.T) {
	kv := setupKV(t)
	clock := &fakeClock{now: feb(5, 12, 0, 0)}
	svc := newService(t, kv, clock)
	d := &fakeDeliverer{}
	svc.SetDeliverer(d)
	ctx := context.Background()

	if svc.Permission() != model.PermissionDefault {
		t.Errorf("permission = %q, want default", svc.Permission())
	}
	svc.Notify(ctx, "test", "A", "")
	if len(d.popups) != 0 {
		t.Error("popup sent without permission")
	}

	if err := svc.SetPermission(model.PermissionGranted); err != nil {
		t.Fatalf("set permission: %v", err)
	}
	svc.Notify(ctx, "test", "B", "")
	if len(d.popups) != 1 || d.popups[0].Title != "B" {
		t.Errorf("popups = %+v", d.popups)
	}

	// A failing popup still leaves the record.
	d.err = errors.New("push service down")
	svc.Notify(ctx, "test", "C", "")
	if n, _ := svc.UnreadCount(); n != 3 {
		t.Errorf("unread = %d, want 3", n)
	}

	if err := svc.SetPermission("maybe"); !errors.Is(err, ErrBadPermission) {
		t.Errorf("err = %v, want ErrBadPermission", err)
	}
}

func TestHandleInbound(t *testing.T) {
	kv := setupKV(t)
	clock := &fakeClock{now: feb(5, 12, 0, 0)}
	svc := newService(t, kv, clock)
	ctx := context.Background()

	if err := svc.HandleInbound(ctx, []byte(`{"notification":{"title":"Nested","body":"b"}}`)); err != nil {
		t.Fatalf("nested: %v", err)
	}
	if err := svc.HandleInbound(ctx, []byte(`{"title":"Flat","body":"b"}`)); err != nil {
		t.Fatalf("flat: %v", err)
	}
	if err := svc.HandleInbound(ctx, []byte(`{"notification":{}}`)); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("empty err = %v", err)
	}
	if err := svc.HandleInbound(ctx, []byte(`not json`)); err == nil {
		t.Error("expected decode error")
	}

	if countTitle(t, svc, "Nested") != 1 || countTitle(t, svc, "Flat") != 1 {
		t.Error("inbound notifications not recorded")
	}
}

func TestPruneMarkers(t *testing.T) {
	kv := setupKV(t)
	clock := &fakeClock{now: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	svc := newService(t, kv, clock)

	kv.Set("notify:trash:2026-01-01", "x")
	kv.Set("notify:trash:2026-05-30", "x")
	kv.Set("notify:rent-due:2025-12", "x")
	kv.Set("notify:all-members-checked", "2026-01-01")

	svc.PruneMarkers(markerRetention)

	if _, ok, _ := kv.Get("notify:trash:2026-01-01"); ok {
		t.Error("old trash marker kept")
	}
	if _, ok, _ := kv.Get("notify:rent-due:2025-12"); ok {
		t.Error("old rent marker kept")
	}
	if _, ok, _ := kv.Get("notify:trash:2026-05-30"); !ok {
		t.Error("recent marker removed")
	}
	if _, ok, _ := kv.Get("notify:all-members-checked"); !ok {
		t.Error("checked marker should not be pruned")
	}
}

func TestStartStop(t *testing.T) {
	kv := setupKV(t)
	clock := &fakeClock{now: feb(5, 20, 0, 0)}
	svc := newService(t, kv, clock)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	svc.Stop()

	// Start runs the rules once immediately.
	if n := countTitle(t, svc, "Trash day"); n != 1 {
		t.Errorf("trash notifications = %d, want 1", n)
	}
}

type blockingDeliverer struct {
	started chan string
	release chan struct{}
}

func (b *blockingDeliverer) Popup(ctx context.Context, n model.Notification) error {
	b.started <- n.Title
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestSlowPopupDoesNotHoldRules(t *testing.T) {
	kv := setupKV(t)
	clock := &fakeClock{now: feb(5, 20, 0, 5)}
	svc := newService(t, kv, clock)
	if err := svc.SetPermission(model.PermissionGranted); err != nil {
		t.Fatalf("set permission: %v", err)
	}
	d := &blockingDeliverer{started: make(chan string, 2), release: make(chan struct{})}
	svc.SetDeliverer(d)

	within := func(name string, fn func()) {
		t.Helper()
		done := make(chan struct{})
		go func() {
			fn()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s blocked on popup delivery", name)
		}
	}

	within("trash check", func() {
		if fired, err := svc.CheckTrash(context.Background()); err != nil || !fired {
			t.Errorf("trash: fired=%v err=%v", fired, err)
		}
	})
	select {
	case title := <-d.started:
		if title != "Trash day" {
			t.Errorf("popup = %q, want Trash day", title)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("trash popup never requested")
	}

	// The trash popup is still in flight. A schedule change must not wait
	// for it.
	within("schedule change", func() {
		svc.OnScheduleChange(rosterEvents(7, "승혜", "가연", "석린"))
	})
	if n := countTitle(t, svc, "Everyone is in"); n != 1 {
		t.Errorf("all-members notifications = %d, want 1", n)
	}

	close(d.release)
	svc.Stop()
	if got := len(d.started); got != 1 {
		t.Errorf("popups still queued after stop = %d, want 1", got)
	}
}
