package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/cohabit/internal/api"
	"github.com/dukerupert/cohabit/internal/auth"
	"github.com/dukerupert/cohabit/internal/calendar"
	"github.com/dukerupert/cohabit/internal/config"
	"github.com/dukerupert/cohabit/internal/database"
	"github.com/dukerupert/cohabit/internal/ledger"
	"github.com/dukerupert/cohabit/internal/model"
	"github.com/dukerupert/cohabit/internal/notify"
	"github.com/dukerupert/cohabit/internal/store"
)

var (
	admin  = model.User{ID: 1, Name: "Dana", Email: "dana@example.com"}
	member = model.User{ID: 2, Name: "Robin", Email: "robin@example.com"}

	errTransport = errors.New("dial tcp: connection refused")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSchedules struct {
	mu      sync.Mutex
	events  []model.ScheduleEvent
	nextID  int64
	listErr error
	err     error
}

func (f *fakeSchedules) ListSchedules(ctx context.Context) ([]model.ScheduleEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]model.ScheduleEvent(nil), f.events...), nil
}

func (f *fakeSchedules) CreateSchedule(ctx context.Context, in api.ScheduleInput) (model.ScheduleEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return model.ScheduleEvent{}, f.err
	}
	f.nextID++
	return model.ScheduleEvent{ID: f.nextID}, nil
}

func (f *fakeSchedules) UpdateSchedule(ctx context.Context, id int64, in api.ScheduleInput) error {
	return f.err
}

func (f *fakeSchedules) DeleteSchedule(ctx context.Context, id int64) error {
	return f.err
}

type fakeLedger struct {
	mu  sync.Mutex
	txs []model.Transaction
	err error
}

func (f *fakeLedger) ListTransactions(ctx context.Context) ([]model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]model.Transaction(nil), f.txs...), nil
}

func (f *fakeLedger) CreateTransaction(ctx context.Context, in api.TransactionInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = append(f.txs, model.Transaction{ID: int64(len(f.txs) + 1), Type: in.Type, Amount: in.Amount, Date: in.Date})
	return nil
}

func (f *fakeLedger) UpdateTransaction(ctx context.Context, id int64, in api.TransactionInput) error {
	return nil
}

func (f *fakeLedger) DeleteTransaction(ctx context.Context, id int64) error {
	return nil
}

type fakeBroadcaster struct {
	sent []api.OutboundNotification
	err  error
}

func (f *fakeBroadcaster) SendNotification(ctx context.Context, n api.OutboundNotification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

// asViewer attaches u to every request, the way the session gate does.
func asViewer(u model.User, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithAuth(r.Context(), auth.AuthContext{User: u, Admin: u.Email == admin.Email})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func setupNotify(t *testing.T) *notify.Service {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	svc, err := notify.NewService(store.NewKVStore(db), config.DefaultConfig().Notify, time.UTC, testLogger())
	if err != nil {
		t.Fatalf("new notify service: %v", err)
	}
	return svc
}

func TestFailure(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"unauthorized", fmt.Errorf("fetch: %w", api.ErrUnauthorized), http.StatusUnauthorized, msgSessionExpired},
		{"not owner", calendar.ErrNotOwner, http.StatusForbidden, msgNotOwner},
		{"not found", calendar.ErrNotFound, http.StatusNotFound, calendar.ErrNotFound.Error()},
		{"read only", ledger.ErrReadOnly, http.StatusForbidden, ledger.ReadOnlyBanner},
		{"invalid draft", calendar.ErrInvalidDraft, http.StatusBadRequest, calendar.ErrInvalidDraft.Error()},
		{"backend message", &api.StatusError{Status: 500, Message: "database down"}, http.StatusBadGateway, "database down"},
		{"backend no message", &api.StatusError{Status: 500}, http.StatusBadGateway, msgBackendError},
		{"transport", errors.New("dial tcp: refused"), http.StatusBadGateway, msgUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := failure(tt.err)
			if status != tt.status {
				t.Errorf("status = %d, want %d", status, tt.status)
			}
			if msg != tt.msg {
				t.Errorf("msg = %q, want %q", msg, tt.msg)
			}
		})
	}
}
