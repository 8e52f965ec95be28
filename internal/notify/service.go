// Package notify records reminder notifications, evaluates the household
// reminder rules and fans updates out to subscribers.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/cohabit/internal/config"
	"github.com/dukerupert/cohabit/internal/metrics"
	"github.com/dukerupert/cohabit/internal/model"
	"github.com/dukerupert/cohabit/internal/store"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const (
	historyKey    = "notify:history"
	permissionKey = "notify:permission"

	deliverTimeout = 30 * time.Second
)

// Deliverer shows a platform popup for a recorded notification.
type Deliverer interface {
	Popup(ctx context.Context, n model.Notification) error
}

// Update is what subscribers receive after every history change.
type Update struct {
	Notifications []model.Notification `json:"notifications"`
	Count         int                  `json:"count"`
}

// Service owns the notification history document and the rule timers.
type Service struct {
	kv      *store.KVStore
	cfg     config.NotifyConfig
	loc     *time.Location
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Now is the clock for rules, timestamps and debounce.
	Now func() time.Time

	trashDays  []time.Weekday
	trashHour  int
	trashMin   int
	deliverer  Deliverer
	cron       *cron.Cron
	cronCancel context.CancelFunc

	// histMu guards the history document and the debounce table.
	histMu sync.Mutex
	recent map[string]time.Time

	// ruleMu guards dedup markers and the last-checked minutes. Popups are
	// never requested while it is held.
	ruleMu      sync.Mutex
	lastChecked map[string]string
	delivering  sync.WaitGroup

	subMu   sync.RWMutex
	subs    map[int]func(Update)
	nextSub int
}

func NewService(kv *store.KVStore, cfg config.NotifyConfig, loc *time.Location, logger *slog.Logger) (*Service, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		kv:          kv,
		cfg:         cfg,
		loc:         loc,
		logger:      logger.With("component", "notify"),
		Now:         time.Now,
		recent:      make(map[string]time.Time),
		lastChecked: make(map[string]string),
		subs:        make(map[int]func(Update)),
	}

	for _, wd := range cfg.Trash.Weekdays {
		d, err := config.ParseWeekday(wd)
		if err != nil {
			return nil, fmt.Errorf("trash rule: %w", err)
		}
		s.trashDays = append(s.trashDays, d)
	}
	h, m, err := config.ParseClock(cfg.Trash.Time)
	if err != nil {
		return nil, fmt.Errorf("trash rule: %w", err)
	}
	s.trashHour, s.trashMin = h, m

	return s, nil
}

// SetDeliverer attaches the popup channel.
func (s *Service) SetDeliverer(d Deliverer) {
	s.deliverer = d
}

func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

func (s *Service) now() time.Time {
	return s.Now().In(s.loc)
}

// Start schedules the time-based rules every minute and runs them once.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cronCancel = cancel

	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{s.logger})),
	)
	if _, err := c.AddFunc("* * * * *", func() { s.CheckTrash(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule trash rule: %w", err)
	}
	if _, err := c.AddFunc("* * * * *", func() { s.CheckRent(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule rent rule: %w", err)
	}
	if _, err := c.AddFunc("@daily", func() { s.PruneMarkers(markerRetention) }); err != nil {
		cancel()
		return fmt.Errorf("schedule marker pruning: %w", err)
	}
	s.cron = c
	c.Start()

	s.CheckTrash(ctx)
	s.CheckRent(ctx)
	s.logger.Info("notification rules started", "timezone", s.loc.String())
	return nil
}

// Stop halts the timers and waits for running checks and pending popups to
// finish.
func (s *Service) Stop() {
	if s.cron != nil {
		s.cronCancel()
		done := s.cron.Stop()
		<-done.Done()
		s.logger.Info("notification rules stopped")
	}
	s.delivering.Wait()
}

// Permission returns the stored popup permission.
func (s *Service) Permission() model.Permission {
	v, ok, err := s.kv.Get(permissionKey)
	if err != nil || !ok {
		return model.PermissionDefault
	}
	return model.Permission(v)
}

var ErrBadPermission = errors.New("permission must be default, granted or denied")

func (s *Service) SetPermission(p model.Permission) error {
	switch p {
	case model.PermissionDefault, model.PermissionGranted, model.PermissionDenied:
	default:
		return ErrBadPermission
	}
	if err := s.kv.Set(permissionKey, string(p)); err != nil {
		return fmt.Errorf("save permission: %w", err)
	}
	s.logger.Info("notification permission changed", "permission", p)
	return nil
}

// Notify records a notification unless an identical one was recorded within
// the debounce window, then requests a popup when permission is granted.
// recorded is false for a debounced duplicate.
func (s *Service) Notify(ctx context.Context, source, title, body string) (model.Notification, bool, error) {
	n, recorded, err := s.record(ctx, source, title, body)
	if recorded {
		s.deliver(ctx, n)
	}
	return n, recorded, err
}

// record appends to the history and emits the new document without
// requesting a popup.
func (s *Service) record(ctx context.Context, source, title, body string) (n model.Notification, recorded bool, err error) {
	now := s.now()
	key := title + "\x00" + body

	s.histMu.Lock()
	if last, ok := s.recent[key]; ok && now.Sub(last) < s.cfg.Debounce {
		s.histMu.Unlock()
		s.logger.Debug("notification debounced", "source", source, "title", title)
		return model.Notification{}, false, nil
	}

	n = model.Notification{
		ID:        uuid.NewString(),
		Title:     title,
		Body:      body,
		Timestamp: now,
	}
	doc, err := store.UpdateJSON(ctx, s.kv, historyKey, func(h *model.NotificationHistory) error {
		h.Notifications = append([]model.Notification{n}, h.Notifications...)
		if limit := s.cfg.HistoryLimit; limit > 0 && len(h.Notifications) > limit {
			h.Notifications = h.Notifications[:limit]
		}
		h.LastUpdate = now
		return nil
	})
	if err != nil {
		s.histMu.Unlock()
		return model.Notification{}, false, fmt.Errorf("record notification: %w", err)
	}
	s.recent[key] = now
	for k, t := range s.recent {
		if now.Sub(t) >= s.cfg.Debounce {
			delete(s.recent, k)
		}
	}
	s.histMu.Unlock()

	s.logger.Info("notification recorded", "source", source, "title", title)
	s.metrics.NotificationRecorded(source)
	s.emit(doc)
	return n, true, nil
}

// deliverLater requests popups for rule notifications in the background,
// each bounded by deliverTimeout. Stop waits for them.
func (s *Service) deliverLater(pending []model.Notification) {
	for _, n := range pending {
		s.delivering.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
			defer cancel()
			s.deliver(ctx, n)
		})
	}
}

func (s *Service) deliver(ctx context.Context, n model.Notification) {
	if s.deliverer == nil {
		return
	}
	if p := s.Permission(); p != model.PermissionGranted {
		s.logger.Debug("popup skipped", "permission", p)
		return
	}
	if err := s.deliverer.Popup(ctx, n); err != nil {
		s.logger.Warn("popup delivery failed", "id", n.ID, "error", err)
	}
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
