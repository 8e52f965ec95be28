package notify

import (
	"context"
	"fmt"

	"github.com/dukerupert/cohabit/internal/model"
	"github.com/dukerupert/cohabit/internal/store"
)

// History returns the stored notifications, newest first.
func (s *Service) History() (model.NotificationHistory, error) {
	var h model.NotificationHistory
	if _, err := s.kv.GetJSON(historyKey, &h); err != nil {
		return h, fmt.Errorf("load history: %w", err)
	}
	if h.Notifications == nil {
		h.Notifications = []model.Notification{}
	}
	return h, nil
}

func (s *Service) UnreadCount() (int, error) {
	h, err := s.History()
	if err != nil {
		return 0, err
	}
	return h.Unread(), nil
}

// mutate applies fn to the history document and emits the result.
func (s *Service) mutate(ctx context.Context, fn func(h *model.NotificationHistory) error) error {
	s.histMu.Lock()
	doc, err := store.UpdateJSON(ctx, s.kv, historyKey, func(h *model.NotificationHistory) error {
		if err := fn(h); err != nil {
			return err
		}
		h.LastUpdate = s.now()
		return nil
	})
	s.histMu.Unlock()
	if err != nil {
		return fmt.Errorf("update history: %w", err)
	}
	s.emit(doc)
	return nil
}

func (s *Service) MarkRead(ctx context.Context, id string) error {
	return s.mutate(ctx, func(h *model.NotificationHistory) error {
		for i := range h.Notifications {
			if h.Notifications[i].ID == id {
				h.Notifications[i].Read = true
			}
		}
		return nil
	})
}

func (s *Service) MarkAllRead(ctx context.Context) error {
	return s.mutate(ctx, func(h *model.NotificationHistory) error {
		for i := range h.Notifications {
			h.Notifications[i].Read = true
		}
		return nil
	})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.mutate(ctx, func(h *model.NotificationHistory) error {
		kept := h.Notifications[:0]
		for _, n := range h.Notifications {
			if n.ID != id {
				kept = append(kept, n)
			}
		}
		h.Notifications = kept
		return nil
	})
}

func (s *Service) ClearAll(ctx context.Context) error {
	return s.mutate(ctx, func(h *model.NotificationHistory) error {
		h.Notifications = []model.Notification{}
		return nil
	})
}

// Subscribe registers fn for history updates and returns its cancel func.
// fn runs synchronously on the goroutine that changed the history.
func (s *Service) Subscribe(fn func(Update)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Service) emit(h model.NotificationHistory) {
	u := Update{Notifications: h.Notifications, Count: h.Unread()}
	if u.Notifications == nil {
		u.Notifications = []model.Notification{}
	}

	s.subMu.RLock()
	fns := make([]func(Update), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(u)
	}
}
