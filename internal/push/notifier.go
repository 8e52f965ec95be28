package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukerupert/cohabit/internal/metrics"
	"github.com/dukerupert/cohabit/internal/model"
	"github.com/dukerupert/cohabit/internal/store"
)

// TokenRegistrar forwards a device push token to the backend.
type TokenRegistrar interface {
	RegisterPushToken(ctx context.Context, token string) error
}

// Notifier shows popups on every subscribed device.
type Notifier struct {
	svc       *Service
	subs      *store.PushStore
	registrar TokenRegistrar
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewNotifier(svc *Service, subs *store.PushStore, registrar TokenRegistrar, logger *slog.Logger) *Notifier {
	return &Notifier{
		svc:       svc,
		subs:      subs,
		registrar: registrar,
		logger:    logger.With("component", "push"),
	}
}

func (n *Notifier) SetMetrics(m *metrics.Metrics) {
	n.metrics = m
}

// VAPIDPublicKey returns the key browsers subscribe with.
func (n *Notifier) VAPIDPublicKey() string {
	return n.svc.VAPIDPublicKey()
}

// Popup sends note to every subscription. Expired subscriptions are removed.
func (n *Notifier) Popup(ctx context.Context, note model.Notification) error {
	subs, err := n.subs.List()
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	payload := Payload{
		ID:    note.ID,
		Title: note.Title,
		Body:  note.Body,
		URL:   "/",
		Tag:   note.ID,
	}

	var errs []error
	for i := range subs {
		sub := &subs[i]
		err := n.svc.Send(ctx, sub, payload)
		switch {
		case err == nil:
			n.metrics.PushDelivered("ok")
		case errors.Is(err, ErrExpired):
			n.metrics.PushDelivered("expired")
			n.logger.Info("removing expired subscription", "id", sub.ID, "device", sub.DeviceName)
			if err := n.subs.DeleteByEndpoint(sub.Endpoint); err != nil {
				n.logger.Error("delete expired subscription", "id", sub.ID, "error", err)
			}
		default:
			n.metrics.PushDelivered("error")
			errs = append(errs, fmt.Errorf("subscription %d: %w", sub.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Register stores a browser subscription and forwards its endpoint to the
// backend as the device token. A backend failure is logged, not returned.
func (n *Notifier) Register(ctx context.Context, endpoint, p256dh, auth, deviceName string) (*model.PushSubscription, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" || p256dh == "" || auth == "" {
		return nil, errors.New("endpoint and keys are required")
	}

	sub, err := n.subs.CreateSubscription(endpoint, p256dh, auth, deviceName)
	if err != nil {
		return nil, err
	}
	n.logger.Info("push subscription registered", "id", sub.ID, "device", deviceName)

	if n.registrar != nil {
		if err := n.registrar.RegisterPushToken(ctx, endpoint); err != nil {
			n.logger.Warn("forward push token", "error", err)
		}
	}
	return sub, nil
}

func (n *Notifier) Unregister(endpoint string) error {
	return n.subs.DeleteByEndpoint(endpoint)
}
