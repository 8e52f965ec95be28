package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// InboundPayload is a push message from the backend. Both the nested
// {"notification": {...}} shape and a flat {"title", "body"} are accepted.
type InboundPayload struct {
	Notification *struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"notification"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

var ErrEmptyPayload = errors.New("push payload has no title")

// HandleInbound records a pushed message through the same path as the
// local rules.
func (s *Service) HandleInbound(ctx context.Context, raw []byte) error {
	var p InboundPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode push payload: %w", err)
	}

	title, body := p.Title, p.Body
	if p.Notification != nil {
		title, body = p.Notification.Title, p.Notification.Body
	}
	if strings.TrimSpace(title) == "" {
		return ErrEmptyPayload
	}

	_, _, err := s.Notify(ctx, "push", title, body)
	return err
}
