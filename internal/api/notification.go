package api

import (
	"context"
	"net/http"
)

// OutboundNotification asks the backend to fan a message out to the
// household's devices.
type OutboundNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (c *Client) SendNotification(ctx context.Context, n OutboundNotification) error {
	return c.do(ctx, http.MethodPost, "/notifications/send", "notifications_send", n, nil)
}

// RegisterPushToken forwards a device's push endpoint to the backend.
func (c *Client) RegisterPushToken(ctx context.Context, token string) error {
	body := struct {
		Token string `json:"token"`
	}{Token: token}
	return c.do(ctx, http.MethodPost, "/notifications/token", "notifications_token", body, nil)
}
