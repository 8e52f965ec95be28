package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/cohabit/internal/api"
	"github.com/dukerupert/cohabit/internal/model"
	"github.com/dukerupert/cohabit/internal/notify"
)

// Broadcaster asks the backend to push a message to the household.
type Broadcaster interface {
	SendNotification(ctx context.Context, n api.OutboundNotification) error
}

type NotificationHandler struct {
	svc         *notify.Service
	broadcaster Broadcaster
	logger      *slog.Logger
}

func NewNotificationHandler(svc *notify.Service, broadcaster Broadcaster, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		svc:         svc,
		broadcaster: broadcaster,
		logger:      logger.With("component", "notification_handler"),
	}
}

// List handles GET /api/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	hist, err := h.svc.History()
	if err != nil {
		h.logger.Error("load history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load notifications")
		return
	}
	writeJSON(w, http.StatusOK, notify.Update{Notifications: hist.Notifications, Count: hist.Unread()})
}

// Unread handles GET /api/notifications/unread
func (h *NotificationHandler) Unread(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.UnreadCount()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count notifications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (h *NotificationHandler) respond(w http.ResponseWriter, err error, action string) {
	if err != nil {
		h.logger.Error(action, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update notifications")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkRead handles POST /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.svc.MarkRead(r.Context(), r.PathValue("id")), "mark read")
}

// MarkAllRead handles POST /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.svc.MarkAllRead(r.Context()), "mark all read")
}

// Delete handles DELETE /api/notifications/{id}
func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.svc.Delete(r.Context(), r.PathValue("id")), "delete notification")
}

// Clear handles DELETE /api/notifications
func (h *NotificationHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.respond(w, h.svc.ClearAll(r.Context()), "clear notifications")
}

// Permission handles GET /api/notifications/permission
func (h *NotificationHandler) Permission(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]model.Permission{"permission": h.svc.Permission()})
}

// SetPermission handles PUT /api/notifications/permission
func (h *NotificationHandler) SetPermission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Permission model.Permission `json:"permission"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := h.svc.SetPermission(req.Permission); err != nil {
		if errors.Is(err, notify.ErrBadPermission) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("set permission", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save permission")
		return
	}
	writeJSON(w, http.StatusOK, map[string]model.Permission{"permission": req.Permission})
}

// Inbound handles POST /api/notifications/inbound, a push message relayed
// by the page's service worker.
func (h *NotificationHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r) {
		writeDecodeError(w, errNotJSON)
		return
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if err := h.svc.HandleInbound(r.Context(), raw); err != nil {
		if errors.Is(err, notify.ErrEmptyPayload) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid push payload")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Send handles POST /api/notifications/send
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req api.OutboundNotification
	if err := decodeJSON(w, r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if err := h.broadcaster.SendNotification(r.Context(), req); err != nil {
		h.logger.Warn("send notification", "error", err)
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
