// Package server assembles the HTTP router.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/cohabit/internal/calendar"
	"github.com/dukerupert/cohabit/internal/config"
	"github.com/dukerupert/cohabit/internal/handler"
	"github.com/dukerupert/cohabit/internal/ledger"
	"github.com/dukerupert/cohabit/internal/metrics"
	"github.com/dukerupert/cohabit/internal/middleware"
	"github.com/dukerupert/cohabit/internal/notify"
	"github.com/dukerupert/cohabit/internal/push"
	"github.com/dukerupert/cohabit/internal/session"
	ws "github.com/dukerupert/cohabit/internal/websocket"
)

// Deps are the long-lived services the router serves.
type Deps struct {
	Config   *config.Config
	Sessions *session.Manager
	Calendar *calendar.Service
	Ledger   *ledger.Service
	Notify   *notify.Service
	// Notifier is nil when web push is not configured.
	Notifier *push.Notifier
	Backend  handler.Broadcaster
	Hub      *ws.Hub
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type Server struct {
	sessions    *session.Manager
	ledger      *ledger.Service
	hub         *ws.Hub
	metrics     *metrics.Metrics
	pages       *handler.Pages
	calendarH   *handler.CalendarHandler
	expenseH    *handler.ExpenseHandler
	notifyH     *handler.NotificationHandler
	pushH       *handler.PushHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(d Deps) (*Server, error) {
	loc := d.Config.Location()
	calendarH := handler.NewCalendarHandler(d.Calendar, loc, d.Config.FirstWeekday(), d.Logger)
	expenseH := handler.NewExpenseHandler(d.Ledger, loc, d.Logger)

	pages, err := handler.NewPages(d.Sessions, calendarH, expenseH, d.Notify, d.Logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		sessions:    d.Sessions,
		ledger:      d.Ledger,
		hub:         d.Hub,
		metrics:     d.Metrics,
		pages:       pages,
		calendarH:   calendarH,
		expenseH:    expenseH,
		notifyH:     handler.NewNotificationHandler(d.Notify, d.Backend, d.Logger),
		rateLimiter: middleware.NewRateLimiter(),
		logger:      d.Logger,
	}
	if d.Notifier != nil {
		s.pushH = handler.NewPushHandler(d.Notifier, d.Logger)
	}
	return s, nil
}

// RateLimiter returns the login rate limiter for its cleanup loop.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /login", s.pages.LoginPage)
	outerMux.HandleFunc("POST /login", s.rateLimitedHandler(s.pages.Login))
	outerMux.Handle("GET /static/", http.StripPrefix("/static/", handler.Static()))
	outerMux.Handle("GET /sw.js", handler.Static())
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", s.metrics.Handler())

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	gate := middleware.RequireSession(s.sessions, s.ledger.CanEdit)
	outerMux.Handle("/", gate(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"), s.metrics)(s.sameOrigin(outerMux))
}

// sameOrigin rejects unsafe requests that a browser marks as cross-site.
func (s *Server) sameOrigin(next http.Handler) http.Handler {
	cop := http.NewCrossOriginProtection()
	cop.SetDenyHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Warn("cross-origin request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"origin", r.Header.Get("Origin"),
			"remote", r.RemoteAddr,
		)
		http.Error(w, "Forbidden", http.StatusForbidden)
	}))
	return cop.Handler(next)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"session": s.sessions.State().String(),
	})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.RealIP, 10, time.Minute)
	return rl(h).ServeHTTP
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /logout", s.pages.Logout)

	// Pages
	mux.HandleFunc("GET /{$}", s.pages.Calendar)
	mux.HandleFunc("GET /expenses", s.pages.Expenses)
	mux.HandleFunc("GET /calendar.ics", s.calendarH.ICS)

	// Schedule API
	mux.HandleFunc("GET /api/schedules", s.calendarH.List)
	mux.HandleFunc("GET /api/schedules/month", s.calendarH.Month)
	mux.HandleFunc("GET /api/schedules/week", s.calendarH.Week)
	mux.HandleFunc("GET /api/schedules/draft", s.calendarH.Draft)
	mux.HandleFunc("GET /api/schedules/{id}", s.calendarH.Get)
	mux.HandleFunc("POST /api/schedules", s.calendarH.Create)
	mux.HandleFunc("PUT /api/schedules/{id}", s.calendarH.Update)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.calendarH.Delete)

	// Ledger API
	mux.HandleFunc("GET /api/transactions", s.expenseH.List)
	mux.HandleFunc("POST /api/transactions", s.expenseH.Create)
	mux.HandleFunc("PUT /api/transactions/{id}", s.expenseH.Update)
	mux.HandleFunc("DELETE /api/transactions/{id}", s.expenseH.Delete)

	// Notifications API
	mux.HandleFunc("GET /api/notifications", s.notifyH.List)
	mux.HandleFunc("DELETE /api/notifications", s.notifyH.Clear)
	mux.HandleFunc("GET /api/notifications/unread", s.notifyH.Unread)
	mux.HandleFunc("POST /api/notifications/read-all", s.notifyH.MarkAllRead)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.notifyH.MarkRead)
	mux.HandleFunc("DELETE /api/notifications/{id}", s.notifyH.Delete)
	mux.HandleFunc("GET /api/notifications/permission", s.notifyH.Permission)
	mux.HandleFunc("PUT /api/notifications/permission", s.notifyH.SetPermission)
	mux.HandleFunc("POST /api/notifications/inbound", s.notifyH.Inbound)
	mux.HandleFunc("POST /api/notifications/send", s.notifyH.Send)

	// Push API
	if s.pushH != nil {
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDKey)
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("POST /api/push/unsubscribe", s.pushH.Unsubscribe)
	}

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub))

	// Anything else goes back to the calendar.
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
	})
}
