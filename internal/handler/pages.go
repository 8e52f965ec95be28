package handler

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dukerupert/cohabit/internal/api"
	"github.com/dukerupert/cohabit/internal/auth"
	"github.com/dukerupert/cohabit/internal/calendar"
	"github.com/dukerupert/cohabit/internal/ledger"
	"github.com/dukerupert/cohabit/internal/middleware"
	"github.com/dukerupert/cohabit/internal/model"
	"github.com/dukerupert/cohabit/internal/notify"
	"github.com/dukerupert/cohabit/internal/session"
	"github.com/shopspring/decimal"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Static serves the stylesheet, script and service worker.
func Static() http.Handler {
	sub, _ := fs.Sub(staticFS, "static")
	return http.FileServerFS(sub)
}

var templateFuncs = template.FuncMap{
	"money": func(d decimal.Decimal) string {
		return d.StringFixed(0)
	},
	"signed":     ledger.Signed,
	"isNegative": func(d decimal.Decimal) bool { return d.IsNegative() },
}

func parsePages(names ...string) (map[string]*template.Template, error) {
	out := make(map[string]*template.Template, len(names))
	for _, name := range names {
		t, err := template.New(name).Funcs(templateFuncs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}

// page is the data every template receives.
type page struct {
	Title  string
	Active string
	User   *model.User
	Admin  bool
	Unread int
	Flash  string
	Data   any
}

// Pages renders the login screen and the two tabs.
type Pages struct {
	sessions  *session.Manager
	calendar  *CalendarHandler
	expenses  *ExpenseHandler
	notes     *notify.Service
	templates map[string]*template.Template
	logger    *slog.Logger
}

func NewPages(sessions *session.Manager, cal *CalendarHandler, exp *ExpenseHandler, notes *notify.Service, logger *slog.Logger) (*Pages, error) {
	tmpl, err := parsePages("login", "calendar", "expenses")
	if err != nil {
		return nil, err
	}
	return &Pages{
		sessions:  sessions,
		calendar:  cal,
		expenses:  exp,
		notes:     notes,
		templates: tmpl,
		logger:    logger.With("component", "pages"),
	}, nil
}

func (p *Pages) render(w http.ResponseWriter, r *http.Request, name string, data page) {
	if ac, ok := auth.FromContext(r.Context()); ok {
		data.User = &ac.User
		data.Admin = ac.Admin
		if n, err := p.notes.UnreadCount(); err == nil {
			data.Unread = n
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := p.templates[name].ExecuteTemplate(w, "layout", data); err != nil {
		p.logger.Error("render template", "page", name, "error", err)
	}
}

// flash turns a failed refresh into a banner, or reports that the session
// ended and the caller should stop.
func (p *Pages) flash(w http.ResponseWriter, r *http.Request, err error) (string, bool) {
	if err == nil {
		return "", true
	}
	if errors.Is(err, api.ErrUnauthorized) {
		middleware.RedirectToLogin(w, r)
		return "", false
	}
	_, msg := failure(err)
	return msg, true
}

type loginData struct {
	Email    string
	Remember bool
	Message  string
}

// LoginPage handles GET /login
func (p *Pages) LoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := p.sessions.Current(); ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	email := p.sessions.RememberedEmail()
	p.render(w, r, "login", page{
		Title: "Sign in · cohabit",
		Data:  loginData{Email: email, Remember: email != ""},
	})
}

// Login handles POST /login
func (p *Pages) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form data", http.StatusBadRequest)
		return
	}
	creds := session.Credentials{
		Email:    r.FormValue("email"),
		Password: r.FormValue("password"),
		Remember: r.FormValue("remember") == "true",
	}
	ok, msg := p.sessions.Login(r.Context(), creds)
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		p.render(w, r, "login", page{
			Title: "Sign in · cohabit",
			Data:  loginData{Email: creds.Email, Remember: creds.Remember, Message: msg},
		})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// Logout handles POST /logout
func (p *Pages) Logout(w http.ResponseWriter, r *http.Request) {
	p.sessions.Logout()
	middleware.RedirectToLogin(w, r)
}

type calendarData struct {
	View     string
	Heading  string
	Date     string
	PrevURL  string
	NextURL  string
	TodayURL string
	Weekdays []string
	Weeks    [][]calendar.Day
	Days     []calendar.Day
}

func calendarURL(view string, d time.Time) string {
	q := url.Values{"view": {view}, "date": {d.Format("2006-01-02")}}
	return "/?" + q.Encode()
}

func localize(days []calendar.Day, loc *time.Location) {
	for i := range days {
		for j := range days[i].Events {
			e := &days[i].Events[j]
			e.Start, e.End = e.Start.In(loc), e.End.In(loc)
		}
	}
}

// Calendar handles GET /, the schedule tab.
func (p *Pages) Calendar(w http.ResponseWriter, r *http.Request) {
	h := p.calendar
	now := h.now()
	day := now
	if v := r.URL.Query().Get("date"); v != "" {
		if d, err := time.ParseInLocation("2006-01-02", v, h.loc); err == nil {
			day = d
		}
	}
	view := r.URL.Query().Get("view")
	if view != "week" {
		view = "month"
	}

	events, err := h.events(r)
	msg, ok := p.flash(w, r, err)
	if !ok {
		return
	}

	data := calendarData{View: view, Date: day.Format("2006-01-02"), TodayURL: calendarURL(view, now)}
	for i := 0; i < 7; i++ {
		data.Weekdays = append(data.Weekdays, time.Weekday((int(h.weekStart) + i) % 7).String()[:3])
	}
	if view == "month" {
		data.Heading = day.Format("January 2006")
		data.Weeks = calendar.MonthGrid(events, day.Year(), day.Month(), h.weekStart, now)
		for _, week := range data.Weeks {
			localize(week, h.loc)
		}
		first := time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, h.loc)
		data.PrevURL = calendarURL(view, first.AddDate(0, -1, 0))
		data.NextURL = calendarURL(view, first.AddDate(0, 1, 0))
	} else {
		data.Days = calendar.WeekList(events, day, h.weekStart, now)
		localize(data.Days, h.loc)
		data.Heading = "Week of " + data.Days[0].Date.Format("Jan 2, 2006")
		data.PrevURL = calendarURL(view, day.AddDate(0, 0, -7))
		data.NextURL = calendarURL(view, day.AddDate(0, 0, 7))
	}

	p.render(w, r, "calendar", page{
		Title:  "Calendar · cohabit",
		Active: "calendar",
		Flash:  msg,
		Data:   data,
	})
}

type expensesData struct {
	ledgerResponse
	Categories []string
}

// Expenses handles GET /expenses, the ledger tab.
func (p *Pages) Expenses(w http.ResponseWriter, r *http.Request) {
	txs, err := p.expenses.svc.Refresh(r.Context())
	msg, ok := p.flash(w, r, err)
	if !ok {
		return
	}
	if err != nil {
		txs = p.expenses.svc.Transactions()
	}

	cats := make([]string, len(model.Categories))
	for i, c := range model.Categories {
		cats[i] = string(c)
	}
	p.render(w, r, "expenses", page{
		Title:  "Expenses · cohabit",
		Active: "expenses",
		Flash:  msg,
		Data: expensesData{
			ledgerResponse: p.expenses.ledgerView(txs, r.URL.Query().Get("category"), auth.User(r.Context())),
			Categories:     cats,
		},
	})
}
