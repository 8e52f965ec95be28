package middleware

import (
	"net/http"
	"strings"

	"github.com/dukerupert/cohabit/internal/auth"
	"github.com/dukerupert/cohabit/internal/model"
)

// SessionSource reports the signed-in user, if any.
type SessionSource interface {
	Current() (model.User, bool)
}

// RequireSession lets a request through only while a user is signed in and
// attaches them as the AuthContext. admin decides the ledger edit gate.
// Pages redirect to /login (HX-Redirect for HTMX requests); /api/ paths
// get a 401.
func RequireSession(sessions SessionSource, admin func(model.User) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := sessions.Current()
			if !ok {
				if strings.HasPrefix(r.URL.Path, "/api/") {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				RedirectToLogin(w, r)
				return
			}

			ac := auth.AuthContext{User: user}
			if admin != nil {
				ac.Admin = admin(user)
			}
			next.ServeHTTP(w, r.WithContext(auth.WithAuth(r.Context(), ac)))
		})
	}
}

// RedirectToLogin sends the browser to the login page. htmx requests get an
// HX-Redirect header instead of a 303.
func RedirectToLogin(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/login")
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
