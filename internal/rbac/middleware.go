package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/tavern-panel/panel/internal/payroll"
	"github.com/tavern-panel/panel/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
// Permissions come from the role of the identity loaded by the app middleware.
type Middleware struct {
	Logger    *slog.Logger
	LoginPath string
}

// RequireLogin redirects anonymous visitors to the login page.
func (m Middleware) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.IdentityFromContext(r.Context()); !ok {
			http.Redirect(w, r, m.loginPath(), http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAny ensures the current user has at least one of the required permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			granted, ok := m.granted(w, r)
			if !ok {
				return
			}
			if hasAnyPermission(granted, normalized) {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(r, normalized)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// RequireAll ensures the current user has all required permissions.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			granted, ok := m.granted(w, r)
			if !ok {
				return
			}
			if hasAllPermissions(granted, normalized) {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(r, normalized)
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// granted writes the response itself when it returns false.
func (m Middleware) granted(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	id, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		if r.Method == http.MethodGet {
			http.Redirect(w, r, m.loginPath(), http.StatusSeeOther)
		} else {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		}
		return nil, false
	}
	return PermissionsFor(payroll.Role(id.Role)), true
}

func (m Middleware) deny(r *http.Request, required []string) {
	if m.Logger == nil {
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	m.Logger.Warn("rbac denied",
		slog.Int64("user_id", id.ID),
		slog.String("role", id.Role),
		slog.String("path", r.URL.Path),
		slog.String("required", strings.Join(required, ",")))
}

func (m Middleware) loginPath() string {
	if m.LoginPath == "" {
		return "/auth/login"
	}
	return m.LoginPath
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
