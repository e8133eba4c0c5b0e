package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tavern-panel/panel/internal/cleaning"
	"github.com/tavern-panel/panel/internal/rbac"
	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/internal/view"
	"github.com/tavern-panel/panel/internal/weeks"
)

// WeekPreviewer supplies the live figures of the active week.
type WeekPreviewer interface {
	Preview(ctx context.Context) (weeks.Preview, error)
}

// OpenSessionFinder returns the employee's running cleaning session.
type OpenSessionFinder interface {
	Current(ctx context.Context, userID int64) (cleaning.Session, error)
}

// Dashboard serves the home page.
type Dashboard struct {
	logger    *slog.Logger
	weeks     WeekPreviewer
	cleaning  OpenSessionFinder
	templates *view.Engine
	csrf      *shared.CSRFManager
	now       func() time.Time
}

// NewDashboard builds the home page handler.
func NewDashboard(logger *slog.Logger, weekSource WeekPreviewer, cleaningSource OpenSessionFinder, templates *view.Engine, csrf *shared.CSRFManager) *Dashboard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dashboard{logger: logger, weeks: weekSource, cleaning: cleaningSource, templates: templates, csrf: csrf, now: time.Now}
}

// ServeHTTP renders the dashboard, or sends anonymous visitors to the login page.
func (d *Dashboard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	user := rbac.CurrentUser(r.Context())

	var (
		preview     *weeks.Preview
		openSession *cleaning.Session
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		p, err := d.weeks.Preview(ctx)
		if errors.Is(err, weeks.ErrNoActiveWeek) {
			return nil
		}
		if err != nil {
			return err
		}
		preview = &p
		return nil
	})
	g.Go(func() error {
		s, err := d.cleaning.Current(ctx, identity.ID)
		if errors.Is(err, cleaning.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		openSession = &s
		return nil
	})
	if err := g.Wait(); err != nil {
		d.logger.Error("load dashboard", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	data := map[string]any{
		"Preview":     preview,
		"OpenSession": openSession,
		"Now":         d.now(),
		"ShowWeek":    user.Can(rbac.PermWeeksView),
	}
	if preview != nil {
		for _, p := range preview.Performance {
			if p.UserID == identity.ID {
				mine := p
				data["Mine"] = &mine
				break
			}
		}
	}

	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := d.csrf.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	err := d.templates.Render(w, "pages/dashboard.html", view.TemplateData{
		Title:       "Tableau de bord",
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		User:        user,
		Data:        data,
	})
	if err != nil {
		d.logger.Error("render dashboard", slog.Any("error", err))
	}
}
