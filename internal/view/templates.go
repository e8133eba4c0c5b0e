package view

import (
	"bytes"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/tavern-panel/panel/internal/shared"
	"github.com/tavern-panel/panel/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// User is the authenticated employee as seen by the layout.
type User struct {
	ID          int64
	Username    string
	DisplayName string
	Role        string
	Permissions map[string]bool
}

// Can reports whether the user holds perm. Safe on nil.
func (u *User) Can(perm string) bool {
	return u != nil && u.Permissions[perm]
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	User        *User
	Data        any
}

// Options tune formatting helpers.
type Options struct {
	CurrencySymbol string
	Language       language.Tag
}

// NewEngine parses templates at build-time.
func NewEngine(opts ...Options) (*Engine, error) {
	opt := Options{CurrencySymbol: "$", Language: language.French}
	if len(opts) > 0 {
		if opts[0].CurrencySymbol != "" {
			opt.CurrencySymbol = opts[0].CurrencySymbol
		}
		if opts[0].Language != language.Und {
			opt.Language = opts[0].Language
		}
	}
	tpl, err := template.New("root").Funcs(FuncMap(opt)).ParseFS(web.Templates,
		"templates/layouts/*.html",
		"templates/partials/*.html",
		"templates/pages/*.html",
		"templates/pages/*/*.html",
	)
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// FuncMap returns the helpers available to every template.
func FuncMap(opt Options) template.FuncMap {
	printer := message.NewPrinter(opt.Language)
	return template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02/01/2006 15:04")
		},
		"formatDay": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02/01/2006")
		},
		"money": func(v float64) string {
			return printer.Sprintf("%.2f", v) + " " + opt.CurrencySymbol
		},
		"number": func(v int) string {
			return printer.Sprintf("%d", v)
		},
		"percent": func(v float64) string {
			return printer.Sprintf("%.2f", v) + " %"
		},
		"minutes": func(d time.Duration) int {
			return int(math.Round(d.Minutes()))
		},
		"safeHTML": func(s string) template.HTML {
			return template.HTML(s)
		},
		"add":   func(a, b int) int { return a + b },
		"sub":   func(a, b int) int { return a - b },
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"active": func(current, prefix string) bool {
			if prefix == "/" {
				return current == "/"
			}
			return strings.HasPrefix(current, prefix)
		},
	}
}

// Render executes a named template with TemplateData.
// The output is buffered so a failing template never leaves a half-written page.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := buf.WriteTo(w)
	return err
}
