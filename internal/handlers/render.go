package handlers

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/jishnu-pg/yesbuy-storefront/internal/format"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/httpx"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/requestctx"
	"github.com/jishnu-pg/yesbuy-storefront/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutFile = "templates/layout.html"

// page is the view model every template receives.
type page struct {
	Title    string
	Path     string
	CSRF     string
	LoggedIn bool
	Flashes  []session.Flash
	Refresh  *refresh
	Data     any
}

type refresh struct {
	Seconds int
	URL     string
}

type errorView struct {
	Status  int
	Heading string
	Detail  string
	Path    string
	Retry   bool
}

// views holds one template set per page, each sharing the layout.
type views struct {
	pages map[string]*template.Template
}

func newViews() (*views, error) {
	funcs := template.FuncMap{
		"inr":    format.INR,
		"date":   format.Date,
		"meters": format.Meters,
	}
	layout, err := template.New("layout").Funcs(funcs).ParseFS(templateFS, layoutFile)
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	v := &views{pages: make(map[string]*template.Template, len(files))}
	for _, file := range files {
		if file == layoutFile {
			continue
		}
		t, err := template.Must(layout.Clone()).ParseFS(templateFS, file)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		v.pages[strings.TrimSuffix(path.Base(file), ".html")] = t
	}
	return v, nil
}

// newPage builds the view model for r. Pending flashes are consumed here, so build it only
// when the page is about to be rendered.
func newPage(r *http.Request, title string, data any) page {
	sess := session.FromContext(r.Context())
	return page{
		Title:    title,
		Path:     r.URL.Path,
		CSRF:     sess.CSRFToken(),
		LoggedIn: sess.LoggedIn(),
		Flashes:  sess.Flashes(),
		Data:     data,
	}
}

func (v *views) render(w http.ResponseWriter, r *http.Request, status int, name string, p page) {
	t, ok := v.pages[name]
	if !ok {
		requestctx.Logger(r.Context()).Error("unknown template", zap.String("template", name))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "base", p); err != nil {
		requestctx.Logger(r.Context()).Error("template exec failed", zap.String("template", name), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (v *views) renderError(w http.ResponseWriter, r *http.Request, status int, heading, detail string) {
	if httpx.WantsJSON(r) {
		code := strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
		httpx.WriteProblem(r.Context(), w, status, code, detail)
		return
	}
	v.render(w, r, status, "error", newPage(r, heading, errorView{
		Status:  status,
		Heading: heading,
		Detail:  detail,
		Path:    r.URL.RequestURI(),
		Retry:   status >= http.StatusInternalServerError,
	}))
}

// redirect answers a form post with 303 See Other.
func redirect(w http.ResponseWriter, r *http.Request, to string) {
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// flashRedirect queues a message and redirects.
func flashRedirect(w http.ResponseWriter, r *http.Request, tone, text, to string) {
	session.FromContext(r.Context()).AddFlash(tone, text)
	redirect(w, r, to)
}

// localPath keeps post-login redirects on this site.
func localPath(raw, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return fallback
	}
	return raw
}
