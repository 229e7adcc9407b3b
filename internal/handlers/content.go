package handlers

import (
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/requestctx"
)

type contentView struct {
	Title   string
	Body    template.HTML
	Entries []faqView
}

type faqView struct {
	Question string
	Answer   template.HTML
}

// showContent renders a CMS page. Bodies may be markdown or HTML and are sanitized.
func (h *Handlers) showContent(kind backend.ContentKind, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := h.backend.GetContent(r.Context(), kind)
		if err != nil {
			h.backendFailure(w, r, err, title, "This page is unavailable right now. Please try again later.")
			return
		}
		view := contentView{Title: orDefault(c.Title, title)}
		if view.Body, err = h.content.Render(c.Body); err != nil {
			requestctx.Logger(r.Context()).Warn("render content failed", zap.String("kind", string(kind)), zap.Error(err))
		}
		for _, e := range c.Entries {
			answer, err := h.content.Render(e.Answer)
			if err != nil {
				answer = template.HTML(template.HTMLEscapeString(e.Answer))
			}
			view.Entries = append(view.Entries, faqView{Question: e.Question, Answer: answer})
		}
		h.views.render(w, r, http.StatusOK, "content", newPage(r, view.Title, view))
	}
}
