package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jishnu-pg/yesbuy-storefront/internal/backend"
	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/requestctx"
	"github.com/jishnu-pg/yesbuy-storefront/internal/session"
)

const (
	maxUploadImages = 3
	maxImageBytes   = 5 << 20
	maxUploadBytes  = maxUploadImages*maxImageBytes + 1<<20
)

type ordersView struct {
	Orders  []backend.Order
	Page    int
	Prev    int
	Next    int
	HasNext bool
}

type orderDetailView struct {
	Order    backend.Order
	Tracking *backend.Tracking
}

func (h *Handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	pageNo, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || pageNo < 1 {
		pageNo = 1
	}
	list, err := h.backend.ListOrders(r.Context(), pageNo)
	if err != nil {
		h.backendFailure(w, r, err, "Orders unavailable", "We couldn't load your orders. Please try again.")
		return
	}
	h.views.render(w, r, http.StatusOK, "orders", newPage(r, "Orders", ordersView{
		Orders:  list.Results,
		Page:    pageNo,
		Prev:    pageNo - 1,
		Next:    pageNo + 1,
		HasNext: list.HasNext(),
	}))
}

// showOrder loads the order and its shipment tracking together. Tracking is optional.
func (h *Handlers) showOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := chi.URLParam(r, "orderID")
	var (
		order    backend.Order
		tracking *backend.Tracking
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		order, err = h.backend.GetOrder(gctx, orderID)
		return err
	})
	g.Go(func() error {
		t, err := h.backend.TrackShipment(gctx, orderID)
		if err != nil {
			requestctx.Logger(ctx).Debug("no tracking for order", zap.String("orderID", orderID), zap.Error(err))
			return nil
		}
		if t.Status != "" || len(t.Events) > 0 {
			tracking = &t
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		h.backendFailure(w, r, err, "Order unavailable", "We couldn't load this order. Please try again.")
		return
	}
	h.views.render(w, r, http.StatusOK, "order", newPage(r, "Order", orderDetailView{Order: order, Tracking: tracking}))
}

func (h *Handlers) requestReturn(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	back := "/orders/" + orderID
	form, images, err := readUpload(w, r)
	if err != nil {
		flashRedirect(w, r, session.ToneError, err.Error(), back)
		return
	}
	req := backend.ReturnRequest{
		ItemID:   strings.TrimSpace(form.Get("item_id")),
		Reason:   strings.TrimSpace(form.Get("reason")),
		Comments: strings.TrimSpace(form.Get("comments")),
		Images:   images,
	}
	if req.ItemID == "" || req.Reason == "" {
		flashRedirect(w, r, session.ToneError, "Please choose an item and give a reason for the return.", back)
		return
	}
	msg, err := h.backend.RequestReturn(r.Context(), orderID, req)
	if err != nil {
		requestctx.Logger(r.Context()).Warn("return request failed", zap.String("orderID", orderID), zap.Error(err))
		flashRedirect(w, r, session.ToneError, backend.UserMessage(err, "We couldn't submit your return. Please try again."), back)
		return
	}
	flashRedirect(w, r, session.ToneSuccess, orDefault(msg, "Return requested."), back)
}

func (h *Handlers) requestExchange(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	back := "/orders/" + orderID
	form, images, err := readUpload(w, r)
	if err != nil {
		flashRedirect(w, r, session.ToneError, err.Error(), back)
		return
	}
	req := backend.ExchangeRequest{
		ItemID:   strings.TrimSpace(form.Get("item_id")),
		Reason:   strings.TrimSpace(form.Get("reason")),
		NewSize:  strings.TrimSpace(form.Get("new_size")),
		Comments: strings.TrimSpace(form.Get("comments")),
		Images:   images,
	}
	if req.ItemID == "" || req.Reason == "" || req.NewSize == "" {
		flashRedirect(w, r, session.ToneError, "Please choose an item, a new size and a reason for the exchange.", back)
		return
	}
	msg, err := h.backend.RequestExchange(r.Context(), orderID, req)
	if err != nil {
		requestctx.Logger(r.Context()).Warn("exchange request failed", zap.String("orderID", orderID), zap.Error(err))
		flashRedirect(w, r, session.ToneError, backend.UserMessage(err, "We couldn't submit your exchange. Please try again."), back)
		return
	}
	flashRedirect(w, r, session.ToneSuccess, orDefault(msg, "Exchange requested."), back)
}

// uploadError is shown to the shopper as is.
type uploadError string

func (e uploadError) Error() string { return string(e) }

// readUpload parses a multipart return or exchange form and reads its images.
func readUpload(w http.ResponseWriter, r *http.Request) (formValues, []backend.FilePart, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil && r.MultipartForm == nil {
		return nil, nil, uploadError("We couldn't read your upload. Please attach up to 3 photos of 5 MB each.")
	}
	form := formValues(r.MultipartForm.Value)
	headers := r.MultipartForm.File["images"]
	if len(headers) > maxUploadImages {
		return nil, nil, uploadError(fmt.Sprintf("Please attach at most %d photos.", maxUploadImages))
	}
	var parts []backend.FilePart
	for _, fh := range headers {
		part, err := readImage(fh)
		if err != nil {
			return nil, nil, err
		}
		parts = append(parts, part)
	}
	return form, parts, nil
}

func readImage(fh *multipart.FileHeader) (backend.FilePart, error) {
	if fh.Size > maxImageBytes {
		return backend.FilePart{}, uploadError(fh.Filename + " is larger than 5 MB.")
	}
	ct := fh.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "image/") {
		return backend.FilePart{}, uploadError(fh.Filename + " is not an image.")
	}
	f, err := fh.Open()
	if err != nil {
		return backend.FilePart{}, uploadError("We couldn't read " + fh.Filename + ".")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil || len(data) > maxImageBytes {
		return backend.FilePart{}, uploadError("We couldn't read " + fh.Filename + ".")
	}
	return backend.FilePart{Filename: fh.Filename, ContentType: ct, Data: data}, nil
}

type formValues map[string][]string

func (f formValues) Get(key string) string {
	if vs := f[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// backendFailure renders an error page, sending the shopper to sign in again when the
// backend rejected the token.
func (h *Handlers) backendFailure(w http.ResponseWriter, r *http.Request, err error, heading, fallback string) {
	if backend.IsUnauthorized(err) {
		sess := session.FromContext(r.Context())
		sess.SetToken("")
		flashRedirect(w, r, session.ToneInfo, "Your session has expired. Please sign in again.", "/login?next="+r.URL.EscapedPath())
		return
	}
	if backend.IsNotFound(err) {
		h.views.renderError(w, r, http.StatusNotFound, "Not found", backend.UserMessage(err, "We couldn't find that."))
		return
	}
	requestctx.Logger(r.Context()).Warn("backend call failed", zap.Error(err))
	h.views.renderError(w, r, http.StatusBadGateway, heading, backend.UserMessage(err, fallback))
}

func orDefault(msg, fallback string) string {
	if strings.TrimSpace(msg) == "" {
		return fallback
	}
	return msg
}
