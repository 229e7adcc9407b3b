// Package backend talks to the REST API that owns carts, orders and payments. The storefront
// never computes prices or validates coupons itself; everything here is a thin typed wrapper
// around the backend's endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jishnu-pg/yesbuy-storefront/internal/platform/requestctx"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 512
	tracerName     = "github.com/jishnu-pg/yesbuy-storefront/internal/backend"
)

// Client issues requests against the backend REST API.
type Client struct {
	baseURL string
	http    *http.Client
	tracer  trace.Tracer
	logger  *zap.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the fallback logger used when the context carries none.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a backend client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		tracer:  otel.Tracer(tracerName),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type tokenKey struct{}

// WithToken attaches the shopper's bearer token to ctx; every call made with the returned
// context carries an Authorization header.
func WithToken(ctx context.Context, token string) context.Context {
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the bearer token attached to ctx.
func TokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// FilePart is one uploaded file in a multipart request.
type FilePart struct {
	Field       string
	Filename    string
	ContentType string
	Data        []byte
}

// Multipart is a request body sent as multipart/form-data.
type Multipart struct {
	Fields map[string]string
	Files  []FilePart
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (Envelope, error) {
	return c.do(ctx, http.MethodGet, path, query, nil)
}

func (c *Client) post(ctx context.Context, path string, body any) (Envelope, error) {
	return c.do(ctx, http.MethodPost, path, nil, body)
}

func (c *Client) delete(ctx context.Context, path string) (Envelope, error) {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (Envelope, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	ctx, span := c.tracer.Start(ctx, "backend "+method+" "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("http.request.method", method), attribute.String("url.path", path))

	reader, contentType, err := encodeBody(body)
	if err != nil {
		return Envelope{}, &Error{Kind: KindRequest, Endpoint: path, Message: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return Envelope{}, &Error{Kind: KindRequest, Endpoint: path, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := TokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	logger := requestctx.LoggerOr(ctx, c.logger)
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		logger.Warn("backend call failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return Envelope{}, &Error{Kind: KindNetwork, Endpoint: path, Message: "We couldn't reach the store. Check your connection and try again.", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Envelope{}, &Error{Kind: KindNetwork, Endpoint: path, Status: resp.StatusCode, Message: "The store response was interrupted.", Err: err}
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	logger.Debug("backend call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	env, decodeErr := parseEnvelope(raw)
	if resp.StatusCode >= http.StatusBadRequest {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		msg := env.errorText()
		if msg == "" {
			msg = fallbackMessage(resp.StatusCode, raw)
		}
		return env, &Error{Kind: KindHTTP, Endpoint: path, Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return Envelope{}, &Error{Kind: KindDecode, Endpoint: path, Status: resp.StatusCode, Message: "The store sent an unexpected response.", Err: decodeErr}
	}
	if !env.OK() {
		msg := env.MessageText()
		if msg == "" {
			msg = "The request was not accepted."
		}
		return env, &Error{Kind: KindSoft, Endpoint: path, Status: resp.StatusCode, Message: msg}
	}
	return env, nil
}

func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case *Multipart:
		return encodeMultipart(b)
	case Multipart:
		return encodeMultipart(&b)
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encode body: %w", err)
		}
		return bytes.NewReader(payload), "application/json", nil
	}
}

func encodeMultipart(m *Multipart) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for key, value := range m.Fields {
		if err := w.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}
	for _, f := range m.Files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.Filename))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func fallbackMessage(status int, raw []byte) string {
	if status == http.StatusUnauthorized {
		return "Please log in again to continue."
	}
	text := strings.TrimSpace(string(raw))
	if text == "" || strings.HasPrefix(text, "<") {
		return fmt.Sprintf("The store returned an error (%d).", status)
	}
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}
