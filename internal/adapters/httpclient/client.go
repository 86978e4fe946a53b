// Package httpclient is the rate-limited JSON HTTP client shared by the
// Polymarket, Binance and ESPN adapters.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/polycopy/internal/domain"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultRetries  = 3
	defaultBaseWait = 500 * time.Millisecond
	maxErrorBody    = 512
)

// APIError es una respuesta 4xx que no se reintenta.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.Status, e.Body)
}

// Unauthorized indica un 401/403. Solo los clientes autenticados lo tratan
// como credenciales inválidas; en lecturas públicas suele ser un WAF.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// Client hace requests JSON con rate limiting y retries.
//
// Clasificación de errores:
//   - 429, 5xx y fallos de red tras agotar retries → domain.ErrTransient
//   - 404 → domain.ErrNotFound
//   - resto de 4xx, 401/403 incluidos → *APIError (no se reintenta)
//   - JSON inválido → domain.ErrMalformed
type Client struct {
	http     *http.Client
	retries  int
	baseWait time.Duration
	logger   *slog.Logger
}

// Option configura el Client.
type Option func(*Client)

// WithTimeout cambia el timeout por request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithRetries cambia el número de reintentos. 0 = un solo intento.
func WithRetries(n int) Option {
	return func(c *Client) { c.retries = n }
}

// WithBaseWait cambia la espera base del backoff exponencial.
func WithBaseWait(d time.Duration) Option {
	return func(c *Client) { c.baseWait = d }
}

// WithLogger cambia el logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient reemplaza el *http.Client subyacente.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New crea un Client.
func New(opts ...Option) *Client {
	c := &Client{
		http:     &http.Client{Timeout: defaultTimeout},
		retries:  defaultRetries,
		baseWait: defaultBaseWait,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Request describe un request. Header se llama en cada intento, así las
// cabeceras firmadas (timestamps HMAC) se regeneran.
type Request struct {
	Method string
	URL    string
	Body   any
	Header func() (http.Header, error)
}

// GetJSON hace un GET y decodifica la respuesta en out.
func (c *Client) GetJSON(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	return c.Do(ctx, limiter, Request{Method: http.MethodGet, URL: url}, out)
}

// PostJSON hace un POST JSON y decodifica la respuesta en out.
func (c *Client) PostJSON(ctx context.Context, limiter *rate.Limiter, url string, body, out any) error {
	return c.Do(ctx, limiter, Request{Method: http.MethodPost, URL: url, Body: body}, out)
}

// Do ejecuta el request con backoff exponencial. limiter puede ser nil.
func (c *Client) Do(ctx context.Context, limiter *rate.Limiter, r Request, out any) error {
	var payload []byte
	if r.Body != nil {
		b, err := json.Marshal(r.Body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		payload = b
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt-1); err != nil {
				return err
			}
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}

		retry, err := c.once(ctx, r, payload, out)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
		c.logger.Debug("http request failed, retrying", "url", r.URL, "attempt", attempt+1, "err", err)
	}
	return fmt.Errorf("%w: after %d attempts: %w", domain.ErrTransient, c.retries+1, lastErr)
}

// once hace un intento. retry=true si el fallo es transitorio.
func (c *Client) once(ctx context.Context, r Request, payload []byte, out any) (retry bool, err error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return false, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.Header != nil {
		h, err := r.Header()
		if err != nil {
			return false, err
		}
		for k, vs := range h {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("rate limited by API", "url", r.URL)
		return true, fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("server error %d", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return false, fmt.Errorf("%s: %w", r.URL, domain.ErrNotFound)
	case resp.StatusCode >= 400:
		return false, &APIError{Status: resp.StatusCode, Body: readSnippet(resp.Body)}
	}

	if out == nil {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("decode response: %v: %w", err, domain.ErrMalformed)
	}
	return false, nil
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *Client) sleep(ctx context.Context, attempt int) error {
	wait := c.baseWait << attempt
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return string(bytes.TrimSpace(b))
}
