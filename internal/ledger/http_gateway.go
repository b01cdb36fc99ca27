package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// HTTPGateway — клиент JSON API платёжного шлюза.
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	currency   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

type HTTPGatewayConfig struct {
	BaseURL  string
	APIKey   string
	Currency string
	Timeout  time.Duration
	// RPS и Burst ограничивают исходящие запросы к шлюзу.
	RPS   float64
	Burst int
}

func NewHTTPGateway(cfg HTTPGatewayConfig) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &HTTPGateway{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		currency: cfg.Currency,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
}

type gatewayRequest struct {
	OrderID  string `json:"order_id,omitempty"`
	Amount   string `json:"amount"`
	Currency string `json:"currency,omitempty"`
}

type gatewayResponse struct {
	Ref    string `json:"ref"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (g *HTTPGateway) Hold(ctx context.Context, orderID uuid.UUID, amount decimal.Decimal, key string) (string, error) {
	resp, err := g.do(ctx, http.MethodPost, "/holds", key, &gatewayRequest{
		OrderID:  orderID.String(),
		Amount:   amount.StringFixed(2),
		Currency: g.currency,
	})
	if err != nil {
		return "", err
	}
	return resp.Ref, nil
}

func (g *HTTPGateway) Capture(ctx context.Context, holdRef string, amount decimal.Decimal, key string) (string, error) {
	resp, err := g.do(ctx, http.MethodPost, "/holds/"+url.PathEscape(holdRef)+"/capture", key, &gatewayRequest{
		Amount: amount.StringFixed(2),
	})
	if err != nil {
		return "", err
	}
	return resp.Ref, nil
}

func (g *HTTPGateway) Refund(ctx context.Context, holdRef string, amount decimal.Decimal, key string) (string, error) {
	resp, err := g.do(ctx, http.MethodPost, "/holds/"+url.PathEscape(holdRef)+"/refund", key, &gatewayRequest{
		Amount: amount.StringFixed(2),
	})
	if err != nil {
		return "", err
	}
	return resp.Ref, nil
}

func (g *HTTPGateway) Status(ctx context.Context, key string) (OpStatus, error) {
	resp, err := g.do(ctx, http.MethodGet, "/operations/"+url.PathEscape(key), "", nil)
	if err != nil {
		if errors.Is(err, errGatewayNotFound) {
			return OpFailed, nil
		}
		return "", err
	}
	switch OpStatus(resp.Status) {
	case OpSucceeded, OpFailed, OpPending:
		return OpStatus(resp.Status), nil
	}
	return "", fmt.Errorf("ledger: unknown operation status %q", resp.Status)
}

var errGatewayNotFound = errors.New("ledger: operation not found")

func (g *HTTPGateway) do(ctx context.Context, method, path, key string, payload any) (*gatewayResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("ledger: marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	var out gatewayResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&out)

	switch {
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		return nil, errGatewayNotFound
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, fmt.Errorf("%w: gateway timeout", ErrAmbiguous)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusBadGateway:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 500:
		// Сервер мог успеть применить операцию.
		return nil, fmt.Errorf("%w: status %d", ErrAmbiguous, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d: %s", ErrDeclined, resp.StatusCode, out.Error)
	}

	// Успешный ответ без ссылки не подтверждает операцию, но и не отменяет её.
	if decodeErr != nil {
		if method == http.MethodPost {
			return nil, fmt.Errorf("%w: unreadable response: %v", ErrAmbiguous, decodeErr)
		}
		return nil, fmt.Errorf("ledger: decode response: %w", decodeErr)
	}
	if method == http.MethodPost && out.Ref == "" {
		return nil, fmt.Errorf("%w: response without ref", ErrAmbiguous)
	}
	return &out, nil
}

// classifyTransportError отличает недоставленный запрос от запроса без ответа.
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrAmbiguous, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrAmbiguous, err)
}
