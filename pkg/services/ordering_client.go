package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"reorder-api/pkg/logging"
	"reorder-api/pkg/models"
)

const (
	jsonRPCVersion     = "2.0"
	rpcProtocolVersion = "2024-11-05"
	maxRetryAfter      = time.Minute
)

var (
	// ErrUnauthorized is returned when the ordering service rejects the bearer token.
	ErrUnauthorized = errors.New("ordering service rejected the access token")
	// ErrNoToken is returned when no access token is configured.
	ErrNoToken = errors.New("no ordering service access token configured")
)

// StatusError is a non-2xx HTTP answer from the ordering service.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ordering service returned %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("ordering service error %d: %s", e.Code, e.Message)
}

// OrderingClientConfig configures the ordering service client.
type OrderingClientConfig struct {
	BaseURL       string
	Token         string
	Timeout       time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
	RatePerMinute int
	ClientName    string
	ClientVersion string
}

// OrderingClient talks JSON-RPC tools/call to the remote ordering service.
// It is safe for concurrent use.
type OrderingClient struct {
	cfg        OrderingClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]byte]
	log        zerolog.Logger

	requestID atomic.Int64

	initMu      sync.Mutex
	initialized bool

	sessionMu sync.RWMutex
	sessionID string
}

// NewOrderingClient creates a client. Zero values fall back to 30s timeout,
// 3 attempts, 1s backoff and 100 requests per minute.
func NewOrderingClient(cfg OrderingClientConfig) *OrderingClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 100
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "reorder-api"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "0.1.0"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	log := logging.With().Str("component", "ordering_client").Logger()

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "ordering-service",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// only transport failures and 5xx count against the service
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var se *StatusError
			if errors.As(err, &se) {
				return se.StatusCode < 500
			}
			var re *RPCError
			if errors.As(err, &re) {
				return true
			}
			return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNoToken) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})

	return &OrderingClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), cfg.RatePerMinute),
		breaker:    breaker,
		log:        log,
	}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// CallTool invokes a remote tool and returns its raw result.
func (c *OrderingClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error) {
	if err := c.initialize(ctx); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := c.callWithRetry(ctx, "tools/call", toolCallParams{Name: name, Arguments: args})
	if errors.Is(err, ErrUnauthorized) {
		c.resetSession()
	}
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return result, nil
}

func (c *OrderingClient) initialize(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if c.initialized {
		return nil
	}

	params := map[string]interface{}{
		"protocolVersion": rpcProtocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]string{
			"name":    c.cfg.ClientName,
			"version": c.cfg.ClientVersion,
		},
	}
	if _, err := c.callWithRetry(ctx, "initialize", params); err != nil {
		return fmt.Errorf("ordering service initialization failed: %w", err)
	}
	c.initialized = true
	c.log.Debug().Msg("ordering service session initialized")
	return nil
}

func (c *OrderingClient) resetSession() {
	c.initMu.Lock()
	c.initialized = false
	c.initMu.Unlock()
	c.setSession("")
}

func (c *OrderingClient) callWithRetry(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			var se *StatusError
			if errors.As(lastErr, &se) && se.RetryAfter > 0 {
				wait = se.RetryAfter
			}
			c.log.Warn().Err(lastErr).Str("method", method).Int("attempt", attempt+1).Dur("wait", wait).Msg("retrying ordering service call")
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.breaker.Execute(func() ([]byte, error) {
			return c.post(ctx, method, params)
		})
		if err == nil {
			return c.decodeRPC(body)
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}

func retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNoToken) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	return true
}

func (c *OrderingClient) post(ctx context.Context, method string, params interface{}) ([]byte, error) {
	if c.cfg.Token == "" {
		return nil, ErrNoToken
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if sid := c.currentSession(); sid != "" {
		req.Header.Set("Mcp-Session-Id", sid)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug().
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("ordering service call")

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode >= 400:
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), 200),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		c.setSession(sid)
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return lastEventData(body), nil
	}
	return body, nil
}

func (c *OrderingClient) currentSession() string {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	return c.sessionID
}

func (c *OrderingClient) setSession(id string) {
	c.sessionMu.Lock()
	c.sessionID = id
	c.sessionMu.Unlock()
}

func (c *OrderingClient) decodeRPC(body []byte) (json.RawMessage, error) {
	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("invalid JSON-RPC response: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if len(resp.Result) == 0 {
		return nil, errors.New("invalid JSON-RPC response: missing result")
	}
	return resp.Result, nil
}

// lastEventData returns the payload of the last "data:" line of an SSE body.
func lastEventData(body []byte) []byte {
	var last []byte
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 64*1024), 10<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if bytes.HasPrefix(line, []byte("data:")) {
			last = append([]byte(nil), bytes.TrimSpace(line[5:])...)
		}
	}
	return last
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// decodeToolResult unwraps {"content":[{"type":"text","text":"..."}]} results
// and decodes the payload into v. Plain JSON results are decoded directly.
func decodeToolResult(raw json.RawMessage, v interface{}) error {
	var wrapped struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		for _, c := range wrapped.Content {
			if c.Type == "text" && strings.TrimSpace(c.Text) != "" {
				return json.Unmarshal([]byte(c.Text), v)
			}
		}
	}
	return json.Unmarshal(raw, v)
}

type wireOrderItem struct {
	ID       string           `json:"id"`
	ItemID   string           `json:"item_id"`
	Name     string           `json:"name"`
	ItemName string           `json:"item_name"`
	Quantity *int             `json:"quantity"`
	Price    *decimal.Decimal `json:"price"`
	Category string           `json:"category"`
	Brand    string           `json:"brand"`
}

type wireOrder struct {
	ID          string           `json:"id"`
	OrderDate   string           `json:"order_date"`
	TotalAmount *decimal.Decimal `json:"total_amount"`
	Items       []wireOrderItem  `json:"items"`
}

var wireDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (w wireOrder) toOrder() (models.Order, error) {
	var date time.Time
	for _, layout := range wireDateLayouts {
		if t, err := time.Parse(layout, w.OrderDate); err == nil {
			date = t
			break
		}
	}
	if date.IsZero() {
		return models.Order{}, fmt.Errorf("%w: order %s has unparseable date %q", models.ErrInvalidOrder, w.ID, w.OrderDate)
	}

	lines := make([]models.OrderLine, 0, len(w.Items))
	for _, it := range w.Items {
		line := models.OrderLine{
			ItemID:    firstNonEmpty(it.ID, it.ItemID),
			ItemName:  firstNonEmpty(it.Name, it.ItemName),
			Quantity:  1,
			UnitPrice: it.Price,
			Category:  it.Category,
			Brand:     it.Brand,
		}
		if it.Quantity != nil {
			line.Quantity = *it.Quantity
		}
		lines = append(lines, line)
	}

	o, err := models.NewOrder(w.ID, date, lines)
	if err != nil {
		return models.Order{}, err
	}
	o.TotalAmount = w.TotalAmount
	return o, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// GetOrderHistory fetches one page of orders. Orders that fail validation are skipped.
func (c *OrderingClient) GetOrderHistory(ctx context.Context, limit, offset int, since time.Time) ([]models.Order, error) {
	args := map[string]interface{}{"limit": limit, "offset": offset}
	if !since.IsZero() {
		args["since"] = since.UTC().Format(time.RFC3339)
	}

	raw, err := c.CallTool(ctx, "get_order_history", args)
	if err != nil {
		return nil, err
	}

	var page struct {
		Orders []wireOrder `json:"orders"`
	}
	if err := decodeToolResult(raw, &page); err != nil {
		return nil, fmt.Errorf("failed to decode order history: %w", err)
	}

	orders := make([]models.Order, 0, len(page.Orders))
	for _, w := range page.Orders {
		o, err := w.toOrder()
		if err != nil {
			c.log.Warn().Err(err).Str("order_id", w.ID).Msg("skipping malformed order")
			continue
		}
		orders = append(orders, o)
	}

	c.log.Info().Int("orders", len(orders)).Int("offset", offset).Msg("fetched order history page")
	return orders, nil
}

// GetItemDetails returns availability and current price. found is false when
// the service does not know the item.
func (c *OrderingClient) GetItemDetails(ctx context.Context, itemID string) (availability models.Availability, found bool, err error) {
	raw, err := c.CallTool(ctx, "get_item_details", map[string]interface{}{"item_id": itemID})
	if err != nil {
		return models.Availability{}, false, err
	}

	var details struct {
		Item *struct {
			Available *bool            `json:"available"`
			Price     *decimal.Decimal `json:"price"`
		} `json:"item"`
	}
	if err := decodeToolResult(raw, &details); err != nil {
		return models.Availability{}, false, fmt.Errorf("failed to decode item details: %w", err)
	}
	if details.Item == nil {
		return models.Availability{}, false, nil
	}

	availability = models.Availability{Available: true, Price: details.Item.Price}
	if details.Item.Available != nil {
		availability.Available = *details.Item.Available
	}
	return availability, true, nil
}

// LookupAvailability satisfies AvailabilityLookup. Unknown items are unavailable.
func (c *OrderingClient) LookupAvailability(ctx context.Context, itemID string) (models.Availability, error) {
	a, found, err := c.GetItemDetails(ctx, itemID)
	if err != nil {
		return models.Availability{}, err
	}
	if !found {
		return models.Availability{Available: false}, nil
	}
	return a, nil
}

// BasketError is a rejected add_to_basket call.
type BasketError struct {
	ItemID string
	Reason string
}

func (e *BasketError) Error() string {
	return fmt.Sprintf("could not add %s to basket: %s", e.ItemID, e.Reason)
}

// AddToBasket adds quantity units of an item to the remote basket.
func (c *OrderingClient) AddToBasket(ctx context.Context, itemID string, quantity int) error {
	raw, err := c.CallTool(ctx, "add_to_basket", map[string]interface{}{"item_id": itemID, "quantity": quantity})
	if err != nil {
		return err
	}

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := decodeToolResult(raw, &resp); err != nil {
		return fmt.Errorf("failed to decode basket response: %w", err)
	}
	if !resp.Success {
		reason := firstNonEmpty(resp.Error, resp.Message, "unknown error")
		return &BasketError{ItemID: itemID, Reason: reason}
	}
	c.log.Info().Str("item_id", itemID).Int("quantity", quantity).Msg("added item to basket")
	return nil
}

type wireCart struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Items []struct {
			SpinID               string           `json:"spinId"`
			ItemName             string           `json:"itemName"`
			Quantity             int              `json:"quantity"`
			DiscountedFinalPrice *decimal.Decimal `json:"discountedFinalPrice"`
			MRP                  *decimal.Decimal `json:"mrp"`
		} `json:"items"`
		CartTotalAmount        string `json:"cartTotalAmount"`
		SelectedAddressDetails struct {
			Address string `json:"address"`
		} `json:"selectedAddressDetails"`
	} `json:"data"`
}

// GetBasket returns the current basket. An unsuccessful cart answer yields an empty basket.
func (c *OrderingClient) GetBasket(ctx context.Context) (models.Basket, error) {
	raw, err := c.CallTool(ctx, "get_cart", nil)
	if err != nil {
		return models.Basket{}, err
	}

	var cart wireCart
	if err := decodeToolResult(raw, &cart); err != nil {
		return models.Basket{}, fmt.Errorf("failed to decode cart: %w", err)
	}
	if !cart.Success {
		c.log.Warn().Str("message", cart.Message).Msg("cart fetch unsuccessful")
		return models.Basket{Items: []models.BasketItem{}, Total: decimal.Zero}, nil
	}

	basket := models.Basket{
		Items:   make([]models.BasketItem, 0, len(cart.Data.Items)),
		Address: cart.Data.SelectedAddressDetails.Address,
	}
	for _, it := range cart.Data.Items {
		price := it.DiscountedFinalPrice
		if price == nil {
			price = it.MRP
		}
		basket.Items = append(basket.Items, models.BasketItem{
			ItemID:   it.SpinID,
			ItemName: it.ItemName,
			Quantity: it.Quantity,
			Price:    price,
			MRP:      it.MRP,
		})
	}

	total, err := decimal.NewFromString(filterNumeric(cart.Data.CartTotalAmount))
	if err != nil {
		total = decimal.Zero
	}
	basket.Total = total
	return basket, nil
}

// ClearBasket empties the remote basket.
func (c *OrderingClient) ClearBasket(ctx context.Context) error {
	_, err := c.CallTool(ctx, "clear_basket", nil)
	if err != nil {
		return err
	}
	c.log.Info().Msg("basket cleared")
	return nil
}

// Close releases idle connections.
func (c *OrderingClient) Close() {
	c.httpClient.CloseIdleConnections()
}
