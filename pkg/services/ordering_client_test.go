package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOrderingService answers JSON-RPC calls from per-tool handlers.
type fakeOrderingService struct {
	mu        sync.Mutex
	tools     map[string]func(args map[string]interface{}) (interface{}, *RPCError)
	failNext  []int // status codes to return before succeeding
	calls     []string
	auths     []string
	initCalls int
}

func newFakeOrderingService(t *testing.T) (*fakeOrderingService, *httptest.Server) {
	t.Helper()
	f := &fakeOrderingService{tools: make(map[string]func(map[string]interface{}) (interface{}, *RPCError))}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeOrderingService) serve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int64  `json:"id"`
		Method string `json:"method"`
		Params struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.auths = append(f.auths, r.Header.Get("Authorization"))
	if len(f.failNext) > 0 {
		code := f.failNext[0]
		f.failNext = f.failNext[1:]
		f.mu.Unlock()
		if code == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "0")
		}
		http.Error(w, "try again", code)
		return
	}
	if req.Method == "initialize" {
		f.initCalls++
		f.mu.Unlock()
		writeRPC(w, req.ID, map[string]interface{}{"protocolVersion": "2024-11-05"}, nil)
		return
	}
	f.calls = append(f.calls, req.Params.Name)
	handler := f.tools[req.Params.Name]
	f.mu.Unlock()

	if handler == nil {
		writeRPC(w, req.ID, nil, &RPCError{Code: -32601, Message: "unknown tool"})
		return
	}
	result, rpcErr := handler(req.Params.Arguments)
	writeRPC(w, req.ID, result, rpcErr)
}

func (f *fakeOrderingService) snapshot() (initCalls int, calls, auths []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls, append([]string(nil), f.calls...), append([]string(nil), f.auths...)
}

func writeRPC(w http.ResponseWriter, id int64, result interface{}, rpcErr *RPCError) {
	resp := map[string]interface{}{"jsonrpc": "2.0", "id": id}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// textContent wraps a payload the way the service wraps tool output.
func textContent(v interface{}) map[string]interface{} {
	b, _ := json.Marshal(v)
	return map[string]interface{}{
		"content": []map[string]interface{}{{"type": "text", "text": string(b)}},
	}
}

func newTestClient(url string) *OrderingClient {
	return NewOrderingClient(OrderingClientConfig{
		BaseURL:       url,
		Token:         "test-token",
		Timeout:       2 * time.Second,
		MaxRetries:    3,
		RetryBackoff:  time.Millisecond,
		RatePerMinute: 6000,
	})
}

func TestOrderingClient_GetOrderHistory(t *testing.T) {
	f, srv := newFakeOrderingService(t)
	var (
		argsMu  sync.Mutex
		gotArgs map[string]interface{}
	)
	f.tools["get_order_history"] = func(args map[string]interface{}) (interface{}, *RPCError) {
		argsMu.Lock()
		gotArgs = args
		argsMu.Unlock()
		return map[string]interface{}{
			"orders": []map[string]interface{}{
				{
					"id":           "o1",
					"order_date":   "2024-05-01T18:20:00",
					"total_amount": 129.5,
					"items": []map[string]interface{}{
						{"id": "milk", "name": "Milk", "quantity": 2, "price": 32.5},
						{"item_id": "bread", "item_name": "Bread", "price": "64.50"},
					},
				},
				{"id": "bad", "order_date": "yesterday", "items": []map[string]interface{}{{"id": "x"}}},
			},
		}, nil
	}

	client := newTestClient(srv.URL)
	since := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	orders, err := client.GetOrderHistory(context.Background(), 50, 0, since)
	require.NoError(t, err)

	require.Len(t, orders, 1, "malformed order skipped")
	o := orders[0]
	assert.Equal(t, "o1", o.ID)
	assert.Equal(t, 2024, o.OrderDate.Year())
	require.Len(t, o.Lines, 2)
	assert.Equal(t, 2, o.Lines[0].Quantity)
	assert.Equal(t, "32.5", o.Lines[0].UnitPrice.String())
	assert.Equal(t, "bread", o.Lines[1].ItemID)
	assert.Equal(t, 1, o.Lines[1].Quantity, "quantity defaults to 1")
	assert.Equal(t, "129.5", o.TotalAmount.String())

	argsMu.Lock()
	assert.Equal(t, float64(50), gotArgs["limit"])
	assert.Equal(t, "2024-04-01T00:00:00Z", gotArgs["since"])
	argsMu.Unlock()

	initCalls, _, auths := f.snapshot()
	assert.Equal(t, 1, initCalls)
	assert.Equal(t, "Bearer test-token", auths[0])
}

func TestOrderingClient_InitializesOnce(t *testing.T) {
	f, srv := newFakeOrderingService(t)
	f.tools["clear_basket"] = func(map[string]interface{}) (interface{}, *RPCError) {
		return map[string]interface{}{"success": true}, nil
	}

	client := newTestClient(srv.URL)
	require.NoError(t, client.ClearBasket(context.Background()))
	require.NoError(t, client.ClearBasket(context.Background()))

	initCalls, calls, _ := f.snapshot()
	assert.Equal(t, 1, initCalls)
	assert.Equal(t, []string{"clear_basket", "clear_basket"}, calls)
}

func TestOrderingClient_RetriesServerErrors(t *testing.T) {
	f, srv := newFakeOrderingService(t)
	f.tools["get_item_details"] = func(map[string]interface{}) (interface{}, *RPCError) {
		return map[string]interface{}{"item": map[string]interface{}{"available": true, "price": 45}}, nil
	}

	client := newTestClient(srv.URL)
	require.NoError(t, client.initialize(context.Background()))

	f.mu.Lock()
	f.failNext = []int{http.StatusServiceUnavailable, http.StatusTooManyRequests}
	f.mu.Unlock()

	a, err := client.LookupAvailability(context.Background(), "milk")
	require.NoError(t, err)
	assert.True(t, a.Available)
	assert.Equal(t, "45", a.Price.String())
}

func TestOrderingClient_GivesUpAfterMaxRetries(t *testing.T) {
	f, srv := newFakeOrderingService(t)
	client := newTestClient(srv.URL)
	require.NoError(t, client.initialize(context.Background()))

	f.mu.Lock()
	f.failNext = []int{500, 502, 503, 504}
	f.mu.Unlock()

	_, err := client.LookupAvailability(context.Background(), "milk")
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 503, se.StatusCode)
}

func TestOrderingClient_DoesNotRetryClientErrors(t *testing.T) {
	f, srv := newFakeOrderingService(t)
	client := newTestClient(srv.URL)
	require.NoError(t, client.initialize(context.Background()))

	f.mu.Lock()
	f.failNext = []int{http.StatusBadRequest, http.StatusBadRequest}
	f.mu.Unlock()

	err := client.ClearBasket(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.failNext, 1, "only one attempt made")
}

func TestOrderingClient_RPCError(t *testing.T) {
	_, srv := newFakeOrderingService(t)
	client := newTestClient(srv.URL)

	_, err := client.CallTool(context.Background(), "search_items", nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestOrderingClient_Unauthorized(t *testing.T) {
	f, srv := newFakeOrderingService(t)
	f.failNext = []int{http.StatusUnauthorized}
	client := newTestClient(srv.URL)

	err := client.ClearBasket(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestOrderingClient_NoToken(t *testing.T) {
	_, srv := newFakeOrderingService(t)
	client := NewOrderingClient(OrderingClientConfig{BaseURL: srv.URL})

	_, err := client.LookupAvailability(context.Background(), "milk")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestOrderingClient_UnknownItemIsUnavailable(t *testing.T) {
	f, srv := newFakeOrderingService(t)
	f.tools["get_item_details"] = func(map[string]interface{}) (interface{}, *RPCError) {
		return map[string]interface{}{"item": nil}, nil
	}
	client := newTestClient(srv.URL)

	a, err := client.LookupAvailability(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, a.Available)
	assert.Nil(t, a.Price)
}

func TestOrderingClient_AddToBasket(t *testing.T) {
	f, srv := newFakeOrderingService(t)
	f.tools["add_to_basket"] = func(args map[string]interface{}) (interface{}, *RPCError) {
		if args["item_id"] == "sold_out" {
			return textContent(map[string]interface{}{"success": false, "error": "out of stock"}), nil
		}
		return textContent(map[string]interface{}{"success": true}), nil
	}
	client := newTestClient(srv.URL)

	require.NoError(t, client.AddToBasket(context.Background(), "milk", 2))

	err := client.AddToBasket(context.Background(), "sold_out", 1)
	var be *BasketError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "out of stock", be.Reason)
}

func TestOrderingClient_GetBasket(t *testing.T) {
	f, srv := newFakeOrderingService(t)
	f.tools["get_cart"] = func(map[string]interface{}) (interface{}, *RPCError) {
		return textContent(map[string]interface{}{
			"success": true,
			"data": map[string]interface{}{
				"items": []map[string]interface{}{
					{"spinId": "milk", "itemName": "Milk", "quantity": 2, "discountedFinalPrice": 30, "mrp": 32},
					{"spinId": "bread", "itemName": "Bread", "quantity": 1, "mrp": 45},
				},
				"cartTotalAmount":        "₹1,105",
				"selectedAddressDetails": map[string]interface{}{"address": "12 Main St"},
			},
		}), nil
	}
	client := newTestClient(srv.URL)

	basket, err := client.GetBasket(context.Background())
	require.NoError(t, err)

	require.Len(t, basket.Items, 2)
	assert.Equal(t, "30", basket.Items[0].Price.String())
	assert.Equal(t, "45", basket.Items[1].Price.String(), "falls back to MRP")
	assert.Equal(t, "1105", basket.Total.String())
	assert.Equal(t, "12 Main St", basket.Address)
}

func TestOrderingClient_EventStreamResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID int64 `json:"id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Mcp-Session-Id", "session-1")
		body, _ := json.Marshal(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID,
			"result": map[string]interface{}{"item": map[string]interface{}{"available": false}},
		})
		w.Write([]byte("event: message\ndata: " + string(body) + "\n\n"))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	a, err := client.LookupAvailability(context.Background(), "milk")
	require.NoError(t, err)
	assert.False(t, a.Available)
	assert.Equal(t, "session-1", client.currentSession())
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
	assert.Equal(t, maxRetryAfter, parseRetryAfter("3600"))
}
