package evm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/histprobe/internal/infra/rpc/provider"
	"github.com/vietddude/histprobe/internal/infra/rpc/routing"
)

type rpcFault struct {
	code    int
	message string
}

// newMockNode serves JSON-RPC from a per-method handler.
func newMockNode(t *testing.T, handle func(method string, params []any) (any, *rpcFault)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}
		params, _ := req["params"].([]any)
		result, fault := handle(req["method"].(string), params)

		resp := map[string]any{"jsonrpc": "2.0", "id": req["id"]}
		if fault != nil {
			resp["error"] = map[string]any{"code": fault.code, "message": fault.message}
		} else {
			resp["result"] = result
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func noRetry() routing.RetryConfig {
	return routing.RetryConfig{MaxAttempts: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	p := provider.NewHTTPProvider("mock", server.URL, 5*time.Second)
	t.Cleanup(func() { p.Close() })
	return NewClient(p, noRetry())
}

func TestClient_ChainHead(t *testing.T) {
	server := newMockNode(t, func(method string, params []any) (any, *rpcFault) {
		if method != "eth_blockNumber" {
			t.Errorf("unexpected method %s", method)
		}
		return "0x10d4f", nil
	})
	defer server.Close()

	c := newTestClient(t, server)
	head, err := c.ChainHead(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head != 68943 {
		t.Errorf("expected head 68943, got %d", head)
	}
	if c.Calls() != 1 {
		t.Errorf("expected 1 round trip, got %d", c.Calls())
	}
}

func TestClient_BlockExists(t *testing.T) {
	server := newMockNode(t, func(method string, params []any) (any, *rpcFault) {
		// Blocks below 0x64 are pruned.
		n := params[0].(string)
		if n == "0x1" || n == "0x32" {
			return nil, nil
		}
		return map[string]any{"number": n, "hash": "0xabc", "transactions": []any{}}, nil
	})
	defer server.Close()

	c := newTestClient(t, server)
	ctx := context.Background()

	exists, err := c.BlockExists(ctx, 0x64)
	if err != nil || !exists {
		t.Errorf("expected block 0x64 to exist, got %v/%v", exists, err)
	}
	exists, err = c.BlockExists(ctx, 1)
	if err != nil || exists {
		t.Errorf("expected block 1 to be pruned, got %v/%v", exists, err)
	}
}

func TestClient_Block_TxHashForms(t *testing.T) {
	server := newMockNode(t, func(method string, params []any) (any, *rpcFault) {
		return map[string]any{
			"hash": "0xblock",
			"transactions": []any{
				"0xaaa",
				map[string]any{"hash": "0xbbb"},
			},
		}, nil
	})
	defer server.Close()

	c := newTestClient(t, server)
	handle, err := c.Block(context.Background(), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if handle.Hash != "0xblock" {
		t.Errorf("expected hash 0xblock, got %s", handle.Hash)
	}
	if len(handle.TxHashes) != 2 || handle.TxHashes[0] != "0xaaa" || handle.TxHashes[1] != "0xbbb" {
		t.Errorf("unexpected tx hashes: %v", handle.TxHashes)
	}
}

func TestClient_Logs_ShapeFallback(t *testing.T) {
	shapeCalls := map[string]int{}
	server := newMockNode(t, func(method string, params []any) (any, *rpcFault) {
		if method != "eth_getLogs" {
			t.Errorf("unexpected method %s", method)
		}
		filter := params[0].(map[string]any)
		if _, ok := filter["blockHash"]; ok {
			shapeCalls["blockHash"]++
			return nil, &rpcFault{code: -32602, message: "invalid params: unknown field blockHash"}
		}
		shapeCalls["range"]++
		return []any{map[string]any{"logIndex": "0x0"}}, nil
	})
	defer server.Close()

	c := newTestClient(t, server)
	ctx := context.Background()

	logs, err := c.Logs(ctx, 42, "0xblock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 1 {
		t.Errorf("expected 1 log, got %d", len(logs))
	}

	// Second call must go straight to the accepted shape.
	if _, err := c.Logs(ctx, 43, "0xother"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shapeCalls["blockHash"] != 1 {
		t.Errorf("expected 1 rejected blockHash attempt, got %d", shapeCalls["blockHash"])
	}
	if shapeCalls["range"] != 2 {
		t.Errorf("expected 2 range-shape calls, got %d", shapeCalls["range"])
	}
}

func TestClient_Logs_HardRemoteError(t *testing.T) {
	server := newMockNode(t, func(method string, params []any) (any, *rpcFault) {
		return nil, &rpcFault{code: -32000, message: "logs pruned"}
	})
	defer server.Close()

	c := newTestClient(t, server)
	if _, err := c.Logs(context.Background(), 42, "0xblock"); err == nil {
		t.Fatal("expected error for pruned logs")
	}
}

func TestClient_BlockReceipts_Fallback(t *testing.T) {
	blockReceiptCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw json.RawMessage
		body := json.NewDecoder(r.Body)
		if err := body.Decode(&raw); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}

		// Single call or batch?
		if raw[0] == '[' {
			var reqs []map[string]any
			json.Unmarshal(raw, &reqs)
			resp := make([]map[string]any, len(reqs))
			for i, req := range reqs {
				if req["method"] != "eth_getTransactionReceipt" {
					t.Errorf("unexpected batch method %v", req["method"])
				}
				resp[i] = map[string]any{
					"jsonrpc": "2.0",
					"id":      req["id"],
					"result":  map[string]any{"status": "0x1"},
				}
			}
			json.NewEncoder(w).Encode(resp)
			return
		}

		var req map[string]any
		json.Unmarshal(raw, &req)
		if req["method"] != "eth_getBlockReceipts" {
			t.Errorf("unexpected method %v", req["method"])
		}
		blockReceiptCalls++
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"error":   map[string]any{"code": -32601, "message": "method not found"},
		})
	}))
	defer server.Close()

	c := newTestClient(t, server)
	ctx := context.Background()

	receipts, err := c.BlockReceipts(ctx, 42, []string{"0xaaa", "0xbbb"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(receipts) != 2 {
		t.Errorf("expected 2 receipts, got %d", len(receipts))
	}

	// Path must stick: no second eth_getBlockReceipts attempt.
	if _, err := c.BlockReceipts(ctx, 43, []string{"0xccc"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blockReceiptCalls != 1 {
		t.Errorf("expected 1 eth_getBlockReceipts attempt, got %d", blockReceiptCalls)
	}
}

func TestClient_CountsRetriedAttempts(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req["id"], "result": "0x10",
		})
	}))
	defer server.Close()

	p := provider.NewHTTPProvider("mock", server.URL, 5*time.Second)
	defer p.Close()
	c := NewClient(p, routing.RetryConfig{
		MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond,
	})

	var observed []string
	c.SetObserver(func(method string, latency time.Duration, err error) {
		observed = append(observed, method)
	})

	head, err := c.ChainHead(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if head != 16 {
		t.Errorf("expected head 16, got %d", head)
	}
	// The failed first attempt is a real round trip.
	if c.Calls() != 2 {
		t.Errorf("expected 2 counted round trips, got %d", c.Calls())
	}
	if len(observed) != 2 {
		t.Errorf("expected the observer to see both attempts, got %v", observed)
	}
}

func TestClient_BatchPathFeedsObserver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("failed to decode body: %v", err)
			return
		}
		if raw[0] == '[' {
			var reqs []map[string]any
			json.Unmarshal(raw, &reqs)
			resp := make([]map[string]any, len(reqs))
			for i, req := range reqs {
				resp[i] = map[string]any{
					"jsonrpc": "2.0", "id": req["id"],
					"result": map[string]any{"status": "0x1"},
				}
			}
			json.NewEncoder(w).Encode(resp)
			return
		}
		var req map[string]any
		json.Unmarshal(raw, &req)
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0", "id": req["id"],
			"error": map[string]any{"code": -32601, "message": "method not found"},
		})
	}))
	defer server.Close()

	c := newTestClient(t, server)
	var observed []string
	c.SetObserver(func(method string, latency time.Duration, err error) {
		observed = append(observed, method)
	})

	if _, err := c.BlockReceipts(context.Background(), 42, []string{"0xaaa"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// One round trip for the rejected eth_getBlockReceipts, one for the
	// receipt batch; both must be visible.
	if c.Calls() != 2 {
		t.Errorf("expected 2 counted round trips, got %d", c.Calls())
	}
	want := []string{"eth_getBlockReceipts", "eth_getTransactionReceipt"}
	if len(observed) != 2 || observed[0] != want[0] || observed[1] != want[1] {
		t.Errorf("expected observed methods %v, got %v", want, observed)
	}
}

func TestClient_BlockReceipts_FallbackNoEvidence(t *testing.T) {
	server := newMockNode(t, func(method string, params []any) (any, *rpcFault) {
		return nil, &rpcFault{code: -32601, message: "method not found"}
	})
	defer server.Close()

	c := newTestClient(t, server)
	_, err := c.BlockReceipts(context.Background(), 42, nil)
	if err != ErrNoEvidence {
		t.Errorf("expected ErrNoEvidence, got %v", err)
	}
}
