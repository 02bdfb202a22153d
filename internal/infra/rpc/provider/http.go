package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// maxTraceLen caps request/response dumps in debug logs.
const maxTraceLen = 500

// HTTPProvider implements RPCProvider for JSON-RPC 2.0 over HTTP.
type HTTPProvider struct {
	name       string
	endpoint   string
	httpClient *http.Client
	log        *slog.Logger

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int

	Monitor *ProviderMonitor
}

// NewHTTPProvider creates a new HTTP-based RPC provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: slog.Default(),
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
		Monitor: NewProviderMonitor(),
	}
}

// Call makes a single JSON-RPC call.
//
// A transport problem (timeout, refused connection, bad HTTP status,
// unparseable body) is returned as a plain error. A JSON-RPC error object
// comes back as *RPCError. A null result with no error is (nil, nil).
func (p *HTTPProvider) Call(ctx context.Context, method string, params []any) (any, error) {
	start := time.Now()

	if params == nil {
		params = []any{}
	}

	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	p.log.Debug("rpc →", "method", method, "params", truncate(jsonData))

	body, err := p.post(ctx, jsonData)
	if err != nil {
		p.recordFailure()
		p.log.Debug("rpc ✗", "method", method, "error", err)
		return nil, err
	}

	latency := time.Since(start)

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &rpcResp); err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("parse response: %w", err)
	}

	if rpcResp.Error != nil {
		if p.Monitor.DetectThrottlePattern(rpcResp.Error.Message) {
			p.recordFailure()
			return nil, &ThrottleError{Message: rpcResp.Error.Message}
		}
		// The node answered; record as a served request.
		p.Monitor.RecordRequest(latency)
		p.recordSuccess(latency)
		return nil, &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}

	p.Monitor.RecordRequest(latency)
	p.recordSuccess(latency)

	result, err := decodeResult(rpcResp.Result)
	if err != nil {
		return nil, err
	}
	p.log.Debug("rpc ←", "method", method, "result", truncate(rpcResp.Result))
	return result, nil
}

// BatchCall makes multiple RPC calls in one request.
func (p *HTTPProvider) BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error) {
	start := time.Now()

	batchReq := make([]map[string]any, len(requests))
	for i, req := range requests {
		params := req.Params
		if params == nil {
			params = []any{}
		}
		batchReq[i] = map[string]any{
			"jsonrpc": "2.0",
			"method":  req.Method,
			"params":  params,
			"id":      i + 1,
		}
	}

	jsonData, err := json.Marshal(batchReq)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	body, err := p.post(ctx, jsonData)
	if err != nil {
		p.recordFailure()
		return nil, err
	}

	var batchResp []struct {
		ID     int             `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &batchResp); err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("parse batch response: %w", err)
	}

	// Nodes may answer out of order; line responses up by id.
	responses := make([]BatchResponse, len(requests))
	for _, r := range batchResp {
		idx := r.ID - 1
		if idx < 0 || idx >= len(responses) {
			continue
		}
		if r.Error != nil {
			responses[idx] = BatchResponse{
				Error: &RPCError{Code: r.Error.Code, Message: r.Error.Message},
			}
			continue
		}
		result, err := decodeResult(r.Result)
		if err != nil {
			responses[idx] = BatchResponse{Error: err}
			continue
		}
		responses[idx] = BatchResponse{Result: result}
	}

	p.recordSuccess(time.Since(start))
	return responses, nil
}

// post sends the payload and returns the raw body, handling throttle and
// block detection on the HTTP layer.
func (p *HTTPProvider) post(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	// Rate limit detection
	if resp.StatusCode == 429 {
		p.Monitor.RecordThrottle(429, resp.Header.Get("Retry-After"))
		return nil, &ThrottleError{RetryAfter: p.Monitor.GetRetryAfter(), Message: "rate limited (429)"}
	}

	// IP blocked detection
	if resp.StatusCode == 403 {
		p.Monitor.RecordThrottle(403, "")
		return nil, &ThrottleError{RetryAfter: p.Monitor.GetRetryAfter(), Message: "ip blocked (403)"}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if p.Monitor.DetectThrottlePattern(string(body)) {
			return nil, &ThrottleError{Message: truncate(body)}
		}
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, truncate(body))
	}

	return body, nil
}

func decodeResult(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return result, nil
}

func truncate(b []byte) string {
	if len(b) > maxTraceLen {
		return string(b[:maxTraceLen]) + "..."
	}
	return string(b)
}

// GetName returns the provider's name.
func (p *HTTPProvider) GetName() string {
	return p.name
}

// GetHealth returns the provider's health status.
func (p *HTTPProvider) GetHealth() HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// IsAvailable checks if the provider is available.
func (p *HTTPProvider) IsAvailable() bool {
	status := p.Monitor.CheckProviderStatus()
	return status == StatusHealthy || status == StatusDegraded
}

// Close cleans up resources.
func (p *HTTPProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

func (p *HTTPProvider) recordSuccess(latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.successCount++
	p.requestCount++
	p.totalLatency += latency
	p.health.LastSuccessAt = time.Now()
	p.health.Available = true

	if p.requestCount > 0 {
		p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	}
	if p.successCount > 0 {
		p.health.Latency = p.totalLatency / time.Duration(p.successCount)
	}
}

func (p *HTTPProvider) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failureCount++
	p.requestCount++
	p.health.LastFailureAt = time.Now()

	if p.requestCount > 0 {
		p.health.ErrorRate = float64(p.failureCount) / float64(p.requestCount)
	}

	if p.health.ErrorRate > 0.5 {
		p.health.Available = false
	}
}
