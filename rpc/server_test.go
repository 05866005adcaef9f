package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"zkex/core"
	"zkex/storage"
)

type acceptAllVerifier struct{}

func (acceptAllVerifier) Verify(rootBefore, rootAfter common.Hash, publicData []byte) bool {
	return true
}

type passthroughCustody struct{}

func (passthroughCustody) Deposit(ctx context.Context, from common.Address, token common.Address, amount *big.Int) (*big.Int, error) {
	return new(big.Int).Set(amount), nil
}

func (passthroughCustody) Transfer(ctx context.Context, to common.Address, token common.Address, amount *big.Int) error {
	return nil
}

var (
	testOperator = common.Address{0x0A}
	testOwner    = common.Address{0x0B}
	testUser     = common.Address{0x01}
	testToken    = common.Address{0xEE}
	testRoot     = common.HexToHash("0x11")
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	ex, err := core.NewExchange(storage.NewMemDB(), core.Params{
		ExchangeID:                           1,
		Operator:                             testOperator,
		Owner:                                testOwner,
		MaxNumTokens:                         8,
		MaxOpenForcedRequests:                4,
		ForcedRequestFee:                     big.NewInt(0),
		MaxAgeDepositUntilWithdrawable:       time.Hour,
		MaxAgeForcedRequestUntilWithdrawMode: time.Hour,
		MinTimeInShutdown:                    time.Hour,
		TreeDepth:                            3,
		TokenBits:                            1,
	}, acceptAllVerifier{}, nil)
	if err != nil {
		t.Fatalf("new exchange: %v", err)
	}
	ctx := context.Background()
	if err := ex.Initialize(ctx, testRoot, testToken); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := ex.SetDepositContract(ctx, testOwner, passthroughCustody{}); err != nil {
		t.Fatalf("set custody: %v", err)
	}

	srv := NewServer(ex, Options{OperatorToken: "secret"})
	ts := httptest.NewServer(srv.router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body interface{}, headers map[string]string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	decoded := map[string]json.RawMessage{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]json.RawMessage) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	decoded := map[string]json.RawMessage{}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestDepositEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	resp, body := postJSON(t, ts.URL+"/v1/deposits", map[string]string{
		"caller": testUser.Hex(),
		"owner":  testUser.Hex(),
		"token":  testToken.Hex(),
		"amount": "100",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", resp.StatusCode, body)
	}

	resp, body = getJSON(t, fmt.Sprintf("%s/v1/balances/%s/0", ts.URL, testUser.Hex()))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("balance: expected 200, got %d: %v", resp.StatusCode, body)
	}
}

func TestDepositRejectsBadPayload(t *testing.T) {
	_, ts := newTestServer(t)
	resp, body := postJSON(t, ts.URL+"/v1/deposits", map[string]string{
		"caller": "nonsense",
		"owner":  testUser.Hex(),
		"token":  testToken.Hex(),
		"amount": "100",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", resp.StatusCode, body)
	}
}

func TestOperatorEndpointsRequireToken(t *testing.T) {
	_, ts := newTestServer(t)
	block := map[string]interface{}{
		"caller": testOperator.Hex(),
		"block": map[string]interface{}{
			"index":      uint64(1),
			"rootBefore": testRoot,
			"rootAfter":  common.HexToHash("0x22"),
		},
	}

	resp, _ := postJSON(t, ts.URL+"/v1/blocks", block, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", resp.StatusCode)
	}
	resp, body := postJSON(t, ts.URL+"/v1/blocks", block, map[string]string{"X-Operator-Token": "secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d: %v", resp.StatusCode, body)
	}

	resp, _ = getJSON(t, ts.URL+"/v1/root")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("root: expected 200, got %d", resp.StatusCode)
	}
}

func TestErrorTaxonomyMapsToStatus(t *testing.T) {
	_, ts := newTestServer(t)

	// A claim with nothing withdrawable is a no-balance rejection.
	resp, body := postJSON(t, ts.URL+"/v1/claims", map[string]interface{}{
		"caller":  testUser.Hex(),
		"owner":   testUser.Hex(),
		"tokenId": 0,
	}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %v", resp.StatusCode, body)
	}
	var code string
	_ = json.Unmarshal(body["code"], &code)
	if code != "NO_WITHDRAWABLE_BALANCE" {
		t.Fatalf("expected NO_WITHDRAWABLE_BALANCE, got %s", code)
	}

	// Shutting down as a non-owner is an authorization rejection.
	resp, body = postJSON(t, ts.URL+"/v1/shutdown", map[string]string{
		"caller": testUser.Hex(),
	}, map[string]string{"X-Operator-Token": "secret"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %v", resp.StatusCode, body)
	}

	// The emergency exit outside withdrawal mode is a state rejection.
	resp, body = postJSON(t, ts.URL+"/v1/withdrawals/from-merkle-tree", map[string]interface{}{
		"owner":    testUser.Hex(),
		"balance":  "1",
		"siblings": []string{},
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %v", resp.StatusCode, body)
	}
}

func TestSubmitRateLimiter(t *testing.T) {
	// A dedicated server with a tight limiter rejects the burst follow-up.
	ex, err := core.NewExchange(storage.NewMemDB(), core.Params{
		Operator:              testOperator,
		Owner:                 testOwner,
		MaxNumTokens:          8,
		MaxOpenForcedRequests: 4,
		TreeDepth:             3,
		TokenBits:             1,
	}, acceptAllVerifier{}, nil)
	if err != nil {
		t.Fatalf("new exchange: %v", err)
	}
	limited := NewServer(ex, Options{OperatorToken: "secret", SubmitRate: 0.001})
	ts := httptest.NewServer(limited.router())
	defer ts.Close()

	payload := map[string]interface{}{"caller": testOperator.Hex(), "block": map[string]interface{}{}}
	headers := map[string]string{"X-Operator-Token": "secret"}
	postJSON(t, ts.URL+"/v1/blocks", payload, headers)
	resp, body := postJSON(t, ts.URL+"/v1/blocks", payload, headers)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %v", resp.StatusCode, body)
	}
	var code string
	_ = json.Unmarshal(body["code"], &code)
	if code != "SUBMISSION_RATE_EXCEEDED" {
		t.Fatalf("expected SUBMISSION_RATE_EXCEEDED, got %s", code)
	}
}
