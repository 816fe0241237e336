package jsonrpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"AgenC-Operator/internal/ledger"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newFakeNode starts an HTTP JSON-RPC node whose per-method results are
// supplied by the results map (raw JSON for the "result" field).
func newFakeNode(t *testing.T, results map[string]string, seen *[]rpcRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		if seen != nil {
			*seen = append(*seen, req)
		}
		result, ok := results[req.Method]
		if !ok {
			result = "null"
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
	}))
}

func newTestClient(t *testing.T, node *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), Config{RPCURL: node.URL, Commitment: "confirmed"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestGetBalance(t *testing.T) {
	node := newFakeNode(t, map[string]string{
		"getBalance": `{"context":{"slot":100},"value":2500000000}`,
	}, nil)
	defer node.Close()

	client := newTestClient(t, node)
	balance, err := client.GetBalance(context.Background(), "addr")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance != 2500000000 {
		t.Fatalf("balance = %d, want 2500000000", balance)
	}
}

func TestGetTokenAccountBalance(t *testing.T) {
	node := newFakeNode(t, map[string]string{
		"getTokenAccountBalance": `{"context":{"slot":1},"value":{"amount":"12345000000","decimals":6}}`,
	}, nil)
	defer node.Close()

	client := newTestClient(t, node)
	amount, err := client.GetTokenAccountBalance(context.Background(), "tokenacct")
	if err != nil {
		t.Fatalf("GetTokenAccountBalance: %v", err)
	}
	if amount != 12345000000 {
		t.Fatalf("amount = %d, want 12345000000", amount)
	}
}

func TestGetLatestBlockhash(t *testing.T) {
	node := newFakeNode(t, map[string]string{
		"getLatestBlockhash": `{"context":{"slot":9},"value":{"blockhash":"FwRYtTPRk5N4wUeP87rTw9kQVSwigB6kbikGzzeCMrW5","lastValidBlockHeight":3090}}`,
	}, nil)
	defer node.Close()

	client := newTestClient(t, node)
	bh, err := client.GetLatestBlockhash(context.Background())
	if err != nil {
		t.Fatalf("GetLatestBlockhash: %v", err)
	}
	if bh.Blockhash != "FwRYtTPRk5N4wUeP87rTw9kQVSwigB6kbikGzzeCMrW5" {
		t.Fatalf("unexpected blockhash %q", bh.Blockhash)
	}
	if bh.LastValidBlockHeight != 3090 {
		t.Fatalf("unexpected last valid height %d", bh.LastValidBlockHeight)
	}
}

func TestSendTransactionEncodesBase64(t *testing.T) {
	var seen []rpcRequest
	node := newFakeNode(t, map[string]string{
		"sendTransaction": `"5VERYfake111111111111111111111111111111111111111111111111111111"`,
	}, &seen)
	defer node.Close()

	client := newTestClient(t, node)
	payload := []byte{0x01, 0x02, 0x03}
	sig, err := client.SendTransaction(context.Background(), payload)
	if err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	if sig == "" {
		t.Fatal("expected non-empty signature")
	}

	if len(seen) != 1 {
		t.Fatalf("expected 1 request, got %d", len(seen))
	}
	var encoded string
	if err := json.Unmarshal(seen[0].Params[0], &encoded); err != nil {
		t.Fatalf("unmarshal param: %v", err)
	}
	if encoded != base64.StdEncoding.EncodeToString(payload) {
		t.Fatalf("unexpected wire encoding %q", encoded)
	}
	var opts map[string]any
	if err := json.Unmarshal(seen[0].Params[1], &opts); err != nil {
		t.Fatalf("unmarshal options: %v", err)
	}
	if opts["encoding"] != "base64" {
		t.Fatalf("expected base64 encoding option, got %v", opts["encoding"])
	}
}

func TestGetSignatureStatus(t *testing.T) {
	node := newFakeNode(t, map[string]string{
		"getSignatureStatuses": `{"context":{"slot":20},"value":[{"slot":18,"confirmations":5,"err":null,"confirmationStatus":"confirmed"}]}`,
	}, nil)
	defer node.Close()

	client := newTestClient(t, node)
	status, err := client.GetSignatureStatus(context.Background(), "sig")
	if err != nil {
		t.Fatalf("GetSignatureStatus: %v", err)
	}
	if status == nil {
		t.Fatal("expected a status")
	}
	if !status.Finalized() {
		t.Fatal("expected confirmed status to count as finalized")
	}
	if status.Err != "" {
		t.Fatalf("unexpected err field %q", status.Err)
	}
}

func TestGetSignatureStatusUnseen(t *testing.T) {
	node := newFakeNode(t, map[string]string{
		"getSignatureStatuses": `{"context":{"slot":20},"value":[null]}`,
	}, nil)
	defer node.Close()

	client := newTestClient(t, node)
	status, err := client.GetSignatureStatus(context.Background(), "sig")
	if err != nil {
		t.Fatalf("GetSignatureStatus: %v", err)
	}
	if status != nil {
		t.Fatalf("expected nil status for unseen signature, got %+v", status)
	}
}

func TestGetProgramAccounts(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte("account-bytes"))
	var seen []rpcRequest
	node := newFakeNode(t, map[string]string{
		"getProgramAccounts": `[{"pubkey":"Acct1","account":{"data":["` + data + `","base64"]}}]`,
	}, &seen)
	defer node.Close()

	client := newTestClient(t, node)
	filters := []ledger.MemcmpFilter{{Offset: 0, Bytes: "3Kc9vN"}}
	accounts, err := client.GetProgramAccounts(context.Background(), "Prog", filters)
	if err != nil {
		t.Fatalf("GetProgramAccounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	if accounts[0].Address != "Acct1" {
		t.Fatalf("unexpected address %q", accounts[0].Address)
	}
	if string(accounts[0].Data) != "account-bytes" {
		t.Fatalf("unexpected decoded data %q", accounts[0].Data)
	}

	if len(seen) != 1 {
		t.Fatalf("expected 1 request, got %d", len(seen))
	}
	var opts map[string]any
	if err := json.Unmarshal(seen[0].Params[1], &opts); err != nil {
		t.Fatalf("unmarshal options: %v", err)
	}
	if _, ok := opts["filters"]; !ok {
		t.Fatal("expected memcmp filters to be forwarded")
	}
}
