// Package rpcclient implements ports.ChainRPC against a standard Solana
// JSON-RPC HTTP endpoint, in the same call/response shape the teacher's
// internal/backend.JSONRPCBackend uses for its Bitcoin/EVM node calls.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/copytrade/engine/internal/chainparams"
	"github.com/copytrade/engine/internal/ports"
	"github.com/copytrade/engine/internal/solwire"
	"github.com/copytrade/engine/pkg/logging"
	"github.com/mr-tron/base58"
)

// Client implements ports.ChainRPC over HTTP JSON-RPC.
type Client struct {
	url        string
	httpClient *http.Client
	requestID  atomic.Uint64
	log        *logging.Logger
}

// New constructs a Client against rpcURL, with the given request timeout.
func New(rpcURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:        rpcURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        logging.GetDefault().Component("rpcclient"),
	}
}

var _ ports.ChainRPC = (*Client)(nil)

func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	id := c.requestID.Add(1)
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	}

	data, err := json.Marshal(request)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var response struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("rpcclient: parse response for %s: %w", method, err)
	}
	if response.Error != nil {
		return nil, fmt.Errorf("rpcclient: %s RPC error %d: %s", method, response.Error.Code, response.Error.Message)
	}
	return response.Result, nil
}

// GetAccountInfos fetches accounts via getMultipleAccounts.
func (c *Client) GetAccountInfos(ctx context.Context, pubkeys []solwire.Pubkey, commitment chainparams.Commitment) ([]*ports.AccountInfo, error) {
	keys := make([]string, len(pubkeys))
	for i, pk := range pubkeys {
		keys[i] = pk.String()
	}
	raw, err := c.call(ctx, "getMultipleAccounts", []interface{}{
		keys,
		map[string]interface{}{"encoding": "base64", "commitment": string(commitment)},
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Value []*struct {
			Owner      string   `json:"owner"`
			Lamports   uint64   `json:"lamports"`
			Data       []string `json:"data"` // [base64, "base64"]
			Executable bool     `json:"executable"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("rpcclient: decode getMultipleAccounts: %w", err)
	}

	out := make([]*ports.AccountInfo, len(parsed.Value))
	for i, v := range parsed.Value {
		if v == nil {
			continue
		}
		owner, err := solwire.PubkeyFromBase58(v.Owner)
		if err != nil {
			return nil, err
		}
		var data []byte
		if len(v.Data) > 0 {
			data, err = base64.StdEncoding.DecodeString(v.Data[0])
			if err != nil {
				return nil, fmt.Errorf("rpcclient: decode account data: %w", err)
			}
		}
		out[i] = &ports.AccountInfo{Owner: owner, Lamports: v.Lamports, Data: data, Executable: v.Executable}
	}
	return out, nil
}

// GetLatestBlockhash fetches the recent blockhash via getLatestBlockhash.
func (c *Client) GetLatestBlockhash(ctx context.Context, commitment chainparams.Commitment) ([32]byte, uint64, error) {
	raw, err := c.call(ctx, "getLatestBlockhash", []interface{}{
		map[string]interface{}{"commitment": string(commitment)},
	})
	if err != nil {
		return [32]byte{}, 0, err
	}
	var parsed struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return [32]byte{}, 0, fmt.Errorf("rpcclient: decode getLatestBlockhash: %w", err)
	}
	decoded, err := base58.Decode(parsed.Value.Blockhash)
	if err != nil {
		return [32]byte{}, 0, fmt.Errorf("rpcclient: decode blockhash: %w", err)
	}
	var hash [32]byte
	copy(hash[:], decoded)
	return hash, parsed.Value.LastValidBlockHeight, nil
}

// SimulateTransaction runs simulateTransaction against the base64-encoded
// wire transaction.
func (c *Client) SimulateTransaction(ctx context.Context, txBytes []byte) (*ports.SimulationResult, error) {
	raw, err := c.call(ctx, "simulateTransaction", []interface{}{
		base64.StdEncoding.EncodeToString(txBytes),
		map[string]interface{}{"encoding": "base64", "sigVerify": false},
	})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Value struct {
			Err           json.RawMessage `json:"err"`
			Logs          []string        `json:"logs"`
			UnitsConsumed uint64          `json:"unitsConsumed"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("rpcclient: decode simulateTransaction: %w", err)
	}
	result := &ports.SimulationResult{UnitsConsumed: parsed.Value.UnitsConsumed, Logs: parsed.Value.Logs}
	if len(parsed.Value.Err) > 0 && string(parsed.Value.Err) != "null" {
		result.Err = string(parsed.Value.Err)
	}
	return result, nil
}

// SendTransaction submits the base64-encoded wire transaction via
// sendTransaction.
func (c *Client) SendTransaction(ctx context.Context, txBytes []byte, opts ports.SendOptions) (solwire.Signature, error) {
	raw, err := c.call(ctx, "sendTransaction", []interface{}{
		base64.StdEncoding.EncodeToString(txBytes),
		map[string]interface{}{
			"encoding":      "base64",
			"skipPreflight": opts.SkipPreflight,
			"maxRetries":    opts.MaxRetries,
		},
	})
	if err != nil {
		return solwire.Signature{}, err
	}
	var sigStr string
	if err := json.Unmarshal(raw, &sigStr); err != nil {
		return solwire.Signature{}, fmt.Errorf("rpcclient: decode sendTransaction result: %w", err)
	}
	return solwire.SignatureFromBase58(sigStr)
}

// ConfirmSignature polls getSignatureStatuses until the signature reaches
// the requested commitment or the deadline passes (spec §4.5
// "Confirmation": poll, don't subscribe, to keep this client simple).
func (c *Client) ConfirmSignature(ctx context.Context, sig solwire.Signature, commitment chainparams.Commitment, timeout time.Duration) (ports.ConfirmStatus, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		status, err := c.signatureStatus(ctx, sig)
		if err != nil {
			return ports.ConfirmNotFound, err
		}
		if status == ports.ConfirmFailed || statusSatisfies(status, commitment) {
			return status, nil
		}
		if time.Now().After(deadline) {
			return ports.ConfirmPending, nil
		}
		select {
		case <-ctx.Done():
			return ports.ConfirmNotFound, ctx.Err()
		case <-ticker.C:
		}
	}
}

func statusSatisfies(status ports.ConfirmStatus, commitment chainparams.Commitment) bool {
	switch commitment {
	case chainparams.CommitmentFinalized:
		return status == ports.ConfirmFinalized
	default:
		return status == ports.ConfirmConfirmed || status == ports.ConfirmFinalized
	}
}

func (c *Client) signatureStatus(ctx context.Context, sig solwire.Signature) (ports.ConfirmStatus, error) {
	raw, err := c.call(ctx, "getSignatureStatuses", []interface{}{
		[]string{sig.String()},
		map[string]interface{}{"searchTransactionHistory": true},
	})
	if err != nil {
		return ports.ConfirmNotFound, err
	}
	var parsed struct {
		Value []*struct {
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ports.ConfirmNotFound, fmt.Errorf("rpcclient: decode getSignatureStatuses: %w", err)
	}
	if len(parsed.Value) == 0 || parsed.Value[0] == nil {
		return ports.ConfirmNotFound, nil
	}
	status := parsed.Value[0]
	if len(status.Err) > 0 && string(status.Err) != "null" {
		return ports.ConfirmFailed, nil
	}
	switch status.ConfirmationStatus {
	case "finalized":
		return ports.ConfirmFinalized, nil
	case "confirmed":
		return ports.ConfirmConfirmed, nil
	default:
		return ports.ConfirmPending, nil
	}
}

// GetTransaction fetches and decodes a confirmed transaction via
// getTransaction(encoding=json, maxSupportedTransactionVersion=0).
func (c *Client) GetTransaction(ctx context.Context, sig solwire.Signature) (*solwire.RawTransaction, error) {
	raw, err := c.call(ctx, "getTransaction", []interface{}{
		sig.String(),
		map[string]interface{}{"encoding": "json", "maxSupportedTransactionVersion": 0},
	})
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, fmt.Errorf("rpcclient: transaction %s not found", sig)
	}
	return solwire.DecodeRawTransaction(raw)
}
