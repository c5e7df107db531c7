// Package aggregator implements builders.AggregatorClient against a
// Jupiter-shaped swap-instructions HTTP API, in the same call/response
// style rpcclient.Client uses for Chain RPC: a small request struct
// marshalled to JSON, posted with http.NewRequestWithContext, and the
// body decoded straight into typed results.
package aggregator

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/copytrade/engine/internal/builders"
	"github.com/copytrade/engine/internal/solwire"
)

// Client implements builders.AggregatorClient over HTTP against a
// Jupiter-compatible /quote + /swap-instructions pair of endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a Client against baseURL (e.g.
// "https://quote-api.jup.ag/v6"), with the given request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var _ builders.AggregatorClient = (*Client)(nil)

type quoteResponse struct {
	OutAmount       string          `json:"outAmount"`
	RoutePlan       json.RawMessage `json:"routePlan"`
	SlippageBps     int             `json:"slippageBps"`
	OtherAmountThreshold string     `json:"otherAmountThreshold"`
}

type swapInstructionsRequest struct {
	QuoteResponse json.RawMessage `json:"quoteResponse"`
	UserPublicKey string          `json:"userPublicKey"`
}

type instructionJSON struct {
	ProgramID string       `json:"programId"`
	Accounts  []accountJSON `json:"accounts"`
	Data      string       `json:"data"` // base64
}

type accountJSON struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"isSigner"`
	IsWritable bool   `json:"isWritable"`
}

type swapInstructionsResponse struct {
	ComputeBudgetInstructions []instructionJSON `json:"computeBudgetInstructions"`
	SetupInstructions         []instructionJSON `json:"setupInstructions"`
	SwapInstruction           instructionJSON   `json:"swapInstruction"`
	CleanupInstruction        *instructionJSON  `json:"cleanupInstruction"`
}

// GetSwapInstructions quotes req.InputMint -> req.OutputMint for
// req.FollowerAmount, then asks the aggregator for the concrete
// instruction list a client would submit -- the two-call
// quote-then-swap-instructions shape Jupiter's v6 API expects.
func (c *Client) GetSwapInstructions(ctx context.Context, req builders.AggregatorSwapRequest) (*builders.AggregatorSwapPlan, error) {
	quote, err := c.quote(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("aggregator: quote: %w", err)
	}

	swapReq := swapInstructionsRequest{
		QuoteResponse: quote,
		UserPublicKey: req.FollowerWallet.String(),
	}
	body, err := json.Marshal(swapReq)
	if err != nil {
		return nil, fmt.Errorf("aggregator: encode swap-instructions request: %w", err)
	}

	raw, err := c.post(ctx, "/swap-instructions", body)
	if err != nil {
		return nil, fmt.Errorf("aggregator: swap-instructions: %w", err)
	}
	var parsed swapInstructionsResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("aggregator: decode swap-instructions response: %w", err)
	}

	var all []instructionJSON
	all = append(all, parsed.SetupInstructions...)
	all = append(all, parsed.SwapInstruction)
	if parsed.CleanupInstruction != nil {
		all = append(all, *parsed.CleanupInstruction)
	}

	instructions := make([]builders.AggregatorInstruction, 0, len(all))
	for _, ij := range all {
		ai, err := decodeInstruction(ij)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, ai)
	}
	return &builders.AggregatorSwapPlan{Instructions: instructions}, nil
}

func decodeInstruction(ij instructionJSON) (builders.AggregatorInstruction, error) {
	programID, err := solwire.PubkeyFromBase58(ij.ProgramID)
	if err != nil {
		return builders.AggregatorInstruction{}, fmt.Errorf("aggregator: decode program id: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(ij.Data)
	if err != nil {
		return builders.AggregatorInstruction{}, fmt.Errorf("aggregator: decode instruction data: %w", err)
	}
	accounts := make([]builders.AggregatorAccountMeta, len(ij.Accounts))
	for i, aj := range ij.Accounts {
		pk, err := solwire.PubkeyFromBase58(aj.Pubkey)
		if err != nil {
			return builders.AggregatorInstruction{}, fmt.Errorf("aggregator: decode account pubkey: %w", err)
		}
		accounts[i] = builders.AggregatorAccountMeta{Pubkey: pk, IsSigner: aj.IsSigner, IsWritable: aj.IsWritable}
	}
	return builders.AggregatorInstruction{ProgramID: programID, Accounts: accounts, Data: data}, nil
}

func (c *Client) quote(ctx context.Context, req builders.AggregatorSwapRequest) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("inputMint", req.InputMint.String())
	q.Set("outputMint", req.OutputMint.String())
	q.Set("amount", fmt.Sprintf("%d", req.FollowerAmount))
	q.Set("slippageBps", fmt.Sprintf("%d", req.SlippageBps))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator: quote endpoint returned %d: %s", resp.StatusCode, body)
	}
	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("aggregator: decode quote response: %w", err)
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, respBody)
	}
	return respBody, nil
}
