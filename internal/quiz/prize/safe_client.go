package prize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// SafeClient talks to the safe-relayer service that executes batch token
// transfers on chain. It is the production Sink implementation.
type SafeClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string
}

// NewSafeClient creates a client for the relayer at baseURL.
func NewSafeClient(baseURL string) *SafeClient {
	return &SafeClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

// SetHeader adds a header to every request, e.g. an API key.
func (c *SafeClient) SetHeader(key, value string) {
	c.headers[key] = value
}

type distributeRequest struct {
	Addresses []string `json:"addresses"`
	Amounts   []string `json:"amounts"`
}

type distributeResponse struct {
	TxHash string `json:"tx_hash"`
}

// Distribute implements Sink. Network errors and 5xx responses come back
// as TransientError; 4xx responses are permanent.
func (c *SafeClient) Distribute(
	ctx context.Context,
	competitionID uuid.UUID,
	addresses []string,
	amounts []*big.Int,
) (string, error) {
	payload := distributeRequest{Addresses: addresses}
	for _, amount := range amounts {
		payload.Amounts = append(payload.Amounts, amount.String())
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal distribute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/distribute", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create distribute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Idempotency-Key", competitionID.String())
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", Transient(fmt.Errorf("relayer request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", Transient(fmt.Errorf("relayer returned status %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("relayer returned status %d: %s", resp.StatusCode, respBody)
	}

	var out distributeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode relayer response: %w", err)
	}
	return out.TxHash, nil
}
