// Package verifier provides the client for the on-chain verifier
// collaborator. The contract rejects a submission when the proof root
// mismatches its configured key-aggregation root, when the signer count is
// below the tier's required threshold, or when the commitment is zero; all
// of that happens on the collaborator's side and is opaque here.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/causalguard-labs/causalguard/internal/orchestrator"
)

// HTTPVerifier submits verified actions to a chain relay over HTTP.
// It implements orchestrator.Verifier.
type HTTPVerifier struct {
	baseURL string
	client  *http.Client
}

// NewHTTPVerifier creates an HTTPVerifier for the given relay URL.
func NewHTTPVerifier(baseURL string, timeout time.Duration) *HTTPVerifier {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPVerifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Submit implements orchestrator.Verifier.
func (v *HTTPVerifier) Submit(ctx context.Context, sub orchestrator.Submission) (string, error) {
	body, err := json.Marshal(sub)
	if err != nil {
		return "", fmt.Errorf("marshal submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		v.baseURL+"/v1/verify", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build submission: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("call verifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("verifier returned %d: %s", resp.StatusCode, b)
	}

	var out struct {
		TxID string `json:"tx_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode verifier response: %w", err)
	}
	return out.TxID, nil
}
