// Package signer provides clients for the external signature collaborator.
// The collaborator is opaque: given a payload digest and a required threshold
// it returns a bundle of independent signatures with an aggregate proof, or a
// timeout. The post-quantum scheme and its aggregation live entirely on the
// collaborator's side.
package signer

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

// HTTPCollector requests signatures from a collaborator over HTTP.
// It implements orchestrator.Collector.
type HTTPCollector struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCollector creates an HTTPCollector for the given collaborator URL.
// The per-request deadline comes from the caller's context; the client
// timeout is a backstop.
func NewHTTPCollector(baseURL string, timeout time.Duration) *HTTPCollector {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &HTTPCollector{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Collect implements orchestrator.Collector.
func (c *HTTPCollector) Collect(ctx context.Context, req orchestrator.SignatureRequest) (*orchestrator.SignatureBundle, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal signature request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/signatures", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build signature request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call signature collaborator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("signature collaborator returned %d: %s", resp.StatusCode, b)
	}

	var bundle orchestrator.SignatureBundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("decode signature bundle: %w", err)
	}
	return &bundle, nil
}
