// Package client provides the CausalGuard Go SDK for submitting action
// proposals and inspecting causal chains over the guard's HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Sentinel errors mapped from guard HTTP responses.
var (
	// ErrRejected is returned when the guard logs a proposal but rejects it
	// for a policy violation. The ProposalResult carries the violation.
	ErrRejected = errors.New("proposal rejected by policy")

	// ErrRateLimited is returned when the agent's proposal rate limit is hit.
	ErrRateLimited = errors.New("proposal rate limited")

	// ErrNotFound is returned for unknown action ids, scopes, or indices.
	ErrNotFound = errors.New("not found")
)

// Proposal is the wire form of an action proposal.
type Proposal struct {
	AgentID          string `json:"agent_id"`
	ActionType       string `json:"action_type"`
	Payload          []byte `json:"payload,omitempty"`
	Value            uint64 `json:"value,omitempty"`
	Nonce            uint64 `json:"nonce"`
	TimestampMs      int64  `json:"timestamp_ms,omitempty"`
	Recipient        string `json:"recipient,omitempty"`
	DestinationChain uint16 `json:"destination_chain,omitempty"`
}

// Violation describes which rule a rejected proposal broke.
type Violation struct {
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

// ProposalResult is the guard's verdict on one proposal.
type ProposalResult struct {
	ActionID  string     `json:"action_id"`
	Status    string     `json:"status"`
	Compliant bool       `json:"compliant"`
	Duplicate bool       `json:"duplicate"`
	Tier      string     `json:"tier"`
	Threshold uint16     `json:"threshold"`
	Violation *Violation `json:"violation,omitempty"`
}

// Event is a single chain record as returned by the guard.
type Event struct {
	Index         int       `json:"index"`
	ActionID      string    `json:"action_id"`
	AgentID       string    `json:"agent_id"`
	Type          string    `json:"event_type"`
	Nonce         uint64    `json:"nonce"`
	Timestamp     time.Time `json:"timestamp"`
	PayloadDigest string    `json:"payload_digest"`
	Value         uint64    `json:"value"`
	PrevHash      string    `json:"prev_hash"`
	Hash          string    `json:"hash"`
}

// ActionDetail pairs a logged event with its current lifecycle status.
type ActionDetail struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
}

// ChainOverview summarises one causal scope.
type ChainOverview struct {
	Scope  string `json:"scope"`
	Events int    `json:"events"`
	Root   string `json:"root"`
}

// VerifyResult reports a chain integrity walk.
type VerifyResult struct {
	Scope string `json:"scope"`
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// DecisionRecord is one entry from the guard's decision audit log.
type DecisionRecord struct {
	ID        string    `json:"id"`
	ActionID  string    `json:"action_id"`
	AgentID   string    `json:"agent_id"`
	Compliant bool      `json:"compliant"`
	Rule      string    `json:"rule,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Tier      string    `json:"tier"`
	Threshold uint16    `json:"threshold"`
	DecidedAt time.Time `json:"decided_at"`
}

// Client is the CausalGuard SDK entry point.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	bearerToken string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient.Timeout = d
		return nil
	}
}

// WithGovernanceToken attaches a governance JWT to every request. Required
// for UpdateProofRoot.
func WithGovernanceToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// New creates a Client connected to the guard at baseURL.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithTimeout(5*time.Second),
//	)
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(baseURL string, opts ...Option) *Client {
	c, err := New(baseURL, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// Propose submits an action proposal.
//
// A rejection is not a transport failure: the guard logged the attempt and
// answered with the violation, so Propose returns the full result alongside
// ErrRejected. Rate limiting returns (nil, ErrRateLimited).
func (c *Client) Propose(ctx context.Context, p Proposal) (*ProposalResult, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal proposal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/actions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, body, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusCreated, http.StatusOK:
		var res ProposalResult
		if err := json.Unmarshal(body, &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		return &res, nil
	case http.StatusUnprocessableEntity:
		var res ProposalResult
		if err := json.Unmarshal(body, &res); err != nil {
			return nil, fmt.Errorf("decode rejection: %w", err)
		}
		return &res, ErrRejected
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		return nil, fmt.Errorf("guard returned HTTP %d: %s", status, string(body))
	}
}

// Action fetches a logged action and its lifecycle status by action id.
func (c *Client) Action(ctx context.Context, actionID string) (*ActionDetail, error) {
	var detail ActionDetail
	if err := c.getJSON(ctx, "/api/v1/actions/"+url.PathEscape(actionID), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Chain fetches the length and root hash of one causal scope.
func (c *Client) Chain(ctx context.Context, scope string) (*ChainOverview, error) {
	var ov ChainOverview
	if err := c.getJSON(ctx, "/api/v1/chain/"+url.PathEscape(scope), &ov); err != nil {
		return nil, err
	}
	return &ov, nil
}

// VerifyChain walks a scope's chain server-side and reports integrity.
func (c *Client) VerifyChain(ctx context.Context, scope string) (*VerifyResult, error) {
	var res VerifyResult
	if err := c.getJSON(ctx, "/api/v1/chain/"+url.PathEscape(scope)+"/verify", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Event fetches one event by zero-based chain index.
func (c *Client) Event(ctx context.Context, scope string, index int) (*Event, error) {
	var ev Event
	path := "/api/v1/chain/" + url.PathEscape(scope) + "/events/" + strconv.Itoa(index)
	if err := c.getJSON(ctx, path, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Tail fetches the most recent events of a scope, in append order.
func (c *Client) Tail(ctx context.Context, scope string, limit int) ([]Event, error) {
	var wrapper struct {
		Events []Event `json:"events"`
	}
	path := fmt.Sprintf("/api/v1/chain/%s/events?limit=%d", url.PathEscape(scope), limit)
	if err := c.getJSON(ctx, path, &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Events, nil
}

// Scopes lists every causal scope with at least one event.
func (c *Client) Scopes(ctx context.Context) ([]string, error) {
	var wrapper struct {
		Scopes []string `json:"scopes"`
	}
	if err := c.getJSON(ctx, "/api/v1/chain", &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Scopes, nil
}

// RecentDecisions fetches the latest policy verdicts, newest first.
func (c *Client) RecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	var wrapper struct {
		Decisions []DecisionRecord `json:"decisions"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/decisions?limit=%d", limit), &wrapper); err != nil {
		return nil, err
	}
	return wrapper.Decisions, nil
}

// UpdateProofRoot replaces the aggregate-key root. Requires a client built
// with WithGovernanceToken.
func (c *Client) UpdateProofRoot(ctx context.Context, root string) error {
	payload, _ := json.Marshal(map[string]string{"proof_root": root})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/governance/root", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	_, err = c.do(req)
	return err
}

// getJSON performs a GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// do executes an HTTP request, attaching the governance token if present.
func (c *Client) do(req *http.Request) ([]byte, error) {
	status, body, err := c.doStatusBody(req)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", req.URL.Path, ErrNotFound)
	case status == http.StatusUnauthorized:
		return nil, fmt.Errorf("unauthorized: %s", string(body))
	case status >= 300:
		return nil, fmt.Errorf("guard returned HTTP %d: %s", status, string(body))
	}
	return body, nil
}

// doStatusBody is a lower-level call returning (statusCode, body, error)
// without failing on 4xx responses. The caller interprets the status code.
func (c *Client) doStatusBody(req *http.Request) (int, []byte, error) {
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
