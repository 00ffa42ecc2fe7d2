// Package health runs periodic availability probes against the validator
// endpoints behind the signature collaborator. A degraded validator set is
// the main operational reason signature collection misses its deadline, so
// the prober surfaces trouble before proposals start timing out.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds prober configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Validator is one probed validator endpoint.
type Validator struct {
	ID       uint16
	Endpoint string
}

// Status is a validator's last observed availability.
type Status struct {
	Validator Validator
	Healthy   bool
	LastSeen  time.Time
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

// Prober runs periodic validator endpoint probes.
type Prober struct {
	validators []Validator
	httpClient *http.Client
	cfg        Config
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger

	mu         sync.Mutex
	failCounts map[uint16]int
	statuses   map[uint16]Status
}

// New creates a Prober over a fixed validator set.
func New(validators []Validator, cfg Config, logger *zap.Logger) *Prober {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Prober{
		validators: validators,
		httpClient: &http.Client{Timeout: cfg.ProbeTimeout},
		cfg:        cfg,
		logger:     logger,
		failCounts: make(map[uint16]int),
		statuses:   make(map[uint16]Status),
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (p *Prober) SetMetricsRecord(fn MetricsRecordFunc) {
	p.onMetrics = fn
}

// Start runs the probe loop until stop is closed.
func (p *Prober) Start(stop <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CheckInterval-time.Second)
			p.CheckAll(ctx)
			cancel()
		case <-stop:
			return
		}
	}
}

// CheckAll probes every validator with bounded concurrency.
func (p *Prober) CheckAll(ctx context.Context) {
	sem := make(chan struct{}, 10)
	var wg sync.WaitGroup

	for _, v := range p.validators {
		wg.Add(1)
		go func(v Validator) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			success := p.probe(ctx, v.Endpoint)

			if p.onMetrics != nil {
				p.onMetrics(success)
			}

			p.mu.Lock()
			if success {
				p.failCounts[v.ID] = 0
			} else {
				p.failCounts[v.ID]++
			}
			count := p.failCounts[v.ID]
			p.statuses[v.ID] = Status{
				Validator: v,
				Healthy:   count < p.cfg.FailThreshold,
				LastSeen:  time.Now().UTC(),
			}
			p.mu.Unlock()

			if count == p.cfg.FailThreshold {
				p.logger.Warn("validator degraded",
					zap.Uint16("validator_id", v.ID),
					zap.String("endpoint", v.Endpoint),
					zap.Int("fail_count", count),
				)
			}
		}(v)
	}

	wg.Wait()
}

// Statuses returns the last observed status of every validator.
func (p *Prober) Statuses() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Status, 0, len(p.statuses))
	for _, s := range p.statuses {
		out = append(out, s)
	}
	return out
}

// HealthyCount returns the number of validators currently considered healthy.
func (p *Prober) HealthyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.statuses {
		if s.Healthy {
			n++
		}
	}
	return n
}

// probe attempts HEAD then GET, returning true on any 2xx response.
func (p *Prober) probe(ctx context.Context, endpoint string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := p.httpClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err = p.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
