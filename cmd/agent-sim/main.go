// cmd/agent-sim — runs a simulated trading agent against a guardd instance.
//
// The agent monitors a fake market, proposes every trade through the guard
// (never signing directly), and tracks each accepted action to a terminal
// state. Useful for demos and for exercising policies against a realistic
// proposal stream.
//
// Usage:
//
//	go run ./cmd/agent-sim
//	GUARD_URL=http://localhost:8080 AGENT_ID=guardian-1 go run ./cmd/agent-sim
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/causalguard-labs/causalguard/pkg/client"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "agent-sim: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	guardURL := envOr("GUARD_URL", "http://localhost:8080")
	agentID := envOr("AGENT_ID", "guardian-1")

	interval := flag.Duration("interval", 10*time.Second, "seconds between market scans")
	iterations := flag.Int("n", 0, "number of proposals to submit (0 = run until interrupted)")
	flag.Parse()

	c, err := client.New(guardURL, client.WithTimeout(10*time.Second))
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Resume nonces after the chain's current tail so restarts keep proposing.
	nonce := uint64(1)
	if ov, err := c.Chain(ctx, agentID); err == nil && ov.Events > 0 {
		if tail, err := c.Tail(ctx, agentID, 1); err == nil && len(tail) == 1 {
			nonce = tail[0].Nonce + 1
		}
	}

	fmt.Printf("agent %s proposing against %s (starting nonce %d)\n", agentID, guardURL, nonce)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for i := 0; *iterations == 0 || i < *iterations; i++ {
		opp := scanMarket()
		fmt.Printf("opportunity: swap worth %d USD\n", opp.ValueUSD)

		res, err := c.Propose(ctx, client.Proposal{
			AgentID:          agentID,
			ActionType:       "signature_request",
			Payload:          []byte(fmt.Sprintf(`{"op":"swap","value":%d}`, opp.ValueUSD)),
			Value:            opp.ValueUSD,
			Nonce:            nonce,
			TimestampMs:      time.Now().UnixMilli(),
			Recipient:        opp.Recipient,
			DestinationChain: opp.DestinationChain,
		})
		switch {
		case errors.Is(err, client.ErrRejected):
			fmt.Printf("  rejected (%s): %s\n", res.Violation.Rule, res.Violation.Reason)
			nonce++ // the attempt was logged; the nonce is spent
		case errors.Is(err, client.ErrRateLimited):
			fmt.Println("  rate limited, backing off")
		case err != nil:
			fmt.Printf("  proposal error: %v\n", err)
		default:
			fmt.Printf("  accepted %s (tier %s, %d signatures)\n", res.ActionID, res.Tier, res.Threshold)
			nonce++
			trackToCompletion(ctx, c, res.ActionID)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			fmt.Println("shutting down")
			return nil
		}
	}
	return nil
}

// opportunity is one simulated market observation.
type opportunity struct {
	ValueUSD         uint64
	Recipient        string
	DestinationChain uint16
}

// scanMarket fakes a DEX scan. Values spread across all three risk tiers so a
// running sim exercises every threshold.
func scanMarket() opportunity {
	values := []uint64{25, 80, 250, 500, 1500, 5000}
	return opportunity{
		ValueUSD:         values[rand.Intn(len(values))],
		Recipient:        "0x" + strconv.FormatUint(rand.Uint64(), 16),
		DestinationChain: 1,
	}
}

// trackToCompletion polls the action until it reaches a terminal state.
func trackToCompletion(ctx context.Context, c *client.Client, actionID string) {
	for {
		detail, err := c.Action(ctx, actionID)
		if err != nil {
			fmt.Printf("  status poll error: %v\n", err)
			return
		}
		fmt.Printf("  status: %s\n", detail.Status)

		switch detail.Status {
		case "signed", "confirmed", "rejected", "failed":
			return
		}

		select {
		case <-time.After(2 * time.Second):
		case <-ctx.Done():
			return
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
