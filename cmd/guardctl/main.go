package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/causalguard-labs/causalguard/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	guardURL string
	cfgFile  string
	govToken string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "guardctl",
	Short: "CausalGuard CLI",
	Long: `guardctl is the command-line interface for a CausalGuard daemon.

It submits action proposals on behalf of agents, inspects causal chains,
and performs governance operations against a running guardd.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.causalguard")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if guardURL == "" {
			guardURL = viper.GetString("guard_url")
		}
		if guardURL == "" {
			guardURL = "http://localhost:8080"
		}
		if govToken == "" {
			govToken = viper.GetString("governance_token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.causalguard/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&guardURL, "guard", "", "guardd base URL (default http://localhost:8080)")

	rootCmd.AddCommand(proposeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(decisionsCmd)
	rootCmd.AddCommand(rootUpdateCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() *client.Client {
	opts := []client.Option{client.WithTimeout(10 * time.Second)}
	if govToken != "" {
		opts = append(opts, client.WithGovernanceToken(govToken))
	}
	return client.MustNew(guardURL, opts...)
}

// ── propose ──────────────────────────────────────────────────────────────────

var (
	proposeAgent     string
	proposeType      string
	proposePayload   string
	proposeValue     uint64
	proposeNonce     uint64
	proposeRecipient string
	proposeChainID   uint16
)

var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Submit an action proposal",
	Long: `Propose submits one action proposal through the guard's pipeline.

The guard logs the attempt, evaluates the active policy against the agent's
causal chain, and reports the verdict along with the risk tier and the
signature threshold the action would require:

  guardctl propose --agent agent-1 --type signature_request \
      --nonce 7 --value 250 --payload '{"to":"0xabc"}' --recipient 0xabc`,
	RunE: runPropose,
}

func init() {
	proposeCmd.Flags().StringVar(&proposeAgent, "agent", "", "agent id (required)")
	proposeCmd.Flags().StringVar(&proposeType, "type", "signature_request", "action type")
	proposeCmd.Flags().StringVar(&proposePayload, "payload", "", "raw payload")
	proposeCmd.Flags().Uint64Var(&proposeValue, "value", 0, "action value in USD (0 = unvalued)")
	proposeCmd.Flags().Uint64Var(&proposeNonce, "nonce", 0, "proposal nonce (required, strictly increasing per agent)")
	proposeCmd.Flags().StringVar(&proposeRecipient, "recipient", "", "recipient address")
	proposeCmd.Flags().Uint16Var(&proposeChainID, "dest-chain", 0, "destination chain id")
	proposeCmd.MarkFlagRequired("agent") //nolint:errcheck
	proposeCmd.MarkFlagRequired("nonce") //nolint:errcheck
}

func runPropose(cmd *cobra.Command, args []string) error {
	c := newClient()

	res, err := c.Propose(context.Background(), client.Proposal{
		AgentID:          proposeAgent,
		ActionType:       proposeType,
		Payload:          []byte(proposePayload),
		Value:            proposeValue,
		Nonce:            proposeNonce,
		TimestampMs:      time.Now().UnixMilli(),
		Recipient:        proposeRecipient,
		DestinationChain: proposeChainID,
	})
	if errors.Is(err, client.ErrRejected) {
		fmt.Printf("REJECTED  %s\n", res.ActionID)
		fmt.Printf("  rule:   %s\n", res.Violation.Rule)
		fmt.Printf("  reason: %s\n", res.Violation.Reason)
		fmt.Printf("  tier:   %s (threshold %d)\n", res.Tier, res.Threshold)
		os.Exit(1)
	}
	if err != nil {
		return err
	}

	if res.Duplicate {
		fmt.Printf("DUPLICATE %s (status %s)\n", res.ActionID, res.Status)
		return nil
	}
	fmt.Printf("ACCEPTED  %s\n", res.ActionID)
	fmt.Printf("  tier:      %s\n", res.Tier)
	fmt.Printf("  threshold: %d signatures\n", res.Threshold)
	return nil
}

// ── status ───────────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status <action-id>",
	Short: "Show a logged action and its lifecycle state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		detail, err := newClient().Action(context.Background(), args[0])
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(detail, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

// ── chain ────────────────────────────────────────────────────────────────────

var chainTail int

var chainCmd = &cobra.Command{
	Use:   "chain [scope]",
	Short: "Inspect causal chains",
	Long: `Chain lists the known scopes, or shows one scope's length, root hash,
and most recent events:

  guardctl chain
  guardctl chain agent-1 --tail 5`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChain,
}

func init() {
	chainCmd.Flags().IntVar(&chainTail, "tail", 10, "number of recent events to list")
}

func runChain(cmd *cobra.Command, args []string) error {
	c := newClient()
	ctx := context.Background()

	if len(args) == 0 {
		scopes, err := c.Scopes(ctx)
		if err != nil {
			return err
		}
		for _, s := range scopes {
			fmt.Println(s)
		}
		return nil
	}

	scope := args[0]
	ov, err := c.Chain(ctx, scope)
	if err != nil {
		return err
	}
	fmt.Printf("scope:  %s\n", ov.Scope)
	fmt.Printf("events: %d\n", ov.Events)
	fmt.Printf("root:   %s\n", ov.Root)

	if ov.Events == 0 || chainTail <= 0 {
		return nil
	}

	events, err := c.Tail(ctx, scope, chainTail)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nIDX\tNONCE\tTYPE\tVALUE\tTIMESTAMP\tACTION")
	for _, e := range events {
		fmt.Fprintf(w, "%d\t%d\t%s\t%d\t%s\t%s\n",
			e.Index, e.Nonce, e.Type, e.Value,
			e.Timestamp.Format(time.RFC3339), short(e.ActionID),
		)
	}
	return w.Flush()
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12] + "…"
	}
	return id
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <scope>",
	Short: "Verify a scope's hash chain server-side",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().VerifyChain(context.Background(), args[0])
		if err != nil {
			return err
		}
		if !res.Valid {
			fmt.Printf("INVALID: %s\n", res.Error)
			os.Exit(1)
		}
		fmt.Println("chain intact")
		return nil
	},
}

// ── decisions ────────────────────────────────────────────────────────────────

var decisionsLimit int

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "List recent policy decisions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		records, err := newClient().RecentDecisions(context.Background(), decisionsLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DECIDED\tAGENT\tVERDICT\tTIER\tRULE\tACTION")
		for _, d := range records {
			verdict := "pass"
			if !d.Compliant {
				verdict = "FAIL"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				d.DecidedAt.Format(time.RFC3339), d.AgentID, verdict, d.Tier, d.Rule, short(d.ActionID),
			)
		}
		return w.Flush()
	},
}

func init() {
	decisionsCmd.Flags().IntVar(&decisionsLimit, "limit", 20, "maximum records to list")
}

// ── root ─────────────────────────────────────────────────────────────────────

var rootUpdateCmd = &cobra.Command{
	Use:   "root <new-proof-root>",
	Short: "Update the aggregate-key root (governance token required)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if govToken == "" {
			return fmt.Errorf("a governance token is required: set --token or governance_token in config")
		}
		if err := newClient().UpdateProofRoot(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Println("proof root updated")
		return nil
	},
}

func init() {
	rootUpdateCmd.Flags().StringVar(&govToken, "token", "", "governance JWT")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the guardctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("guardctl", version)
	},
}
