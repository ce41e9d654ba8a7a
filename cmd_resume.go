package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/speedrun-hq/vault-depositor/pkg/chains"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/speedrun-hq/vault-depositor/pkg/resume"
	"github.com/speedrun-hq/vault-depositor/pkg/server"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Finish deferred deposits whose funds arrived on the given chain",
	RunE:  runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
	f := resumeCmd.Flags()
	f.Int("chain", 0, "destination chain the account is connected to")
	f.BoolP("yes", "y", false, "resume every matching deposit without asking")
	f.Duration("watch", 0, "keep rescanning at this interval while bridges are still in flight")
	f.Bool("serve", false, "expose health, status and metrics endpoints while watching")
	_ = resumeCmd.MarkFlagRequired("chain")
}

func runResume(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	chainID, _ := f.GetInt("chain")
	yes, _ := f.GetBool("yes")
	watch, _ := f.GetDuration("watch")
	serve, _ := f.GetBool("serve")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, ok := cfg.Chains[chainID]; !ok {
		return fmt.Errorf("chain %d is not configured", chainID)
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if serve && watch > 0 {
		srv := server.NewServer(cfg.MetricsPort, a.store, cfg.MetricsAPIKey, a.logger)
		for name, check := range a.checks {
			srv.AddReadinessCheck(name, check)
		}
		srv.AddCircuitBreaker(a.breaker)
		go func() {
			if err := srv.Start(ctx); err != nil {
				a.logger.Error("Status server stopped: %v", err)
			}
		}()
	}

	out := cmd.OutOrStdout()
	confirmFn := resume.AutoConfirm
	if !yes {
		in := bufio.NewReader(cmd.InOrStdin())
		confirmFn = func(_ context.Context, intent *models.PendingLocalIntent) bool {
			return confirm(in, out, describeIntent(intent))
		}
	}
	scanner := resume.NewScanner(a.pending, a.orchestrator, confirmFn, a.logger)

	account := a.wallet.Address()
	var outcomes []resume.Outcome
	if watch > 0 {
		outcomes, err = scanner.Watch(ctx, account, chainID, watch)
	} else {
		outcomes, err = scanner.OnConnectionChange(ctx, account, chainID)
	}
	if err != nil {
		return err
	}
	printOutcomes(out, outcomes)
	return nil
}

func describeIntent(intent *models.PendingLocalIntent) string {
	return fmt.Sprintf("Deposit ~%s into %s on %s (bridged %s ago, tx %s)?",
		intent.EstimatedAmount, intent.VaultID, chains.GetChainName(intent.DestinationChain),
		time.Since(intent.CreatedAt).Round(time.Second), intent.TransactionID)
}

func printOutcomes(w io.Writer, outcomes []resume.Outcome) {
	if len(outcomes) == 0 {
		fmt.Fprintln(w, "No pending deposits for this account and chain")
		return
	}
	for _, o := range outcomes {
		c := color.New(color.FgYellow)
		switch o.State {
		case resume.StateResumed:
			c = color.New(color.FgGreen)
		case resume.StateFailed:
			c = color.New(color.FgRed)
		}
		if o.Err != nil {
			c.Fprintf(w, "%s: %s (%v)\n", o.TransactionID, o.State, o.Err)
			continue
		}
		c.Fprintf(w, "%s: %s\n", o.TransactionID, o.State)
	}
}
