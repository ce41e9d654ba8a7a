package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/speedrun-hq/vault-depositor/pkg/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vault-depositor",
	Short: "Deposit any token from any supported chain into an ERC-4626 vault",
	Long: `vault-depositor quotes, approves, swaps, bridges and deposits into a
vault through the VaultDepositRouter using signed deposit intents.

Configuration is read from the environment (and a .env file when present).`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-signalCh:
			log.Println("Received termination signal, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signalCh)
	}()
	return ctx, cancel
}

// loadConfig loads the environment configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}
	return cfg, nil
}
