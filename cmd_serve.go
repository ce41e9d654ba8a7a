package main

import (
	"github.com/speedrun-hq/vault-depositor/pkg/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the transaction state API with health and metrics endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetString("port"); port != "" {
			cfg.MetricsPort = port
		}

		ctx, cancel := signalContext()
		defer cancel()

		log := newLogger(cfg)
		// serve is the persistence backend itself, never a client of another one
		cfg.StateAPIEndpoint = ""
		a, err := openStores(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		srv := server.NewServer(cfg.MetricsPort, a.store, cfg.MetricsAPIKey, log)
		for name, check := range a.checks {
			srv.AddReadinessCheck(name, check)
		}

		log.Info("Starting transaction state server on port %s", cfg.MetricsPort)
		return srv.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("port", "", "listen port (defaults to METRICS_PORT)")
}
