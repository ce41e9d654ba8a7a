package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/olekukonko/tablewriter"
	"github.com/speedrun-hq/vault-depositor/pkg/chains"
	"github.com/speedrun-hq/vault-depositor/pkg/config"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/speedrun-hq/vault-depositor/pkg/orchestrator"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List pending and past deposits of an account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		user, _ := cmd.Flags().GetString("user")
		view, _ := cmd.Flags().GetString("view")

		listView := models.ListView(view)
		switch listView {
		case models.ViewAll, models.ViewPending, models.ViewHistory:
		default:
			return fmt.Errorf("invalid view %q: use pending, history or leave empty", view)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		account, err := accountFor(cfg, user)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		a, err := openStores(ctx, cfg, newLogger(cfg))
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.store.List(ctx, models.ListFilter{User: account.Hex(), View: listView})
		if err != nil {
			return err
		}
		printRecords(cmd.OutOrStdout(), records)
		return nil
	},
}

var dismissCmd = &cobra.Command{
	Use:   "dismiss <transaction-id>",
	Short: "Stop tracking a deposit and mark it cancelled",
	Long:  "Marks a pending deposit cancelled and drops its deferred intent. Transactions already broadcast are not reverted.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		log := newLogger(cfg)
		a, err := openStores(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		orch := orchestrator.New(orchestrator.Dependencies{
			Store:   a.store,
			Pending: a.pending,
			Logger:  log,
		}, orchestrator.OptionsFromConfig(cfg))
		if err := orch.Dismiss(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Dismissed %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd, dismissCmd)
	historyCmd.Flags().String("user", "", "account address (defaults to the PRIVATE_KEY account)")
	historyCmd.Flags().String("view", "", "pending, history, or empty for all records")
}

// accountFor resolves the listed account from the flag or the configured signer
func accountFor(cfg *config.Config, user string) (common.Address, error) {
	if user != "" {
		if !common.IsHexAddress(user) {
			return common.Address{}, fmt.Errorf("invalid address %q", user)
		}
		return common.HexToAddress(user), nil
	}
	if err := cfg.RequireSigner(); err != nil {
		return common.Address{}, fmt.Errorf("--user is required without a signer: %v", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to parse private key: %v", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

func printRecords(w io.Writer, records []*models.TransactionState) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No deposits found")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Route", "Vault", "Amount", "Status", "Step", "Last Tx", "Updated"})
	for _, r := range records {
		route := chains.GetChainName(r.SourceChain)
		if r.SourceChain != r.DestinationChain {
			route += " -> " + chains.GetChainName(r.DestinationChain)
		}
		last := r.LastTxHash()
		if len(last) > 14 {
			last = last[:10] + "..." + last[len(last)-4:]
		}
		table.Append([]string{
			r.ID,
			route,
			r.VaultID,
			r.FromAmount,
			string(r.Status),
			r.CurrentStep,
			last,
			r.UpdatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	table.Render()
}
