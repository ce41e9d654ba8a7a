package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/speedrun-hq/vault-depositor/pkg/chains"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/speedrun-hq/vault-depositor/pkg/orchestrator"
	"github.com/spf13/cobra"
)

var depositCmd = &cobra.Command{
	Use:   "deposit",
	Short: "Quote and execute a deposit into a vault",
	Example: `  vault-depositor deposit --vault-address 0x... --vault-chain 8453 --asset 0x... \
    --from-chain 1 --from-token 0x... --amount 250.5`,
	RunE: runDeposit,
}

func init() {
	rootCmd.AddCommand(depositCmd)
	f := depositCmd.Flags()
	f.String("vault-address", "", "vault address")
	f.Int("vault-chain", 0, "chain id of the vault")
	f.String("vault-id", "", "vault identifier stored with the transaction (defaults to the vault address)")
	f.String("vault-name", "", "display name of the vault")
	f.String("asset", "", "vault asset address")
	f.String("router", "", "deposit router address (defaults to the vault chain's ROUTER_ADDRESS)")
	f.Int("from-chain", 0, "source chain id (defaults to the vault chain)")
	f.String("from-token", "", "source token address (defaults to the vault asset)")
	f.String("amount", "", "amount in token units, e.g. 250.5")
	f.Bool("max", false, "deposit the whole balance net of the protocol fee")
	f.BoolP("yes", "y", false, "execute without confirmation")
	f.Bool("defer-deposit", false, "stop after the bridge settles and leave the deposit to the resume command")
	_ = depositCmd.MarkFlagRequired("vault-address")
	_ = depositCmd.MarkFlagRequired("vault-chain")
	_ = depositCmd.MarkFlagRequired("asset")
}

func runDeposit(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	vaultAddr, _ := f.GetString("vault-address")
	vaultChain, _ := f.GetInt("vault-chain")
	vaultID, _ := f.GetString("vault-id")
	vaultName, _ := f.GetString("vault-name")
	asset, _ := f.GetString("asset")
	routerAddr, _ := f.GetString("router")
	fromChain, _ := f.GetInt("from-chain")
	fromToken, _ := f.GetString("from-token")
	amountStr, _ := f.GetString("amount")
	useMax, _ := f.GetBool("max")
	yes, _ := f.GetBool("yes")
	deferDeposit, _ := f.GetBool("defer-deposit")

	if amountStr == "" && !useMax {
		return fmt.Errorf("either --amount or --max is required")
	}
	for _, addr := range []string{vaultAddr, asset, routerAddr, fromToken} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid address %q", addr)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	chainConfig, ok := cfg.Chains[vaultChain]
	if !ok {
		return fmt.Errorf("vault chain %d is not configured", vaultChain)
	}
	if fromChain == 0 {
		fromChain = vaultChain
	}
	if _, ok := cfg.Chains[fromChain]; !ok {
		return fmt.Errorf("source chain %d is not configured", fromChain)
	}

	router := chainConfig.Router()
	if routerAddr != "" {
		router = common.HexToAddress(routerAddr)
	}
	if router == (common.Address{}) {
		return fmt.Errorf("no router configured for chain %d", vaultChain)
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	orch := a.orchestrator

	vault := models.VaultConfig{
		ID:      vaultID,
		Name:    vaultName,
		Address: common.HexToAddress(vaultAddr),
		ChainID: vaultChain,
		Asset:   common.HexToAddress(asset),
		Router:  router,
	}
	if vault.ID == "" {
		vault.ID = strings.ToLower(vault.Address.Hex())
	}
	if vault.AssetDecimals, err = orch.TokenDecimals(ctx, vault.ChainID, vault.Asset); err != nil {
		return err
	}

	source := vault.Asset
	if fromToken != "" {
		source = common.HexToAddress(fromToken)
	}
	params := orchestrator.QuoteParams{
		Vault:     vault,
		FromChain: fromChain,
		FromToken: source,
		Max:       useMax,
	}
	if !useMax {
		decimals, err := orch.TokenDecimals(ctx, fromChain, source)
		if err != nil {
			return err
		}
		if params.Amount, err = chains.ParseUnits(amountStr, decimals); err != nil {
			return err
		}
	}

	quote, err := orch.PrepareQuote(ctx, params)
	if err != nil {
		return err
	}
	printQuote(cmd.OutOrStdout(), quote)

	if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), "Execute this deposit?") {
		fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
		return nil
	}

	req := orchestrator.ExecuteRequest{Vault: vault, Quote: quote, Max: useMax}
	ec, err := orch.Execute(ctx, withProgress(cmd.OutOrStdout(), orch, req))
	if err != nil {
		return err
	}

	if ec.Step == models.StepIdle && ec.Intent != nil && !deferDeposit {
		// two-phase route: the bridge has settled and the deposit is ours to send
		ec, err = orch.ResumeDeposit(ctx, ec.TransactionID)
		if err != nil {
			return err
		}
	}
	printResult(cmd.OutOrStdout(), ec)
	return nil
}

// withProgress assigns a transaction id to req and prints every transition of it
func withProgress(w io.Writer, orch *orchestrator.Orchestrator, req orchestrator.ExecuteRequest) orchestrator.ExecuteRequest {
	if req.TransactionID == "" {
		req.TransactionID = uuid.NewString()
	}
	orch.Subscribe(req.TransactionID, func(u models.Update) {
		line := fmt.Sprintf("[%s] %s", u.CurrentStep, u.Message)
		if u.ExplorerURL != "" {
			line += " " + u.ExplorerURL
		}
		fmt.Fprintln(w, line)
	})
	return req
}

func printQuote(w io.Writer, q *models.Quote) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(w, "%s %s\n", bold("Route:"), q.Tool)
	fmt.Fprintf(w, "  %s on %s -> %s on %s\n",
		chains.FormatUnits(q.FromAmount, q.FromDecimals), chains.GetChainName(q.FromChain),
		chains.FormatUnits(q.ToAmount, q.ToDecimals), chains.GetChainName(q.ToChain))
	fmt.Fprintf(w, "  minimum received: %s\n", chains.FormatUnits(q.MinimumOut(), q.ToDecimals))
	if q.Tool != "direct" {
		fmt.Fprintf(w, "  fees: $%s  estimated time: %v\n", q.Fees.Total().StringFixed(2), q.EstimatedDuration)
	}
}

func printResult(w io.Writer, ec *models.ExecutionContext) {
	switch {
	case ec.Step == models.StepCompleted:
		color.New(color.FgGreen).Fprintf(w, "Deposit %s complete\n", ec.TransactionID)
	case ec.Step == models.StepIdle && ec.Intent != nil:
		color.New(color.FgYellow).Fprintf(w, "Bridge settled for %s; run `vault-depositor resume --chain %d` to deposit\n",
			ec.TransactionID, ec.Vault.ChainID)
	default:
		color.New(color.FgYellow).Fprintf(w, "Deposit %s is %s: %s\n", ec.TransactionID, ec.Step, ec.Message)
	}
}

// confirm asks a yes/no question on in
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
