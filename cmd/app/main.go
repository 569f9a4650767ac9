package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"realty_go/internal/app"
	"realty_go/internal/domain"
	"realty_go/internal/market"

	"github.com/spf13/cobra"

	_ "net/http/pprof" // For pprof profiling
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	NewCLI().Run()
}

// CLI is the Cobra-based command-line interface.
type CLI struct {
	root *cobra.Command
}

// NewCLI sets up the CLI.
func NewCLI() *CLI {
	cli := &CLI{}
	cli.root = &cobra.Command{
		Use:           "app",
		Short:         "Real estate token marketplace backend",
		SilenceUsage:  true,
		SilenceErrors: true, // we'll output them ourselves in Run()
	}
	cli.root.PersistentFlags().StringP("config", "c", defaultConfigPath, "Path to the YAML config file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and price hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			pprofAddr, err := cmd.Flags().GetString("pprof")
			if err != nil {
				return err
			}
			return cli.serve(configPath, pprofAddr)
		},
	}
	serve.Flags().String("pprof", "", "Serve pprof on this address, e.g. localhost:6060")

	chart := &cobra.Command{
		Use:   "chart",
		Short: "Print a synthetic candle history as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			price, rng, err := syntheticFlags(cmd)
			if err != nil {
				return err
			}
			return writeJSON(cmd, market.GenerateCandlestickData(rng, price))
		},
	}

	orderbook := &cobra.Command{
		Use:   "orderbook",
		Short: "Print a synthetic order book as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			price, rng, err := syntheticFlags(cmd)
			if err != nil {
				return err
			}
			return writeJSON(cmd, market.GenerateOrderBook(rng, price))
		},
	}

	for _, c := range []*cobra.Command{chart, orderbook} {
		c.Flags().Float64P("price", "p", 0, "Reference price")
		c.Flags().Int64("seed", 0, "Random seed (0 seeds from the clock)")
		_ = c.MarkFlagRequired("price")
	}

	treasury := &cobra.Command{
		Use:   "treasury",
		Short: "Print the treasury HBAR balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			return cli.treasury(cmd, configPath)
		},
	}

	cli.root.AddCommand(serve, chart, orderbook, treasury)
	return cli
}

func (cli *CLI) serve(configPath, pprofAddr string) error {
	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if pprofAddr != "" {
		go func() {
			slog.Info("🕵️ Pprof server started", slog.String("addr", pprofAddr))
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(ctx, configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		return err
	}
	defer bootstrap.Close()

	if err := bootstrap.Start(ctx); err != nil {
		return err
	}

	// Background Asset Sync (Simulating Loading Screen logic)
	go bootstrap.SyncAssets(ctx)

	slog.InfoContext(ctx, "✨ Realty Go fully operational. Press Ctrl+C to exit.")

	if err := bootstrap.Serve(ctx); err != nil {
		return err
	}

	slog.Info("👋 Shutting down gracefully...")
	return nil
}

func (cli *CLI) treasury(cmd *cobra.Command, configPath string) error {
	ctx := cmd.Context()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(ctx, configPath); err != nil {
		return err
	}
	defer bootstrap.Close()

	if bootstrap.Ledger == nil {
		return &domain.ConfigError{Field: "ledger.treasury_id", Err: errors.New("treasury not configured")}
	}
	balance, err := bootstrap.Ledger.TreasuryBalance(ctx)
	if err != nil {
		return err
	}
	return writeJSON(cmd, map[string]string{
		"treasury": bootstrap.Config.Ledger.TreasuryID,
		"hbar":     balance.String(),
	})
}

func syntheticFlags(cmd *cobra.Command) (float64, *rand.Rand, error) {
	price, err := cmd.Flags().GetFloat64("price")
	if err != nil {
		return 0, nil, err
	}
	if price <= 0 {
		return 0, nil, domain.NewValidationError("price", "price must be positive")
	}
	seed, err := cmd.Flags().GetInt64("seed")
	if err != nil {
		return 0, nil, err
	}

	rng := market.NewRand()
	if seed != 0 {
		rng = rand.New(rand.NewSource(seed))
	}
	return price, rng, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Run runs the CLI.
func (cli *CLI) Run() {
	if err := cli.root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
