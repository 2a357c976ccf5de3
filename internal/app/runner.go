package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/metavault/custodian/internal/actions"
	"github.com/metavault/custodian/internal/chain"
	"github.com/metavault/custodian/internal/chain/signer"
	"github.com/metavault/custodian/internal/chat"
	"github.com/metavault/custodian/internal/chat/session"
	"github.com/metavault/custodian/internal/config"
	cerr "github.com/metavault/custodian/internal/errors"
	"github.com/metavault/custodian/internal/httpx"
	"github.com/metavault/custodian/internal/monitor"
	"github.com/metavault/custodian/internal/notify"
	"github.com/metavault/custodian/internal/prices"
	"github.com/metavault/custodian/internal/risk"
	"github.com/metavault/custodian/internal/server"
	"github.com/metavault/custodian/internal/state"
	"github.com/metavault/custodian/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
}

func NewRunner() *Runner {
	return &Runner{stdout: os.Stdout, stderr: os.Stderr}
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{stdout: stdout, stderr: stderr}
}

func (r *Runner) Run(args []string) int {
	root := r.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		fmt.Fprintf(r.stderr, "error: %v\n", err)
		return cerr.ExitCode(err)
	}
	return 0
}

func (r *Runner) newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "custodian",
		Short: "Automated custodian for the MetaVault yield vault",
		Long: "custodian watches a yield-bearing vault, classifies liquidation risk,\n" +
			"executes corrective actions with an operational key, and serves a chat\n" +
			"API that prepares vault transactions for users' own wallets.",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	cmd.AddCommand(r.newServeCommand(&configPath))
	cmd.AddCommand(r.newMonitorCommand(&configPath))
	cmd.AddCommand(r.newCycleCommand(&configPath))
	cmd.AddCommand(r.newAdminCommand(&configPath))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// deps is everything the subcommands assemble from configuration. The chain
// client and signer are constructed once and shared.
type deps struct {
	settings config.Settings
	reader   *state.Reader
	exec     *actions.Executor
	prices   *prices.Client
	sink     notify.Sink
	sched    *monitor.Scheduler
}

func (r *Runner) buildDeps(ctx context.Context, configPath string, needSigner bool) (*deps, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	var txSigner signer.Signer
	if signerConfigured() {
		local, err := signer.NewLocalSignerFromEnv()
		if err != nil {
			return nil, err
		}
		txSigner = local
		log.Printf("[INFO] custodian: operational key %s", local.Address().Hex())
	} else if needSigner {
		log.Printf("[WARN] custodian: no signing key configured, running observe-only")
	}

	chainOpts := chain.DefaultOptions()
	chainOpts.CallTimeout = settings.RequestTimeout
	client, err := chain.Dial(ctx, settings.RPCURL, txSigner, chainOpts)
	if err != nil {
		return nil, err
	}

	contracts := state.Contracts{
		Vault:            settings.Vault(),
		Router:           settings.Router(),
		StrategyLeverage: settings.StrategyLeverage(),
		StrategyAave:     settings.StrategyAave(),
		AssetToken:       settings.AssetToken(),
	}
	reader := state.NewReader(client, contracts)

	httpClient := httpx.New(settings.RequestTimeout, settings.HTTPRetries)
	priceClient := prices.New(httpClient)

	var sink notify.Sink = notify.LogSink{}
	if settings.TelegramBotToken != "" && settings.TelegramChannelID != "" {
		sink = notify.NewTelegram(httpClient, settings.TelegramBotToken, settings.TelegramChannelID)
	}

	var (
		exec   *actions.Executor
		runner monitor.ActionRunner
	)
	if txSigner != nil {
		exec = actions.NewExecutor(client, contracts, settings.DeleverageDepth)
		runner = exec
	}

	sched := monitor.NewScheduler(monitor.Config{
		ComprehensiveCron: settings.ComprehensiveCron,
		YieldCron:         settings.YieldCron,
		Thresholds: risk.Thresholds{
			Warn:     settings.WarnLTV,
			Critical: settings.CriticalLTV,
		},
		VolatilityThreshold: settings.VolatilityThreshold,
		DriftToleranceBps:   settings.DriftToleranceBps,
	}, reader, runner, priceClient, sink)

	return &deps{
		settings: settings,
		reader:   reader,
		exec:     exec,
		prices:   priceClient,
		sink:     sink,
		sched:    sched,
	}, nil
}

func (r *Runner) newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitoring loop and the chat API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := r.buildDeps(cmd.Context(), *configPath, true)
			if err != nil {
				return err
			}

			store, err := session.Open(d.settings.SessionDBPath, d.settings.SessionLockPath)
			if err != nil {
				return err
			}
			defer store.Close()

			machine := chat.NewMachine(d.reader, d.prices)
			machine.APY = d.sched.LatestAPY

			srv := server.New(d.settings.ListenAddr, machine, store, d.sched)

			if err := d.sched.Start(); err != nil {
				return err
			}
			defer d.sched.Stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-sigCh:
				log.Printf("[INFO] custodian: %s received, shutting down", sig)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func (r *Runner) newMonitorCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Run only the monitoring loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := r.buildDeps(cmd.Context(), *configPath, true)
			if err != nil {
				return err
			}
			if err := d.sched.Start(); err != nil {
				return err
			}
			defer d.sched.Stop()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			log.Printf("[INFO] custodian: %s received, stopping", sig)
			return nil
		},
	}
}

func (r *Runner) newCycleCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cycle",
		Short: "Run one comprehensive monitoring cycle and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := r.buildDeps(cmd.Context(), *configPath, false)
			if err != nil {
				return err
			}
			report := d.sched.RunComprehensive(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

// newAdminCommand exposes the guarded management writes directly. Every
// subcommand needs the operational key.
func (r *Runner) newAdminCommand(configPath *string) *cobra.Command {
	root := &cobra.Command{
		Use:   "admin",
		Short: "Management operations signed with the operational key",
	}

	adminDeps := func(cmd *cobra.Command) (*deps, error) {
		d, err := r.buildDeps(cmd.Context(), *configPath, false)
		if err != nil {
			return nil, err
		}
		if d.exec == nil {
			return nil, cerr.New(cerr.CodeSigner, "no signing key configured: set "+signer.EnvPrivateKey)
		}
		return d, nil
	}

	printReceipt := func(cmd *cobra.Command, receipt chain.Receipt) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s (tx %s, nonce %d, gas %d)\n",
			receipt.Status, receipt.Hash, receipt.Nonce, receipt.GasUsed)
	}

	root.AddCommand(&cobra.Command{
		Use:   "rebalance",
		Short: "Rebalance strategy allocations to their target weights",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := adminDeps(cmd)
			if err != nil {
				return err
			}
			receipt, err := d.exec.Rebalance(cmd.Context())
			if err != nil {
				return err
			}
			printReceipt(cmd, receipt)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "harvest",
		Short: "Harvest accrued yield across strategies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := adminDeps(cmd)
			if err != nil {
				return err
			}
			receipt, err := d.exec.Harvest(cmd.Context())
			if err != nil {
				return err
			}
			printReceipt(cmd, receipt)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "deleverage",
		Short: "Unwind the leverage strategy's position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := adminDeps(cmd)
			if err != nil {
				return err
			}
			receipt, err := d.exec.Deleverage(cmd.Context())
			if err != nil {
				return err
			}
			printReceipt(cmd, receipt)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "pause",
		Short: "Toggle the leverage strategy's pause flag",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := adminDeps(cmd)
			if err != nil {
				return err
			}
			receipt, paused, err := d.exec.TogglePause(cmd.Context())
			if err != nil {
				return err
			}
			printReceipt(cmd, receipt)
			fmt.Fprintf(cmd.OutOrStdout(), "paused: %t\n", paused)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "set-weights <address=bps> [address=bps...]",
		Short: "Update strategy target weights (must sum to 10000 bps)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			weights, err := parseWeights(args)
			if err != nil {
				return err
			}
			d, err := adminDeps(cmd)
			if err != nil {
				return err
			}
			receipt, err := d.exec.UpdateWeights(cmd.Context(), weights)
			if err != nil {
				return err
			}
			printReceipt(cmd, receipt)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "set-params <max-depth> <borrow-factor-bps>",
		Short: "Retune the leverage strategy's depth and borrow factor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxDepth, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return cerr.New(cerr.CodeUsage, "max-depth must be an integer")
			}
			borrowFactor, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return cerr.New(cerr.CodeUsage, "borrow-factor-bps must be an integer")
			}
			d, err := adminDeps(cmd)
			if err != nil {
				return err
			}
			receipt, err := d.exec.UpdateLeverageParams(cmd.Context(), maxDepth, borrowFactor)
			if err != nil {
				return err
			}
			printReceipt(cmd, receipt)
			return nil
		},
	})

	return root
}

func parseWeights(args []string) ([]actions.StrategyWeight, error) {
	weights := make([]actions.StrategyWeight, 0, len(args))
	for _, arg := range args {
		addr, bpsRaw, found := strings.Cut(arg, "=")
		if !found || !common.IsHexAddress(addr) {
			return nil, cerr.New(cerr.CodeUsage, fmt.Sprintf("expected address=bps, got %q", arg))
		}
		bps, err := strconv.ParseInt(bpsRaw, 10, 64)
		if err != nil {
			return nil, cerr.New(cerr.CodeUsage, fmt.Sprintf("invalid bps in %q", arg))
		}
		weights = append(weights, actions.StrategyWeight{
			Strategy: common.HexToAddress(addr),
			Bps:      bps,
		})
	}
	return weights, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func signerConfigured() bool {
	for _, env := range []string{signer.EnvPrivateKey, signer.EnvPrivateKeyFile, signer.EnvKeystorePath} {
		if strings.TrimSpace(os.Getenv(env)) != "" {
			return true
		}
	}
	return false
}
