package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"trustchain/internal/app"
	"trustchain/internal/chain"
	"trustchain/internal/config"
	"trustchain/internal/runtime"
	"trustchain/internal/storage"
	logx "trustchain/pkg/logx"
)

const stopTimeout = 10 * time.Second

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "trustchain",
		Short:         "Devnet node for the scheduler and trust-fund runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "./config.yaml", "path to config (json or yaml)")
	cmd.AddCommand(
		newRunCmd(opts),
		newHeadCmd(opts),
		newAgendaCmd(opts),
		newFundCmd(opts),
		newBalanceCmd(opts),
	)
	return cmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, opts.configPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background())
				return err
			}
			select {
			case <-ctx.Done():
			case <-a.Done():
			}
			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			if err := a.Stop(stopCtx); err != nil {
				return err
			}
			return a.Err()
		},
	}
}

func newHeadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "head",
		Short: "Print the persisted chain head",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), opts, func(rt *runtime.Runtime) error {
				return printJSON(cmd.OutOrStdout(), rt.Head())
			})
		},
	}
}

func newAgendaCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "agenda <block>",
		Short: "Print the pending tasks of one agenda slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid block %q: %w", args[0], err)
			}
			return withRuntime(cmd.Context(), opts, func(rt *runtime.Runtime) error {
				entries, err := rt.AgendaSlot(cmd.Context(), chain.BlockNumber(n))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
}

func newFundCmd(opts *rootOptions) *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "fund [id]",
		Short: "Print a trust fund record, or the active fund ids with --active",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !active && len(args) == 0 {
				return fmt.Errorf("fund id required")
			}
			return withRuntime(cmd.Context(), opts, func(rt *runtime.Runtime) error {
				if active {
					ids, err := rt.ActiveFunds(cmd.Context())
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), ids)
				}
				id, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid fund id %q: %w", args[0], err)
				}
				f, err := rt.Fund(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), f)
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", false, "list active fund ids")
	return cmd
}

func newBalanceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "Print an account balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), opts, func(rt *runtime.Runtime) error {
				bal, exists, err := rt.Balance(cmd.Context(), chain.AccountID(args[0]))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"account": args[0],
					"balance": bal,
					"exists":  exists,
				})
			})
		},
	}
}

// withRuntime opens the configured store without starting the node. It must
// not be used against a store another process holds open.
func withRuntime(ctx context.Context, opts *rootOptions, fn func(*runtime.Runtime) error) error {
	cfg, err := config.NewManager(opts.configPath).Parse()
	if err != nil {
		return err
	}
	sc, err := cfg.StorageConfig()
	if err != nil {
		return err
	}
	kv, err := storage.Open(sc, logx.Nop())
	if err != nil {
		return err
	}
	defer kv.Close()
	rt, err := runtime.New(ctx, cfg.RuntimeConfig(), kv)
	if err != nil {
		return err
	}
	return fn(rt)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
