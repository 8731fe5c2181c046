// ====================================
// File: cmd/clmm/main.go
// ====================================
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/rovshanmuradov/clmm-manager/internal/clmm/liquidity"
	"github.com/rovshanmuradov/clmm-manager/internal/clmm/tickmath"
	"github.com/rovshanmuradov/clmm-manager/internal/dex"
	"github.com/rovshanmuradov/clmm-manager/internal/storage/models"
	"github.com/rovshanmuradov/clmm-manager/internal/types"
)

func main() {
	root := &cobra.Command{
		Use:          "clmm",
		Short:        "Concentrated-liquidity position manager",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "configs/config.json", "config file path")

	root.AddCommand(
		portfolioCmd(),
		openCmd(),
		addCmd(),
		removeCmd(),
		collectCmd(),
		closeCmd(),
		historyCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func appFromCmd(cmd *cobra.Command) (*App, error) {
	configPath, _ := cmd.Flags().GetString("config")
	return newApp(configPath)
}

// parsePubkeyFlag валидирует адрес на границе CLI: ядро получает уже
// разобранный ключ.
func parsePubkeyFlag(cmd *cobra.Command, name string) (solana.PublicKey, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return solana.PublicKey{}, fmt.Errorf("--%s is required", name)
	}
	key, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid --%s %q: %w", name, raw, err)
	}
	return key, nil
}

func portfolioCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Show all positions grouped by pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFromCmd(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := commandContext()
			defer stop()

			if offline, _ := cmd.Flags().GetBool("offline"); offline {
				rows, pools, err := app.loadSnapshot(ctx)
				if err != nil {
					return err
				}
				printSnapshots(rows, pools)
				return nil
			}

			defer app.log.TrackPerformance("portfolio")()

			raw, _ := cmd.Flags().GetBool("raw")
			load := app.aggregator.Load
			if raw {
				load = app.aggregator.LoadRaw
			}
			groups, err := load(ctx, app.wallet.PublicKey)
			if err != nil {
				return err
			}
			app.snapshotPortfolio(ctx, groups)
			printGroups(groups)
			return nil
		},
	}
	cmd.Flags().Bool("raw", false, "include zero-liquidity positions (claimable fees/rewards remain visible)")
	cmd.Flags().Bool("offline", false, "print the last stored snapshot without touching the network")
	return cmd
}

func printSnapshots(rows []*models.PositionSnapshot, pools map[string]*models.PoolInfo) {
	if len(rows) == 0 {
		fmt.Println("no stored snapshot")
		return
	}
	fmt.Printf("stored snapshot from %s\n", rows[0].FetchedAt.Format(time.RFC3339))
	for _, poolID := range snapshotPoolIDs(rows) {
		label := poolID
		if info, ok := pools[poolID]; ok {
			label = fmt.Sprintf("%s %s/%s", poolID, info.TokenASym, info.TokenBSym)
		}
		fmt.Printf("pool %s\n", label)
		for _, row := range rows {
			if row.PoolID != poolID {
				continue
			}
			fmt.Printf("  position %s ticks [%d, %d] liquidity %s value $%.2f\n",
				row.PositionID, row.TickLower, row.TickUpper, row.Liquidity, row.ValueUSD)
		}
	}
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the stored operation journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFromCmd(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := commandContext()
			defer stop()

			if app.store == nil {
				return fmt.Errorf("history requires postgres_url in the config")
			}
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")

			ops, err := app.store.ListOperations(ctx, app.wallet.PublicKey.String(), limit, offset)
			if err != nil {
				return err
			}
			if len(ops) == 0 {
				fmt.Println("no recorded operations")
				return nil
			}
			for _, op := range ops {
				fmt.Println(formatOperation(op))
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "max records to show")
	cmd.Flags().Int("offset", 0, "records to skip")
	return cmd
}

// formatOperation — одна строка журнала: исход, операция, позиция и либо
// подпись транзакции, либо текст ошибки.
func formatOperation(op *models.OperationRecord) string {
	outcome := "failed"
	switch {
	case op.Success && op.NoOp:
		outcome = "no-op"
	case op.Success && op.Fallback:
		outcome = "ok (fallback)"
	case op.Success:
		outcome = "ok"
	}
	line := fmt.Sprintf("%s  %-22s %-13s %s", op.CreatedAt.Format("2006-01-02 15:04:05"), op.Operation, outcome, op.PositionID)
	if op.Signature != "" {
		line += "  " + op.Signature
	}
	if op.ErrorMessage != "" {
		line += "  " + op.ErrorMessage
	}
	return line
}

func printGroups(groups []*types.PoolGroup) {
	if len(groups) == 0 {
		fmt.Println("no positions found")
		return
	}
	for _, g := range groups {
		fmt.Printf("pool %s (%s) %s/%s\n", g.PoolID, g.Protocol, g.TokenA.Symbol, g.TokenB.Symbol)
		fmt.Printf("  total liquidity: %s  value: $%.2f  unclaimed fees: $%.2f\n",
			g.TotalLiquidity, g.TotalValueUSD, g.TotalFeesUSD)
		for _, r := range g.Rewards {
			fmt.Printf("  reward %s: %s ($%.2f)\n", r.Token.Symbol, r.Owed, r.ValueUSD)
		}
		for _, p := range g.Positions {
			fmt.Printf("  position %s ticks [%d, %d] liquidity %s\n",
				p.ID, p.Range.Lower, p.Range.Upper, p.Liquidity)
		}
	}
}

func openCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a position with liquidity around the current price",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFromCmd(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := commandContext()
			defer stop()

			poolID, err := parsePubkeyFlag(cmd, "pool")
			if err != nil {
				return err
			}
			widthPct, _ := cmd.Flags().GetFloat64("width-pct")
			if widthPct <= 0 || widthPct >= 100 {
				return fmt.Errorf("--width-pct must be in (0, 100): %g", widthPct)
			}
			amount, _ := cmd.Flags().GetFloat64("amount")
			if amount <= 0 {
				return fmt.Errorf("--amount must be positive: %g", amount)
			}
			fixedSide, _ := cmd.Flags().GetString("fixed")
			fixed := liquidity.FixedSide(fixedSide)
			switch fixed {
			case liquidity.FixedSideA, liquidity.FixedSideB, liquidity.FixedSideAuto:
			default:
				return fmt.Errorf("--fixed must be a, b or auto: %s", fixedSide)
			}

			adapter := app.router.SelectAdapter(poolID.String())
			pool, err := adapter.GetPool(ctx, poolID)
			if err != nil {
				return err
			}
			app.cachePoolInfo(ctx, pool)

			price, err := tickmath.SqrtPriceX64ToPrice(pool.SqrtPriceX64, pool.TokenA.Decimals, pool.TokenB.Decimals)
			if err != nil {
				return err
			}
			rng, err := tickmath.RangeAroundPrice(price, widthPct/100, pool.TokenA.Decimals, pool.TokenB.Decimals, pool.TickSpacing)
			if err != nil {
				return err
			}

			availA, availB, err := app.availableBalances(ctx, pool)
			if err != nil {
				return err
			}

			req := liquidity.Request{
				Pool:       pool,
				Range:      rng,
				Fixed:      fixed,
				Slippage:   app.slippage(),
				AvailableA: availA,
				AvailableB: availB,
			}
			switch fixed {
			case liquidity.FixedSideB:
				req.AmountB = types.ToBaseUnits(amount, pool.TokenB.Decimals)
			default:
				req.AmountA = types.ToBaseUnits(amount, pool.TokenA.Decimals)
			}

			balanced, err := app.balancer.BalanceAmounts(req)
			if err != nil {
				return err
			}

			res, err := adapter.OpenPositionWithLiquidity(ctx, pool, rng, dex.OpenRequest{
				AmountA:    balanced.AmountA,
				AmountB:    balanced.AmountB,
				MinAmountA: balanced.MinAmountA,
				MinAmountB: balanced.MinAmountB,
				Liquidity:  balanced.Liquidity,
			})
			positionID := ""
			if res != nil {
				positionID = res.PositionID.String()
			}
			app.recordOperation(ctx, dex.OperationOpenWithLiquidity, adapter.Protocol(), poolID.String(), positionID, res, err)
			if err != nil {
				return err
			}

			fmt.Printf("opened position %s in ticks [%d, %d]\n", res.PositionID, rng.Lower, rng.Upper)
			printResult(res)
			return nil
		},
	}
	cmd.Flags().String("pool", "", "pool address")
	cmd.Flags().Float64("width-pct", 10, "range width around current price, percent")
	cmd.Flags().Float64("amount", 0, "fixed-side amount (human units)")
	cmd.Flags().String("fixed", "auto", "fixed side: a, b or auto")
	return cmd
}

func addCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add liquidity to an existing position",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFromCmd(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := commandContext()
			defer stop()

			positionID, err := parsePubkeyFlag(cmd, "position")
			if err != nil {
				return err
			}
			amount, _ := cmd.Flags().GetFloat64("amount")
			if amount <= 0 {
				return fmt.Errorf("--amount must be positive: %g", amount)
			}

			adapter, pos, err := app.resolvePosition(ctx, positionID)
			if err != nil {
				return err
			}
			pool, err := adapter.GetPool(ctx, pos.PoolID)
			if err != nil {
				return err
			}
			app.cachePoolInfo(ctx, pool)

			availA, availB, err := app.availableBalances(ctx, pool)
			if err != nil {
				return err
			}
			balanced, err := app.balancer.BalanceAmounts(liquidity.Request{
				Pool:       pool,
				Range:      pos.Range,
				AmountA:    types.ToBaseUnits(amount, pool.TokenA.Decimals),
				Fixed:      liquidity.FixedSideAuto,
				Slippage:   app.slippage(),
				AvailableA: availA,
				AvailableB: availB,
			})
			if err != nil {
				return err
			}

			res, err := adapter.AddLiquidity(ctx, pos, dex.OpenRequest{
				AmountA:    balanced.AmountA,
				AmountB:    balanced.AmountB,
				MinAmountA: balanced.MinAmountA,
				MinAmountB: balanced.MinAmountB,
				Liquidity:  balanced.Liquidity,
			})
			app.recordOperation(ctx, dex.OperationAddLiquidity, adapter.Protocol(), pos.PoolID.String(), positionID.String(), res, err)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
	cmd.Flags().String("position", "", "position address")
	cmd.Flags().Float64("amount", 0, "token A amount to add (human units)")
	return cmd
}

func removeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a percentage of a position's liquidity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFromCmd(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := commandContext()
			defer stop()

			positionID, err := parsePubkeyFlag(cmd, "position")
			if err != nil {
				return err
			}
			percent, _ := cmd.Flags().GetUint8("percent")
			if percent == 0 || percent > 100 {
				return fmt.Errorf("--percent must be in (0, 100]: %d", percent)
			}

			adapter, pos, err := app.resolvePosition(ctx, positionID)
			if err != nil {
				return err
			}
			res, err := adapter.RemoveLiquidity(ctx, pos, percent, app.slippage())
			app.recordOperation(ctx, dex.OperationRemoveLiquidity, adapter.Protocol(), pos.PoolID.String(), positionID.String(), res, err)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
	cmd.Flags().String("position", "", "position address")
	cmd.Flags().Uint8("percent", 100, "share of liquidity to remove")
	return cmd
}

func collectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect accrued fees and rewards",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFromCmd(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := commandContext()
			defer stop()

			positionID, err := parsePubkeyFlag(cmd, "position")
			if err != nil {
				return err
			}
			feesOnly, _ := cmd.Flags().GetBool("fees-only")
			rewardsOnly, _ := cmd.Flags().GetBool("rewards-only")
			if feesOnly && rewardsOnly {
				return fmt.Errorf("--fees-only and --rewards-only are mutually exclusive")
			}

			adapter, pos, err := app.resolvePosition(ctx, positionID)
			if err != nil {
				return err
			}

			var (
				res *dex.ExecResult
				op  dex.OperationType
			)
			switch {
			case feesOnly:
				op = dex.OperationCollectFees
				res, err = adapter.CollectFees(ctx, pos)
			case rewardsOnly:
				op = dex.OperationCollectRewards
				res, err = adapter.CollectRewards(ctx, pos)
			default:
				op = dex.OperationCollectAll
				res, err = adapter.CollectFeesAndRewards(ctx, pos)
			}
			app.recordOperation(ctx, op, adapter.Protocol(), pos.PoolID.String(), positionID.String(), res, err)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
	cmd.Flags().String("position", "", "position address")
	cmd.Flags().Bool("fees-only", false, "collect only trading fees")
	cmd.Flags().Bool("rewards-only", false, "collect only emission rewards")
	return cmd
}

func closeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Close a position, removing remaining liquidity first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := appFromCmd(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, stop := commandContext()
			defer stop()

			positionID, err := parsePubkeyFlag(cmd, "position")
			if err != nil {
				return err
			}
			skipCollect, _ := cmd.Flags().GetBool("skip-collect")

			adapter, pos, err := app.resolvePosition(ctx, positionID)
			if err != nil {
				// Закрытие несуществующей позиции — не ошибка намерения.
				if errors.Is(err, dex.ErrPositionNotFound) {
					fmt.Printf("position %s not found, nothing to close\n", positionID)
					return nil
				}
				return err
			}

			res, err := adapter.ClosePosition(ctx, pos, dex.CloseOptions{
				CollectFirst:         !skipCollect,
				TolerateClaimFailure: true,
				Slippage:             app.slippage(),
			})
			app.recordOperation(ctx, dex.OperationClose, adapter.Protocol(), pos.PoolID.String(), positionID.String(), res, err)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		},
	}
	cmd.Flags().String("position", "", "position address")
	cmd.Flags().Bool("skip-collect", false, "do not collect fees/rewards before closing")
	return cmd
}

func printResult(res *dex.ExecResult) {
	switch {
	case res.NoOp && res.Success:
		fmt.Println("nothing to do (idempotent success)")
	case res.NoOp:
		fmt.Println("nothing to do (no-op)")
	case res.Fallback:
		fmt.Printf("settled via fallback path, final signature %s\n", res.Digest)
	default:
		fmt.Printf("settled, signature %s\n", res.Digest)
	}
	for _, step := range res.Steps {
		if step.Err != "" {
			fmt.Printf("  step %-24s error: %s\n", step.Label, step.Err)
			continue
		}
		fmt.Printf("  step %-24s %s\n", step.Label, step.Signature)
	}
}
