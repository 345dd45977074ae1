package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/moznion/go-optional"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/quantforge/backsim/internal/backtest"
	"github.com/quantforge/backsim/internal/backtest/journal"
	"github.com/quantforge/backsim/internal/datasource"
	"github.com/quantforge/backsim/internal/logger"
	"github.com/quantforge/backsim/internal/optimizer"
	"github.com/quantforge/backsim/internal/types"
)

func main() {
	cmd := &cli.Command{
		Name:  "backsim",
		Usage: "Deterministic strategy backtesting and parameter optimization",
		Commands: []*cli.Command{
			backtestCommand(),
			optimizeCommand(),
			schemaCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func backtestCommand() *cli.Command {
	return &cli.Command{
		Name:  "backtest",
		Usage: "Run one strategy over a historical bar file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "strategy",
				Aliases:  []string{"s"},
				Usage:    "Strategy definition YAML file",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "data",
				Aliases:  []string{"d"},
				Usage:    "Historical bars as CSV or Parquet",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Backtest config YAML file; defaults apply when omitted",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the full result as YAML to this path",
			},
			&cli.StringFlag{
				Name:  "journal",
				Usage: "DuckDB file recording every fill; in-memory when omitted",
			},
			&cli.StringFlag{
				Name:  "export-trades",
				Usage: "Export journaled trades to this Parquet file",
			},
		},
		Action: backtestAction,
	}
}

func backtestAction(ctx context.Context, cmd *cli.Command) error {
	log, err := logger.NewLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	config, err := resolveConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	strategy, err := loadStrategy(cmd.String("strategy"))
	if err != nil {
		return err
	}

	bars, err := loadBars(cmd.String("data"), strategy.Symbol, config, log)
	if err != nil {
		return err
	}

	engine, err := backtest.NewEngine(config, log)
	if err != nil {
		return err
	}

	var tradeJournal *journal.Journal
	if path := cmd.String("journal"); path != "" || cmd.String("export-trades") != "" {
		tradeJournal, err = journal.NewJournal(path, log)
		if err != nil {
			return err
		}
		defer tradeJournal.Close()

		engine.SetTradeSink(tradeJournal)
	}

	result, err := engine.RunBacktest(strategy, bars)
	if err != nil {
		return err
	}

	if tradeJournal != nil {
		if path := cmd.String("export-trades"); path != "" {
			if err := tradeJournal.ExportParquet(path); err != nil {
				return err
			}
		}
	}

	if path := cmd.String("output"); path != "" {
		if err := types.WriteBacktestResult(path, *result); err != nil {
			return err
		}
	}

	printSummary(result)

	return nil
}

func optimizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "optimize",
		Usage: "Search strategy parameters with a genetic algorithm",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "strategy",
				Aliases:  []string{"s"},
				Usage:    "Strategy definition YAML file",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "data",
				Aliases:  []string{"d"},
				Usage:    "Historical bars as CSV or Parquet",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "optimization",
				Aliases:  []string{"p"},
				Usage:    "Optimization config YAML file (parameter ranges, metric, seed)",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Backtest config YAML file; defaults apply when omitted",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write ranked candidates as YAML to this path",
			},
			&cli.IntFlag{
				Name:  "top",
				Usage: "How many candidates to print",
				Value: 5,
			},
		},
		Action: optimizeAction,
	}
}

func optimizeAction(ctx context.Context, cmd *cli.Command) error {
	log, err := logger.NewLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	config, err := resolveConfig(cmd.String("config"))
	if err != nil {
		return err
	}

	strategy, err := loadStrategy(cmd.String("strategy"))
	if err != nil {
		return err
	}

	optConfig, err := loadOptimizationConfig(cmd.String("optimization"))
	if err != nil {
		return err
	}

	bars, err := loadBars(cmd.String("data"), strategy.Symbol, config, log)
	if err != nil {
		return err
	}

	search, err := optimizer.New(config, optConfig, log)
	if err != nil {
		return err
	}

	bar := progressbar.Default(int64(optConfig.EffectiveGenerations()), "optimizing")
	search.OnGeneration = func(generation int, best types.OptimizationResult) {
		bar.Describe(fmt.Sprintf("gen %d best %.4f", generation, best.Fitness))
		bar.Add(1)
	}

	results, err := search.Optimize(ctx, strategy, bars)
	if err != nil {
		return err
	}

	bar.Finish()

	if path := cmd.String("output"); path != "" {
		data, err := yaml.Marshal(results)
		if err != nil {
			return err
		}

		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
	}

	top := int(cmd.Int("top"))
	if top > len(results) {
		top = len(results)
	}

	for i := 0; i < top; i++ {
		fmt.Printf("#%d %s=%.4f params=%v\n", i+1, results[i].Metric, results[i].Fitness, results[i].Parameters)
	}

	return nil
}

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Print the JSON schema of the backtest config",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			config := backtest.DefaultConfig()

			schema, err := config.GenerateSchemaJSON()
			if err != nil {
				return err
			}

			fmt.Println(schema)

			return nil
		},
	}
}

func resolveConfig(path string) (backtest.Config, error) {
	if path == "" {
		return backtest.DefaultConfig(), nil
	}

	return backtest.LoadConfig(path)
}

func loadStrategy(path string) (*types.StrategyDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy %s: %w", path, err)
	}

	var strategy types.StrategyDefinition
	if err := yaml.Unmarshal(data, &strategy); err != nil {
		return nil, fmt.Errorf("failed to parse strategy %s: %w", path, err)
	}

	if err := strategy.Validate(); err != nil {
		return nil, err
	}

	return &strategy, nil
}

func loadOptimizationConfig(path string) (types.OptimizationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.OptimizationConfig{}, fmt.Errorf("failed to read optimization config %s: %w", path, err)
	}

	var config types.OptimizationConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return types.OptimizationConfig{}, fmt.Errorf("failed to parse optimization config %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return types.OptimizationConfig{}, err
	}

	return config, nil
}

func loadBars(path, symbol string, config backtest.Config, log *logger.Logger) ([]types.Bar, error) {
	source, err := datasource.NewDataSource("", log)
	if err != nil {
		return nil, err
	}
	defer source.Close()

	if err := source.Initialize(path); err != nil {
		return nil, err
	}

	start := optional.None[time.Time]()
	if t, err := config.StartTime.Take(); err == nil {
		start = optional.Some(t)
	}

	end := optional.None[time.Time]()
	if t, err := config.EndTime.Take(); err == nil {
		end = optional.Some(t)
	}

	return source.LoadBars(symbol, start, end)
}

func printSummary(result *types.BacktestResult) {
	fmt.Printf("strategy:          %s (%s %s)\n", result.StrategyName, result.Symbol, result.Timeframe)
	fmt.Printf("period:            %s to %s\n",
		result.StartTime.Format("2006-01-02"), result.EndTime.Format("2006-01-02"))
	fmt.Printf("balance:           %.2f -> %.2f\n", result.InitialBalance, result.FinalBalance)
	fmt.Printf("total return:      %.2f%% (annualized %.2f%%)\n", result.TotalReturn, result.AnnualizedReturn)
	fmt.Printf("round trips:       %d (win rate %.1f%%)\n", result.TotalTrades, result.WinRate)
	fmt.Printf("profit factor:     %.2f\n", result.ProfitFactor)
	fmt.Printf("sharpe ratio:      %.2f\n", result.SharpeRatio)
	fmt.Printf("max drawdown:      %.2f%%\n", result.MaxDrawdown)
	fmt.Printf("total fees:        %.2f\n", result.TotalFees)
}
