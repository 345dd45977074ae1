// Package optimizer searches a strategy's parameter space with a genetic
// algorithm. Candidates are drawn from the configured grids, scored by a
// full backtest, and evolved by truncation selection, uniform crossover
// and per-parameter mutation. All randomness flows from one seeded source,
// so a fixed seed reproduces the search exactly.
package optimizer

import (
	"context"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantforge/backsim/internal/backtest"
	"github.com/quantforge/backsim/internal/logger"
	"github.com/quantforge/backsim/internal/types"
	"github.com/quantforge/backsim/pkg/errors"
)

const mutationRate = 0.1

// individual is one candidate with its evaluated fitness.
type individual struct {
	params  types.ParameterSet
	fitness float64
	summary *types.BacktestResult
}

// Optimizer drives the genetic search for one engine config.
type Optimizer struct {
	engineConfig backtest.Config
	config       types.OptimizationConfig
	logger       *logger.Logger

	// OnGeneration, when set, is called after each generation with the
	// 1-based generation number and the best candidate so far.
	OnGeneration func(generation int, best types.OptimizationResult)
}

// OptimizeStrategy is the convenience entry point: default engine settings
// and no progress reporting.
func OptimizeStrategy(ctx context.Context, strategy *types.StrategyDefinition, bars []types.Bar, config types.OptimizationConfig) ([]types.OptimizationResult, error) {
	optimizer, err := New(backtest.DefaultConfig(), config, nil)
	if err != nil {
		return nil, err
	}

	return optimizer.Optimize(ctx, strategy, bars)
}

// New validates both configs and returns an optimizer.
func New(engineConfig backtest.Config, config types.OptimizationConfig, log *logger.Logger) (*Optimizer, error) {
	if err := engineConfig.Validate(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Optimizer{
		engineConfig: engineConfig,
		config:       config,
		logger:       log,
	}, nil
}

// Optimize evolves the population and returns every distinct evaluated
// candidate of the final generation ordered best first. Cancelling the
// context stops the search between evaluations.
func (o *Optimizer) Optimize(ctx context.Context, strategy *types.StrategyDefinition, bars []types.Bar) ([]types.OptimizationResult, error) {
	if err := strategy.Validate(); err != nil {
		return nil, err
	}

	if err := types.ValidateBars(bars); err != nil {
		return nil, err
	}

	seed := o.config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	populationSize := o.config.EffectivePopulationSize()
	generations := o.config.EffectiveGenerations()

	o.logger.Info("starting genetic optimization",
		zap.String("strategy", strategy.Name),
		zap.String("metric", string(o.config.Metric)),
		zap.Int("population", populationSize),
		zap.Int("generations", generations),
		zap.Int64("seed", seed))

	population := make([]*individual, populationSize)
	for i := range population {
		population[i] = &individual{params: o.randomParams(rng)}
	}

	var best *individual

	for generation := 0; generation < generations; generation++ {
		if err := o.evaluate(ctx, strategy, bars, population); err != nil {
			return nil, err
		}

		sortByFitness(population)

		if best == nil || population[0].fitness > best.fitness {
			best = population[0]
		}

		o.logger.Debug("generation evaluated",
			zap.Int("generation", generation+1),
			zap.Float64("best_fitness", population[0].fitness),
			zap.Float64("worst_fitness", population[len(population)-1].fitness))

		if o.OnGeneration != nil {
			o.OnGeneration(generation+1, o.toResult(best))
		}

		if generation < generations-1 {
			population = o.nextGeneration(population, rng)
		}
	}

	results := make([]types.OptimizationResult, 0, len(population))
	seen := map[string]bool{}

	for _, candidate := range population {
		key := paramsKey(candidate.params)
		if seen[key] || candidate.summary == nil {
			continue
		}

		seen[key] = true
		results = append(results, o.toResult(candidate))
	}

	o.logger.Info("optimization completed",
		zap.Float64("best_fitness", best.fitness),
		zap.Int("candidates", len(results)))

	return results, nil
}

// evaluate scores every unevaluated candidate concurrently. Evaluation is
// pure, so worker count affects wall time only, never the outcome.
func (o *Optimizer) evaluate(ctx context.Context, strategy *types.StrategyDefinition, bars []types.Bar, population []*individual) error {
	workers := o.config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var wg sync.WaitGroup
	slots := make(chan struct{}, workers)

	for _, candidate := range population {
		if candidate.summary != nil {
			continue
		}

		if err := ctx.Err(); err != nil {
			break
		}

		wg.Add(1)
		slots <- struct{}{}

		go func(candidate *individual) {
			defer wg.Done()
			defer func() { <-slots }()

			o.evaluateOne(strategy, bars, candidate)
		}(candidate)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.ErrCodeOptimizationCancelled, "optimization cancelled", err)
	}

	return nil
}

// evaluateOne runs the candidate's backtest. Candidates whose parameters
// produce an invalid strategy, or whose run fails, score negative infinity
// and fall to the bottom of the ranking instead of aborting the search.
func (o *Optimizer) evaluateOne(strategy *types.StrategyDefinition, bars []types.Bar, candidate *individual) {
	candidate.fitness = math.Inf(-1)
	candidate.summary = &types.BacktestResult{}

	applied, err := ApplyParameters(strategy, candidate.params)
	if err != nil {
		return
	}

	runner, err := backtest.NewRunner(applied, o.engineConfig, logger.NewNopLogger())
	if err != nil {
		return
	}

	result, err := runner.Run(bars)
	if err != nil {
		return
	}

	fitness, err := o.config.Metric.Extract(result)
	if err != nil || math.IsNaN(fitness) {
		return
	}

	candidate.fitness = fitness
	candidate.summary = result
}

func (o *Optimizer) randomParams(rng *rand.Rand) types.ParameterSet {
	params := make(types.ParameterSet, len(o.config.Parameters))

	for _, parameter := range o.config.Parameters {
		params[parameter.Name] = parameter.Value(rng.Intn(parameter.Steps() + 1))
	}

	return params
}

// nextGeneration keeps the top half and refills the rest with mutated
// crossovers of surviving parents.
func (o *Optimizer) nextGeneration(population []*individual, rng *rand.Rand) []*individual {
	eliteCount := len(population) / 2
	if eliteCount < 1 {
		eliteCount = 1
	}

	next := make([]*individual, 0, len(population))
	next = append(next, population[:eliteCount]...)

	for len(next) < len(population) {
		mother := population[rng.Intn(eliteCount)]
		father := population[rng.Intn(eliteCount)]

		child := &individual{params: o.mutate(o.crossover(mother.params, father.params, rng), rng)}
		next = append(next, child)
	}

	return next
}

// crossover takes each parameter from either parent with equal probability.
func (o *Optimizer) crossover(mother, father types.ParameterSet, rng *rand.Rand) types.ParameterSet {
	child := make(types.ParameterSet, len(o.config.Parameters))

	for _, parameter := range o.config.Parameters {
		if rng.Float64() < 0.5 {
			child[parameter.Name] = mother[parameter.Name]
		} else {
			child[parameter.Name] = father[parameter.Name]
		}
	}

	return child
}

// mutate redraws each parameter from its grid with the mutation rate.
func (o *Optimizer) mutate(params types.ParameterSet, rng *rand.Rand) types.ParameterSet {
	for _, parameter := range o.config.Parameters {
		if rng.Float64() < mutationRate {
			params[parameter.Name] = parameter.Value(rng.Intn(parameter.Steps() + 1))
		}
	}

	return params
}

func (o *Optimizer) toResult(candidate *individual) types.OptimizationResult {
	return types.OptimizationResult{
		Parameters: candidate.params.Clone(),
		Metric:     o.config.Metric,
		Fitness:    candidate.fitness,
		Summary:    *candidate.summary,
	}
}

// sortByFitness orders best first with a deterministic tie-break on the
// parameter values.
func sortByFitness(population []*individual) {
	sort.SliceStable(population, func(i, j int) bool {
		if population[i].fitness != population[j].fitness {
			return population[i].fitness > population[j].fitness
		}

		return paramsKey(population[i].params) < paramsKey(population[j].params)
	})
}

func paramsKey(params types.ParameterSet) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	key := ""
	for _, name := range names {
		key += name + "=" + strconv.FormatFloat(params[name], 'g', -1, 64) + ";"
	}

	return key
}
