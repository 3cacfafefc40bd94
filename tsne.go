package bhtsne

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
)

// Init selects how the embedding is initialized.
type Init string

const (
	InitRandom Init = "random"
	InitPCA    Init = "pca"
)

// Config controls an embedding run.
// Start with [DefaultConfig] and override the fields you need.
type Config struct {
	// OutputDims is the dimensionality of the embedding. The Barnes-Hut tree
	// has 2^OutputDims children per cell, so this should be 2 or 3.
	// Must be in [1, 8]. Default: 2.
	OutputDims int

	// Perplexity is the effective number of neighbors each point's input
	// similarities are calibrated to. Must be > 0. Default: 30.
	Perplexity float64

	// Neighbors is the number K of nearest neighbors kept per point in the
	// sparse similarity matrix. 0 means floor(3*Perplexity). Must satisfy
	// K < number of points.
	Neighbors int

	// Theta is the Barnes-Hut accuracy threshold. 0 computes exact
	// repulsive forces; larger values are faster and coarser.
	// Must be >= 0. Default: 0.5.
	Theta float64

	// MaxIter is the number of gradient descent iterations. Default: 1000.
	MaxIter int

	// StopLyingIter is the iteration after which early exaggeration is
	// removed. Default: 250.
	StopLyingIter int

	// MomentumSwitchIter is the iteration after which FinalMomentum
	// replaces Momentum. Default: 250.
	MomentumSwitchIter int

	// Momentum and FinalMomentum must be in [0, 1). Defaults: 0.5, 0.8.
	Momentum      float64
	FinalMomentum float64

	// LearningRate (eta) scales every step. Must be > 0. Default: 200.
	LearningRate float64

	// Exaggeration multiplies P during the first StopLyingIter iterations.
	// Must be > 0. Default: 12.
	Exaggeration float64

	// CostInterval is how often (in iterations) the KL divergence is
	// evaluated and logged. 0 disables cost evaluation. Default: 50.
	CostInterval int

	// Seed drives the random initialization and nothing else. Default: 42.
	Seed uint64

	// Init selects the initial embedding. Default: InitRandom.
	Init Init

	// Metric is the input-space distance. It must be a true metric.
	// Default: EuclideanMetric.
	Metric DistanceMetric

	// Workers is the worker pool size. 0 means runtime.GOMAXPROCS(0);
	// 1 runs every phase sequentially.
	Workers int

	// VPTreeGrain is the subtree size below which VP-tree construction
	// runs sequentially. 0 means DefaultVPTreeGrain.
	VPTreeGrain int

	// Logger receives progress output. nil disables logging.
	Logger *Logger
}

// CostSample is the KL divergence observed at one iteration.
type CostSample struct {
	Iter int
	Cost float64
}

// Result contains the output of an embedding run.
type Result struct {
	// Embedding holds one OutputDims-dimensional row per input point.
	Embedding [][]float64

	// Costs holds the KL divergence at every CostInterval-th iteration and
	// at the last iteration.
	Costs []CostSample

	// Neighbors is the K actually used for the similarity matrix.
	Neighbors int

	// Unconverged counts points whose perplexity search hit its iteration
	// cap. Their similarities are approximate.
	Unconverged int
}

// DefaultConfig returns a Config with the usual t-SNE settings.
func DefaultConfig() Config {
	return Config{
		OutputDims:         2,
		Perplexity:         30,
		Theta:              0.5,
		MaxIter:            1000,
		StopLyingIter:      250,
		MomentumSwitchIter: 250,
		Momentum:           0.5,
		FinalMomentum:      0.8,
		LearningRate:       200,
		Exaggeration:       12,
		CostInterval:       50,
		Seed:               42,
		Init:               InitRandom,
		Metric:             EuclideanMetric{},
	}
}

// applyDefaults fills in the fields whose zero value means "automatic".
func applyDefaults(cfg *Config) {
	if cfg.Neighbors == 0 {
		cfg.Neighbors = int(3 * cfg.Perplexity)
	}
	if cfg.Init == "" {
		cfg.Init = InitRandom
	}
	if cfg.Metric == nil {
		cfg.Metric = EuclideanMetric{}
	}
	if cfg.VPTreeGrain == 0 {
		cfg.VPTreeGrain = DefaultVPTreeGrain
	}
	if cfg.Logger == nil {
		cfg.Logger = NoopLogger()
	}
}

// validateConfig checks that cfg fields are valid and returns a descriptive error if not.
func validateConfig(cfg *Config) error {
	if cfg.OutputDims < 1 || cfg.OutputDims > 8 {
		return fmt.Errorf("%w: OutputDims must be in [1, 8], got %d", ErrInvalidConfig, cfg.OutputDims)
	}
	if !(cfg.Perplexity > 0) || math.IsInf(cfg.Perplexity, 0) {
		return fmt.Errorf("%w: got %v", ErrInvalidPerplexity, cfg.Perplexity)
	}
	if cfg.Neighbors < 1 {
		return fmt.Errorf("%w: Neighbors must be >= 1, got %d", ErrInvalidNeighbors, cfg.Neighbors)
	}
	if cfg.Theta < 0 || math.IsNaN(cfg.Theta) {
		return fmt.Errorf("%w: got %v", ErrInvalidTheta, cfg.Theta)
	}
	if cfg.MaxIter < 0 {
		return fmt.Errorf("%w: MaxIter must be >= 0, got %d", ErrInvalidConfig, cfg.MaxIter)
	}
	if cfg.Momentum < 0 || cfg.Momentum >= 1 {
		return fmt.Errorf("%w: Momentum must be in [0, 1), got %v", ErrInvalidConfig, cfg.Momentum)
	}
	if cfg.FinalMomentum < 0 || cfg.FinalMomentum >= 1 {
		return fmt.Errorf("%w: FinalMomentum must be in [0, 1), got %v", ErrInvalidConfig, cfg.FinalMomentum)
	}
	if !(cfg.LearningRate > 0) {
		return fmt.Errorf("%w: LearningRate must be > 0, got %v", ErrInvalidConfig, cfg.LearningRate)
	}
	if !(cfg.Exaggeration > 0) {
		return fmt.Errorf("%w: Exaggeration must be > 0, got %v", ErrInvalidConfig, cfg.Exaggeration)
	}
	if cfg.CostInterval < 0 {
		return fmt.Errorf("%w: CostInterval must be >= 0, got %d", ErrInvalidConfig, cfg.CostInterval)
	}
	if cfg.Workers < 0 {
		return fmt.Errorf("%w: Workers must be >= 0, got %d", ErrInvalidConfig, cfg.Workers)
	}
	switch cfg.Init {
	case InitRandom, InitPCA:
	default:
		return fmt.Errorf("%w: unknown Init %q", ErrInvalidConfig, cfg.Init)
	}
	return nil
}

// Embed computes a cfg.OutputDims-dimensional t-SNE embedding of data.
// Each element of data is a point; all points must have the same
// dimensionality.
func Embed(data [][]float64, cfg Config) (*Result, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	n := len(data)
	if n == 0 {
		return nil, ErrEmptyInput
	}
	if cfg.Neighbors >= n {
		return nil, fmt.Errorf("%w: K=%d needs more than %d points (lower Perplexity or Neighbors)", ErrInvalidNeighbors, cfg.Neighbors, n)
	}

	dims := len(data[0])
	if dims == 0 {
		return nil, &DimensionMismatchError{What: "point 0", Expected: 1, Actual: 0}
	}
	X := make([]float64, n*dims)
	for i, row := range data {
		if len(row) != dims {
			return nil, &DimensionMismatchError{What: fmt.Sprintf("point %d", i), Expected: dims, Actual: len(row)}
		}
		copy(X[i*dims:], row)
	}

	ctx := context.Background()
	log := cfg.Logger
	pool := NewPool(cfg.Workers)
	outDims := cfg.OutputDims

	if cfg.Perplexity > float64(cfg.Neighbors) {
		log.WarnContext(ctx, "perplexity exceeds neighbor count", "perplexity", cfg.Perplexity, "k", cfg.Neighbors)
	}

	// Center the input and scale it into [-1, 1].
	centerColumns(X, n, dims)
	if maxAbs := math.Max(floats.Max(X), -floats.Min(X)); maxAbs > 0 {
		floats.Scale(1/maxAbs, X)
	}

	start := time.Now()
	P, cal, err := computeGaussianPerplexity(NewPoints(X, n, dims), cfg.Metric, cfg.Perplexity, cfg.Neighbors, pool, cfg.VPTreeGrain)
	log.LogPhase(ctx, "similarities", start, err)
	if err != nil {
		return nil, err
	}
	log.LogCalibration(ctx, n, cfg.Neighbors, cfg.Perplexity, cal.Unconverged)

	P = P.Symmetrize()
	P.Scale(cfg.Exaggeration)

	start = time.Now()
	Y, err := initEmbedding(cfg.Init, X, n, dims, outDims, cfg.Seed)
	log.LogPhase(ctx, "init", start, err)
	if err != nil {
		return nil, err
	}

	res := &Result{Neighbors: cfg.Neighbors, Unconverged: cal.Unconverged}
	engine := NewGradientEngine(pool)
	uY := make([]float64, n*outDims)
	gains := make([]float64, n*outDims)
	for i := range gains {
		gains[i] = 1
	}
	dC := make([]float64, n*outDims)
	momentum := cfg.Momentum

	start = time.Now()
	for iter := 0; iter < cfg.MaxIter; iter++ {
		if err := engine.Gradient(P, Y, outDims, cfg.Theta, dC); err != nil {
			return nil, fmt.Errorf("bhtsne: iteration %d: gradient: %w", iter, err)
		}
		if err := ApplyUpdate(Y, uY, gains, dC, momentum, cfg.LearningRate, pool); err != nil {
			return nil, fmt.Errorf("bhtsne: iteration %d: update: %w", iter, err)
		}
		centerColumns(Y, n, outDims)

		if iter == cfg.StopLyingIter {
			P.Scale(1 / cfg.Exaggeration)
		}
		if iter == cfg.MomentumSwitchIter {
			momentum = cfg.FinalMomentum
		}

		if cfg.CostInterval > 0 && (iter > 0 && iter%cfg.CostInterval == 0 || iter == cfg.MaxIter-1) {
			c, err := engine.Cost(P, Y, outDims, cfg.Theta)
			if err != nil {
				return nil, fmt.Errorf("bhtsne: iteration %d: cost: %w", iter, err)
			}
			res.Costs = append(res.Costs, CostSample{Iter: iter, Cost: c})
			log.LogProgress(ctx, iter, c, time.Since(start))
		}
	}

	res.Embedding = make([][]float64, n)
	for i := range res.Embedding {
		res.Embedding[i] = Y[i*outDims : (i+1)*outDims : (i+1)*outDims]
	}
	return res, nil
}
