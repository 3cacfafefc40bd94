// Package bhtsne implements Barnes-Hut t-distributed stochastic neighbor
// embedding (t-SNE) for mapping high-dimensional points to two or three
// dimensions.
//
// Input similarities are computed once: a vantage-point tree finds each
// point's K nearest neighbors and a per-point binary search calibrates a
// Gaussian kernel over them to the requested perplexity, producing a
// sparse matrix P. Every optimization iteration then rebuilds a
// space-partitioning tree over the current embedding, combines exact
// attractive forces along the entries of P with Barnes-Hut approximated
// repulsive forces, and applies a momentum step with adaptive gains.
//
// Basic usage:
//
//	cfg := bhtsne.DefaultConfig()
//	cfg.Perplexity = 20
//	result, err := bhtsne.Embed(data, cfg)
//	// result.Embedding[i] is the 2-D position of data[i]
//
// The building blocks are exported for callers that drive the optimization
// themselves:
//
//	pool := bhtsne.NewPool(0)
//	P, err := bhtsne.BuildSimilarityMatrix(points, nil, perplexity, k, pool)
//	engine := bhtsne.NewGradientEngine(pool)
//	err = engine.Gradient(P, Y, 2, theta, dC)
//	err = bhtsne.ApplyUpdate(Y, uY, gains, dC, momentum, eta, pool)
//
// # Concurrency
//
// Every parallel phase (tree construction, neighbor search, calibration,
// force computation, the update step) is a fork-join over disjoint index
// ranges on a [Pool]. Each task writes only its own rows, and reductions
// run in index order after the join, so results are bit-identical for any
// number of workers.
package bhtsne
