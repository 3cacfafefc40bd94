package bhtsne

const (
	gainIncrement = 0.2
	gainDecay     = 0.8
	minGain       = 0.01
)

// ApplyUpdate performs one momentum gradient step with adaptive gains on
// every coordinate, in place:
//
//	gains[i] = gains[i] + 0.2  if sign(dC[i]) != sign(uY[i])
//	         = gains[i] * 0.8  otherwise, floored at 0.01
//	Y[i]    += uY[i]                          (previous velocity)
//	uY[i]    = momentum*uY[i] - eta*gains[i]*dC[i]
//
// Elements are independent, so the array is split into ranges processed
// concurrently on pool (nil means sequential).
func ApplyUpdate(Y, uY, gains, dC []float64, momentum, eta float64, pool *Pool) error {
	n := len(Y)
	if err := checkLen("velocity", uY, n); err != nil {
		return err
	}
	if err := checkLen("gains", gains, n); err != nil {
		return err
	}
	if err := checkLen("gradient", dC, n); err != nil {
		return err
	}
	if pool == nil {
		pool = NewPool(1)
	}
	return pool.Range(0, n, pool.Grain(n), func(lo, hi int) error {
		updateRange(Y[lo:hi], uY[lo:hi], gains[lo:hi], dC[lo:hi], momentum, eta)
		return nil
	})
}

func updateRange(Y, uY, gains, dC []float64, momentum, eta float64) {
	for i := range Y {
		if sign(dC[i]) != sign(uY[i]) {
			gains[i] += gainIncrement
		} else {
			gains[i] *= gainDecay
		}
		if gains[i] < minGain {
			gains[i] = minGain
		}

		Y[i] += uY[i]
		uY[i] = momentum*uY[i] - eta*gains[i]*dC[i]
	}
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
