package bayesian

import "math"

// Regularized incomplete beta function and its inverse, used for Beta
// posterior credible intervals. The continued-fraction evaluation follows
// the standard Lentz method.

func betaIncomplete(a, b, x float64) float64 {
	if x <= 0 {
		return 0
	}
	if x >= 1 {
		return 1
	}
	ln := lgamma(a+b) - lgamma(a) - lgamma(b) + a*math.Log(x) + b*math.Log(1-x)
	front := math.Exp(ln)
	if x < (a+1)/(a+b+2) {
		return front * betacf(a, b, x) / a
	}
	return 1 - front*betacf(b, a, 1-x)/b
}

func betacf(a, b, x float64) float64 {
	const (
		maxIter = 200
		eps     = 3e-12
		fpmin   = 1e-30
	)
	qab := a + b
	qap := a + 1
	qam := a - 1
	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < fpmin {
		d = fpmin
	}
	d = 1 / d
	h := d
	for m := 1; m <= maxIter; m++ {
		m2 := float64(2 * m)
		aa := float64(m) * (b - float64(m)) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		h *= d * c
		aa = -(a + float64(m)) * (qab + float64(m)) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < fpmin {
			d = fpmin
		}
		c = 1 + aa/c
		if math.Abs(c) < fpmin {
			c = fpmin
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < eps {
			break
		}
	}
	return h
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// betaQuantile inverts the regularized incomplete beta by bisection with
// a Newton refinement. Accurate to ~1e-8, which is far tighter than the
// interval itself needs.
func betaQuantile(a, b, p float64) float64 {
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return 1
	}

	lo, hi := 0.0, 1.0
	x := a / (a + b) // start at the mean
	for i := 0; i < 100; i++ {
		fx := betaIncomplete(a, b, x) - p
		if math.Abs(fx) < 1e-10 {
			return x
		}
		if fx > 0 {
			hi = x
		} else {
			lo = x
		}
		// Newton step from the beta density
		ln := lgamma(a+b) - lgamma(a) - lgamma(b) + (a-1)*math.Log(x) + (b-1)*math.Log(1-x)
		pdf := math.Exp(ln)
		var next float64
		if pdf > 1e-300 {
			next = x - fx/pdf
		}
		if pdf <= 1e-300 || next <= lo || next >= hi {
			next = (lo + hi) / 2
		}
		x = next
	}
	return x
}
