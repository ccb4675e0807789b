// Package trajectory fits and evaluates polynomial models of a reference path.
package trajectory

// Polynomial is a univariate polynomial whose coefficients are ordered from the constant term
// up to the highest degree: p(x) = c[0] + c[1]x + c[2]x² + ...
type Polynomial []float64

// Order returns the degree of the polynomial. The empty polynomial has order -1.
func (p Polynomial) Order() int {
	return len(p) - 1
}

// Eval evaluates the polynomial at x with Horner's rule.
func (p Polynomial) Eval(x float64) float64 {
	var y float64
	for i := len(p) - 1; i >= 0; i-- {
		y = y*x + p[i]
	}
	return y
}

// Derivative returns the first derivative of the polynomial.
func (p Polynomial) Derivative() Polynomial {
	if len(p) <= 1 {
		return Polynomial{0}
	}
	d := make(Polynomial, len(p)-1)
	for i := 1; i < len(p); i++ {
		d[i-1] = float64(i) * p[i]
	}
	return d
}

// Slope returns the value of the first derivative at x.
func (p Polynomial) Slope(x float64) float64 {
	var y float64
	for i := len(p) - 1; i >= 1; i-- {
		y = y*x + float64(i)*p[i]
	}
	return y
}
