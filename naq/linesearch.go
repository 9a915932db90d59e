// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package naq

import "math"

const (
	searchNoBnd = 1.0e+10
	searchAlpha = 1.0e-3
	searchBeta  = 0.9
	searchEps   = 0.1
)

const (
	// armijoBackMax caps the step halvings of the backtracking search.
	armijoBackMax = 10
	// wolfeEvalMax caps the function/gradient evaluations of one Wolfe search.
	wolfeEvalMax = 20
)

// searchOutcome is the explicit result of a step acceptance rule.
// Failures flow back through ordinary returns, never through panics.
type searchOutcome int

const (
	stepAccepted searchOutcome = iota
	stepRejected
	searchFailed
)

// armijoSearch backtracks from the unit step until the sufficient
// decrease condition
//
//	f(xₛ + ɑp) ≤ f(xₛ) + c₁·ɑ·gᵀp      (c₁ = 10⁻³)
//
// holds, halving ɑ at most armijoBackMax times. Exhausting the budget is
// a line-search failure reported to the driver, not a crash.
func armijoSearch(o *oracle, f0 float64, xs, p []float64, gp float64, xt []float64) (alpha, fNew float64, out searchOutcome) {

	n := len(xs)
	if len(p) != n || len(xt) != n {
		panic("bound check error")
	}

	alpha = one
	for back := 0; back <= armijoBackMax; back++ {
		dcopy(n, xs, 1, xt, 1)
		daxpy(n, alpha, p, 1, xt, 1)
		fNew = o.value(xt)
		if fNew <= f0+searchAlpha*alpha*gp {
			return alpha, fNew, stepAccepted
		}
		alpha *= half
	}
	return zero, f0, searchFailed
}

// wolfeSearch runs the strong-Wolfe scalar search along p starting from
// the unit step. On success the gradient at the accepted point is left in
// gt so the driver can skip a redundant evaluation. Warnings and bracket
// failures report searchFailed; the driver falls back to Armijo before
// declaring a hard failure.
func wolfeSearch(o *oracle, tol SearchTol, f0 float64, xs, p, g []float64, xt, gt []float64) (alpha, fNew float64, haveGrad bool, out searchOutcome) {

	n := len(xs)
	if len(p) != n || len(g) != n || len(xt) != n || len(gt) != n {
		panic("bound check error")
	}

	gp := ddot(n, g, 1, p, 1)
	if gp >= zero {
		// Not a descent direction: the search cannot start.
		return zero, f0, false, searchFailed
	}

	var sctx SearchCtx
	task := SearchStart
	stp, f, gval := one, f0, gp

	for eval := 0; eval < wolfeEvalMax; {
		stp, task = ScalarSearch(f, gval, stp, task, &tol, &sctx)
		if task != SearchFG {
			break
		}
		dcopy(n, xs, 1, xt, 1)
		daxpy(n, stp, p, 1, xt, 1)
		f = o.value(xt)
		o.gradient(xt, gt)
		gval = ddot(n, gt, 1, p, 1)
		eval++
	}

	if task&SearchConv > 0 {
		// gt holds the gradient at the accepted step: the convergence
		// test only fires on the values evaluated at the returned stp.
		return stp, f, true, stepAccepted
	}
	return zero, f0, false, searchFailed
}

// explicitStep derives a closed-form step from a Lipschitz estimate
// L = 100·‖y‖/‖s‖ built on the previous curvature pair:
//
//	ɑ = -𝛿·gᵀp / (L·‖p‖²)
//
// with 𝛿 = 10⁻⁴, or 10⁻⁷ when the direction norm exceeds 10³. The unit
// step is taken outright when it already satisfies sufficient decrease.
// On the first iteration there is no prior pair and the policy delegates
// to the Wolfe search.
func explicitStep(o *oracle, spec *iterSpec, ctx *iterCtx, f0 float64, xs, p, g []float64, xt, gt []float64) (alpha, fNew float64, haveGrad bool, out searchOutcome) {

	n := len(xs)
	gp := ddot(n, g, 1, p, 1)

	dcopy(n, xs, 1, xt, 1)
	daxpy(n, one, p, 1, xt, 1)
	fNew = o.value(xt)
	if fNew <= f0+searchAlpha*gp {
		return one, fNew, false, stepAccepted
	}

	if ctx.iter == 0 || ctx.lastSNorm == zero || ctx.lastYNorm == zero {
		return wolfeSearch(o, spec.tol, f0, xs, p, g, xt, gt)
	}

	delta := 1e-4
	if vecnorm(p, spec.stop.GradNormOrder) > 1000 {
		delta = 1e-7
	}

	lip := 100 * ctx.lastYNorm / ctx.lastSNorm
	pp := ddot(n, p, 1, p, 1)
	alpha = -(delta * gp) / (lip * pp)
	if math.IsNaN(alpha) || math.IsInf(alpha, 0) || alpha <= zero {
		return wolfeSearch(o, spec.tol, f0, xs, p, g, xt, gt)
	}

	dcopy(n, xs, 1, xt, 1)
	daxpy(n, alpha, p, 1, xt, 1)
	fNew = o.value(xt)
	return alpha, fNew, false, stepAccepted
}
