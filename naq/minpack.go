// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package naq

import (
	"math"
)

const (
	p66        = 0.66
	xTrapLower = 1.1
	xTrapUpper = 4.0
)

const (
	stageArmijo = 1
	stageWolfe  = 2
)

// SearchTask drives the reverse-communication scalar search: the caller
// evaluates f and f′ whenever SearchFG is returned and feeds the values
// back in.
type SearchTask int

const (
	SearchStart SearchTask = 0
	SearchConv  SearchTask = 1 << (4 + iota)
	SearchFG
	SearchError
	SearchWarn
)

const (
	SearchErrOverLower = SearchError | (1 + iota)
	SearchErrOverUpper
	SearchErrNegInitG
	SearchErrNegAlpha
	SearchErrNegBeta
	SearchErrNegEps
	SearchErrLower
	SearchErrUpper
	SearchWarnRoundErr = SearchWarn | (1 + iota)
	SearchWarnReachEps
	SearchWarnReachMax
	SearchWarnReachMin
)

// SearchTol configures the strong-Wolfe scalar search.
type SearchTol struct {
	// Alpha is a non-negative tolerance for the sufficient decrease condition.
	Alpha float64
	// Beta is a non-negative tolerance for the curvature condition.
	Beta float64
	// Eps is a non-negative relative tolerance for an acceptable step.
	// The search exits with a warning once the bracket width relative to
	// its upper end drops below Eps.
	Eps float64
	// Lower and Upper are non-negative bounds for the step.
	Lower, Upper float64
}

// SearchCtx is the state carried between ScalarSearch calls of one search.
type SearchCtx struct {
	bracket    bool
	stage      int
	g0, gx, gy float64
	f0, fx, fy float64
	stx, sty   float64
	width      [2]float64
	bound      [2]float64
}

// ScalarSearch (dcsrch)
//
// Finds a step λ satisfying the strong Wolfe conditions
//
//	f(λ) ≤ f(0) + ɑλf′(0)      (sufficient decrease)
//	|f′(λ)| ≤ β|f′(0)|         (curvature)
//
// by maintaining a bracket [stx, sty] that initially contains a minimizer
// of the modified function ψ(λ) = f(λ) - f(0) - ɑλf′(0) and, once
// ψ(λ) ≤ 0 with f′(λ) ≥ 0 is observed, a minimizer of f itself. On entry
// with task = SearchStart, f and g are the values at 0 and stp a positive
// initial estimate; on subsequent entries f and g are the values at the
// returned stp. When no step satisfies both conditions the search stops
// with a warning and stp satisfies only the sufficient decrease condition.
func ScalarSearch(f, g, stp float64, task SearchTask, tol *SearchTol, ctx *SearchCtx) (float64, SearchTask) {

	if task == SearchStart {
		switch {
		case stp < tol.Lower:
			task = SearchErrOverLower
		case stp > tol.Upper:
			task = SearchErrOverUpper
		case g >= zero:
			task = SearchErrNegInitG
		case tol.Alpha < zero:
			task = SearchErrNegAlpha
		case tol.Beta < zero:
			task = SearchErrNegBeta
		case tol.Eps < zero:
			task = SearchErrNegEps
		case tol.Lower < zero:
			task = SearchErrLower
		case tol.Upper < tol.Lower:
			task = SearchErrUpper
		}

		if task&SearchError > 0 {
			return stp, task
		}

		ctx.bracket = false
		ctx.stage = stageArmijo
		ctx.f0, ctx.g0 = f, g
		ctx.width[0] = tol.Upper - tol.Lower
		ctx.width[1] = ctx.width[0] / half

		ctx.stx, ctx.fx, ctx.gx = zero, ctx.f0, ctx.g0
		ctx.sty, ctx.fy, ctx.gy = zero, ctx.f0, ctx.g0
		ctx.bound[0] = zero
		ctx.bound[1] = stp + xTrapUpper*stp
		task = SearchFG
		return stp, task
	}

	// Test for convergence or warnings.
	gTest := tol.Alpha * ctx.g0
	fTest := ctx.f0 + stp*gTest

	stpMin, stpMax := ctx.bound[0], ctx.bound[1]
	if ctx.bracket && (stp <= stpMin || stp >= stpMax) {
		task = SearchWarnRoundErr
	} else if ctx.bracket && (stpMax-stpMin) <= tol.Eps*stpMax {
		task = SearchWarnReachEps
	} else if stp == tol.Upper && f <= fTest && g <= gTest {
		task = SearchWarnReachMax
	} else if stp == tol.Lower && (f > fTest || g >= gTest) {
		task = SearchWarnReachMin
	} else if f <= fTest && math.Abs(g) <= tol.Beta*(-ctx.g0) {
		task = SearchConv
	}

	if task&(SearchWarn|SearchConv) > 0 {
		return stp, task
	}

	if ctx.stage == stageArmijo && f <= fTest && g >= zero {
		ctx.stage = stageWolfe
	}

	// While ψ drives the search, work on the modified function values.
	if ctx.stage == stageArmijo && f <= ctx.fx && f > fTest {
		fm := f - stp*gTest
		fxm := ctx.fx - ctx.stx*gTest
		fym := ctx.fy - ctx.sty*gTest
		gm := g - gTest
		gxm := ctx.gx - gTest
		gym := ctx.gy - gTest
		scalarStep(&ctx.stx, &fxm, &gxm, &ctx.sty, &fym, &gym, &stp, fm, gm, &ctx.bracket, ctx.bound)
		ctx.fx = fxm + ctx.stx*gTest
		ctx.fy = fym + ctx.sty*gTest
		ctx.gx = gxm + gTest
		ctx.gy = gym + gTest
	} else {
		scalarStep(&ctx.stx, &ctx.fx, &ctx.gx, &ctx.sty, &ctx.fy, &ctx.gy, &stp, f, g, &ctx.bracket, ctx.bound)
	}

	// Force a bisection step when the bracket shrinks too slowly.
	if ctx.bracket {
		if math.Abs(ctx.sty-ctx.stx) >= p66*ctx.width[1] {
			stp = ctx.stx + half*(ctx.sty-ctx.stx)
		}
		ctx.width[1] = ctx.width[0]
		ctx.width[0] = math.Abs(ctx.sty - ctx.stx)
	}

	if ctx.bracket {
		stpMin = math.Min(ctx.stx, ctx.sty)
		stpMax = math.Max(ctx.stx, ctx.sty)
	} else {
		stpMin = stp + xTrapLower*(stp-ctx.stx)
		stpMax = stp + xTrapUpper*(stp-ctx.stx)
	}
	ctx.bound[0], ctx.bound[1] = stpMin, stpMax

	stp = math.Min(math.Max(stp, tol.Lower), tol.Upper)

	if ctx.bracket && (stp <= stpMin || stp >= stpMax) || (ctx.bracket && stpMax-stpMin <= tol.Eps*stpMax) {
		stp = ctx.stx
	}

	task = SearchFG
	return stp, task
}

// Subroutine scalarStep (dcstep)
//
// Computes a safeguarded trial step and updates the interval bracketing a
// step with sufficient decrease and curvature. stx holds the best step so
// far; when bracket is set, a minimizer lies between stx and sty with
// 𝚖𝚒𝚗(stx,sty) < stp < 𝚖𝚊𝚡(stx,sty) and a negative derivative at stx in
// the step direction. fp and dp are the function and derivative at stp.
func scalarStep(
	stx, fx, dx *float64,
	sty, fy, dy *float64,
	stp *float64, fp, dp float64,
	bracket *bool, bound [2]float64) {

	var gamma, p, q, r, s, sgnd, stpc, stpf, stpq, theta, stpmin, stpmax float64
	const three = 3.0

	stpmin, stpmax = bound[0], bound[1]
	sgnd = dp * (*dx / math.Abs(*dx))

	if fp > *fx {
		// A higher function value: the minimum is bracketed. Take the
		// cubic step when it is closer to stx than the quadratic step,
		// otherwise their average.
		theta = three*(*fx-fp)/(*stp-*stx) + *dx + dp
		s = math.Max(math.Max(math.Abs(theta), math.Abs(*dx)), math.Abs(dp))
		gamma = s * math.Sqrt((theta/s)*(theta/s)-(*dx/s)*(dp/s))
		if *stp < *stx {
			gamma = -gamma
		}
		p = (gamma - *dx) + theta
		q = ((gamma - *dx) + gamma) + dp
		r = p / q
		stpc = *stx + r*(*stp-*stx)
		stpq = *stx + ((*dx/((*fx-fp)/(*stp-*stx)+*dx))/two)*(*stp-*stx)
		if math.Abs(stpc-*stx) < math.Abs(stpq-*stx) {
			stpf = stpc
		} else {
			stpf = stpc + (stpq-stpc)/two
		}
		*bracket = true
	} else if sgnd < zero {
		// A lower value with derivatives of opposite sign: bracketed.
		// Take the cubic step when it is farther from stp than the
		// secant step, otherwise the secant step.
		theta = three*(*fx-fp)/(*stp-*stx) + *dx + dp
		s = math.Max(math.Max(math.Abs(theta), math.Abs(*dx)), math.Abs(dp))
		gamma = s * math.Sqrt((theta/s)*(theta/s)-(*dx/s)*(dp/s))
		if *stp > *stx {
			gamma = -gamma
		}
		p = (gamma - dp) + theta
		q = ((gamma - dp) + gamma) + *dx
		r = p / q
		stpc = *stp + r*(*stx-*stp)
		stpq = *stp + (dp/(dp-*dx))*(*stx-*stp)
		if math.Abs(stpc-*stp) > math.Abs(stpq-*stp) {
			stpf = stpc
		} else {
			stpf = stpq
		}
		*bracket = true
	} else if math.Abs(dp) < math.Abs(*dx) {
		// A lower value, same derivative sign, decreasing magnitude.
		// The cubic is used only when it tends to infinity in the step
		// direction or its minimum lies beyond stp.
		theta = three*(*fx-fp)/(*stp-*stx) + *dx + dp
		s = math.Max(math.Max(math.Abs(theta), math.Abs(*dx)), math.Abs(dp))
		// gamma = 0 only when the cubic does not tend to infinity in the
		// direction of the step.
		gamma = s * math.Sqrt((theta/s)*(theta/s)-(*dx/s)*(dp/s))
		if *stp > *stx {
			gamma = -gamma
		}
		p = (gamma - dp) + theta
		q = (gamma + (*dx - dp)) + gamma
		r = p / q
		if r < zero && gamma != zero {
			stpc = *stp + r*(*stx-*stp)
		} else if *stp > *stx {
			stpc = stpmax
		} else {
			stpc = stpmin
		}
		stpq = *stp + (dp/(dp-*dx))*(*stx-*stp)
		if *bracket {
			if math.Abs(stpc-*stp) < math.Abs(stpq-*stp) {
				stpf = stpc
			} else {
				stpf = stpq
			}
			if *stp > *stx {
				stpf = math.Min(*stp+p66*(*sty-*stp), stpf)
			} else {
				stpf = math.Max(*stp+p66*(*sty-*stp), stpf)
			}
		} else {
			if math.Abs(stpc-*stp) > math.Abs(stpq-*stp) {
				stpf = stpc
			} else {
				stpf = stpq
			}
			stpf = math.Min(stpmax, stpf)
			stpf = math.Max(stpmin, stpf)
		}
	} else {
		// A lower value, same sign, non-decreasing magnitude. Without a
		// bracket the step is driven to a bound, otherwise the cubic on
		// the far endpoint is taken.
		if *bracket {
			theta = three*(fp-*fy)/(*sty-*stp) + *dy + dp
			s = math.Max(math.Max(math.Abs(theta), math.Abs(*dy)), math.Abs(dp))
			gamma = s * math.Sqrt((theta/s)*(theta/s)-(*dy/s)*(dp/s))
			if *stp > *sty {
				gamma = -gamma
			}
			p = (gamma - dp) + theta
			q = ((gamma - dp) + gamma) + *dy
			r = p / q
			stpc = *stp + r*(*sty-*stp)
			stpf = stpc
		} else if *stp > *stx {
			stpf = stpmax
		} else {
			stpf = stpmin
		}
	}

	// Update the interval containing a minimizer.
	if fp > *fx {
		*sty = *stp
		*fy = fp
		*dy = dp
	} else {
		if sgnd < zero {
			*sty = *stx
			*fy = *fx
			*dy = *dx
		}
		*stx = *stp
		*fx = fp
		*dx = dp
	}

	*stp = stpf
}
