// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package naq

const (
	zero = 0.0
	one  = 1.0
	two  = 2.0
	half = 0.5
)

// DirectionModel selects how the search direction is produced
// from the curvature memory.
type DirectionModel int

const (
	// ModelTwoLoop applies the implicit inverse-Hessian via the L-BFGS two-loop recursion.
	ModelTwoLoop DirectionModel = iota
	// ModelTrustRegion solves the trust-region subproblem with Steihaug-CG
	// over the compact representation of the Hessian approximation.
	ModelTrustRegion
)

// MomentumMode selects the Nesterov extrapolation schedule.
type MomentumMode int

const (
	// MomentumNone disable extrapolation (μₖ = 0).
	MomentumNone MomentumMode = iota
	// MomentumFixed use a constant coefficient μₖ = μ.
	MomentumFixed
	// MomentumAdaptive derive μₖ from the θ recurrence.
	MomentumAdaptive
)

// SearchPolicy selects the step acceptance rule.
type SearchPolicy int

const (
	// SearchArmijo backtracking with the sufficient decrease condition.
	SearchArmijo SearchPolicy = iota
	// SearchWolfe strong Wolfe conditions with Armijo fallback.
	SearchWolfe
	// SearchExplicit closed-form Lipschitz step (Wolfe on the first iteration).
	SearchExplicit
	// SearchTrustRatio ared/pred ratio test (trust-region model only).
	SearchTrustRatio
)

// iterTask encodes the run status as a bitmask so convergence,
// stop and error classes can be tested with a single mask.
type iterTask int

const iterLoop iterTask = 0

const (
	iterConv iterTask = 1 << (4 + iota)
	iterStop
)

const (
	// ConvGradNorm the gradient norm dropped below the tolerance.
	ConvGradNorm iterTask = iterConv | (1 + iota)
	// ConvTargetValue the function value dropped below the target.
	ConvTargetValue
)

const (
	// StopLineSearch no acceptable step within the retry budget (precision loss).
	StopLineSearch iterTask = iterStop | (1 + iota)
	// StopNaN the iterate, gradient or function value became NaN.
	StopNaN
	// StopBadObjective the objective returned NaN/Inf on the first evaluation.
	StopBadObjective
	// StopBoundary the trust-region boundary quadratic has no non-negative
	// root, which indicates an internal invariant violation.
	StopBoundary
	// OverIterLimit the iteration budget is exhausted.
	OverIterLimit
)

// errInfo reports recoverable conditions inside one iteration.
type errInfo int

const (
	ok errInfo = iota
	// errSingularM the compact middle matrix could not be factorized.
	errSingularM
	// errBoundaryRoot the boundary quadratic has no non-negative root.
	errBoundaryRoot
	// errLineSearchFailed the acceptance rule exhausted its budget.
	errLineSearchFailed
)

// iterSpec is the immutable per-problem state shared by every run.
type iterSpec struct {
	n, m    int
	epsilon float64

	model    DirectionModel
	momentum MomentumMode
	search   SearchPolicy

	mu     float64 // fixed momentum coefficient
	muClip float64 // extrapolation clip for the adaptive schedule
	gamma  float64 // θ recurrence constant

	eta    float64 // trust-region acceptance threshold
	delta0 float64 // initial trust-region radius

	fun  Objective
	grad Gradient
	step float64 // finite-difference step when grad == nil

	stop   Termination
	tol    SearchTol
	trace  bool
	logger Logger
}

// iterLoc is the accepted location: the only state surviving
// a rejected step.
type iterLoc struct {
	f    float64
	x, g []float64
}

// iterCtx is the mutable per-run state owned by one driver instance.
// Concurrent runs must use disjoint contexts.
type iterCtx struct {
	iter    int
	numFun  int // objective evaluations
	numGrad int // analytic gradient evaluations
	numDiff int // finite-difference gradient evaluations
	skipped int // curvature pairs rejected at insertion

	gnorm float64 // stopping norm of the gradient at the accepted point

	mu    float64 // momentum coefficient of the current iteration
	delta float64 // trust-region radius

	// gShifted marks loc.g as evaluated at the shifted point xₛ rather
	// than the accepted x, which happens when a trust step is rejected.
	gShifted bool

	v  []float64 // velocity
	xs []float64 // momentum-shifted evaluation point
	p  []float64 // search direction
	s  []float64 // trial displacement
	y  []float64 // trial (damped) gradient difference
	xt []float64 // trial point scratch
	gt []float64 // gradient scratch for line search trials

	// norms of the last stored pair, feeding the explicit policy's
	// Lipschitz estimate
	lastSNorm, lastYNorm float64

	alpha []float64 // two-loop coefficient stack

	sched momentumSchedule
	mem   corrections
	tr    trustRegion

	trace [][]float64
}

func (ctx *iterCtx) init(n, m int) {
	ctx.v = make([]float64, n)
	ctx.xs = make([]float64, n)
	ctx.p = make([]float64, n)
	ctx.s = make([]float64, n)
	ctx.y = make([]float64, n)
	ctx.xt = make([]float64, n)
	ctx.gt = make([]float64, n)
	ctx.alpha = make([]float64, m)
	ctx.mem.init(n, m)
	ctx.tr.init(n, m)
}

func (ctx *iterCtx) clear() {
	ctx.iter = 0
	ctx.numFun, ctx.numGrad, ctx.numDiff = 0, 0, 0
	ctx.skipped = 0
	ctx.gnorm = zero
	ctx.mu = zero
	ctx.gShifted = false
	ctx.lastSNorm, ctx.lastYNorm = zero, zero
	for _, v := range [][]float64{ctx.v, ctx.xs, ctx.p, ctx.s, ctx.y, ctx.xt, ctx.gt} {
		for i := range v {
			v[i] = zero
		}
	}
	ctx.mem.reset()
	ctx.tr.invalidate()
	ctx.trace = nil
}
