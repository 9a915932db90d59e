// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package naq

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	trustExpand = 0.75
	trustShrink = 0.1
	trustMin    = 1e-8
	trustMax    = 1e8
)

// vecnorm evaluates the stopping-test norm of order ord:
// +∞ is the max-norm, -∞ the min-norm, any finite p the p-norm.
func vecnorm(x []float64, ord float64) float64 {
	switch {
	case math.IsInf(ord, 1):
		nrm := zero
		for _, v := range x {
			nrm = math.Max(nrm, math.Abs(v))
		}
		return nrm
	case math.IsInf(ord, -1):
		nrm := math.Inf(1)
		for _, v := range x {
			nrm = math.Min(nrm, math.Abs(v))
		}
		return nrm
	case ord == 2:
		return dnrm2(len(x), x, 1)
	default:
		return floats.Norm(x, ord)
	}
}

// iterDriver sequences one optimization run: momentum shift, direction,
// step acceptance, curvature update. It owns every piece of mutable
// state through its workspace, so independent runs never share anything.
type iterDriver struct {
	optimizer *Optimizer
	workspace *Workspace
	location  *iterLoc
	oracle    oracle
}

// checkStop applies the per-iteration stopping tests in severity order:
// NaN divergence, gradient tolerance, target value, iteration budget.
func (d *iterDriver) checkStop(task iterTask) iterTask {
	spec := &d.optimizer.iterSpec
	ctx := &d.workspace.iterCtx
	loc := d.location

	if task != iterLoop {
		return task
	}

	nan := math.IsNaN(ctx.gnorm) || math.IsNaN(loc.f)
	for i := 0; !nan && i < spec.n; i++ {
		nan = math.IsNaN(loc.x[i])
	}
	switch {
	case nan:
		task = StopNaN
	case ctx.gnorm <= spec.stop.GradTolerance:
		task = ConvGradNorm
	case hasTarget(spec.stop.TargetValue) && loc.f < spec.stop.TargetValue:
		task = ConvTargetValue
	case ctx.iter >= spec.stop.MaxIterations:
		task = OverIterLimit
	}
	return task
}

func hasTarget(etol float64) bool {
	return etol != 0 && !math.IsNaN(etol)
}

// shiftLocation computes μₖ and the momentum-shifted evaluation point
// xₛ = x + μₖv, refreshing the gradient there when the shift is real.
// A rejected trust step leaves loc.g at the previous shifted point, so
// the refresh also covers the gShifted case with a zero shift.
func (d *iterDriver) shiftLocation() {
	spec := &d.optimizer.iterSpec
	ctx := &d.workspace.iterCtx
	loc := d.location

	n := spec.n
	ctx.mu = ctx.sched.next()

	dcopy(n, loc.x, 1, ctx.xs, 1)
	if ctx.mu != zero {
		daxpy(n, ctx.mu, ctx.v, 1, ctx.xs, 1)
	}

	shifted := ctx.mu != zero && ctx.iter > 0
	if shifted || ctx.gShifted {
		d.oracle.gradient(ctx.xs, loc.g)
		ctx.gShifted = shifted
	}
}

// mainLoop runs the iteration until a stopping condition fires.
func (d *iterDriver) mainLoop() (task iterTask) {

	spec := &d.optimizer.iterSpec
	ctx := &d.workspace.iterCtx
	loc := d.location
	log := spec.logger

	d.printInit()

	loc.f = d.oracle.value(loc.x)
	if math.IsNaN(loc.f) || math.IsInf(loc.f, 0) {
		d.printExit(StopBadObjective)
		return StopBadObjective
	}
	d.oracle.gradient(loc.x, loc.g)
	ctx.gnorm = vecnorm(loc.g, spec.stop.GradNormOrder)
	d.record()

	if log.enable(LogEval) {
		log.log("At iterate %5d    f= %12.5e    |g|= %12.5e\n", ctx.iter, loc.f, ctx.gnorm)
	}

	task = iterLoop
	for {
		if task = d.checkStop(task); task != iterLoop {
			break
		}

		if log.enable(LogTrace) {
			log.log("\n\nITERATION %5d\n", ctx.iter+1)
		}

		d.shiftLocation()

		var info errInfo
		if spec.model == ModelTrustRegion {
			info = d.trustStep()
		} else {
			info = d.lineStep()
		}

		switch info {
		case errSingularM:
			// Degenerate curvature memory: drop it and restart the
			// iteration with a fresh model.
			ctx.mem.reset()
			ctx.tr.invalidate()
			if log.enable(LogLast) {
				log.log("Refreshing correction memory and restarting iteration.\n")
			}
			continue
		case errBoundaryRoot:
			task = StopBoundary
			continue
		case errLineSearchFailed:
			task = StopLineSearch
			continue
		}

		ctx.iter++
		d.printIter()
	}

	d.printExit(task)
	return task
}

// lineStep runs one two-loop iteration: direction, line search,
// velocity/position update, damped curvature-pair insertion.
func (d *iterDriver) lineStep() errInfo {

	spec := &d.optimizer.iterSpec
	ctx := &d.workspace.iterCtx
	loc := d.location
	o := &d.oracle

	n := spec.n

	// p = -Hg via the two-loop recursion over the stored pairs.
	twoLoopDirection(loc.g, &ctx.mem, ctx.alpha, ctx.p)
	dscal(n, -one, ctx.p, 1)
	safeguardDirection(ctx.p)

	gp := ddot(n, loc.g, 1, ctx.p, 1)

	// Baseline value at the shifted point; when the shift is zero the
	// accepted value stands in and saves an evaluation.
	f0 := loc.f
	if ctx.mu != zero {
		f0 = o.value(ctx.xs)
	}

	var alpha, fNew float64
	var haveGrad bool
	var out searchOutcome
	switch spec.search {
	case SearchWolfe:
		alpha, fNew, haveGrad, out = wolfeSearch(o, spec.tol, f0, ctx.xs, ctx.p, loc.g, ctx.xt, ctx.gt)
		if out == searchFailed {
			// Armijo fallback before declaring a hard failure.
			haveGrad = false
			alpha, fNew, out = armijoSearch(o, f0, ctx.xs, ctx.p, gp, ctx.xt)
		}
	case SearchExplicit:
		alpha, fNew, haveGrad, out = explicitStep(o, spec, ctx, f0, ctx.xs, ctx.p, loc.g, ctx.xt, ctx.gt)
	default:
		alpha, fNew, out = armijoSearch(o, f0, ctx.xs, ctx.p, gp, ctx.xt)
	}

	if out != stepAccepted {
		return errLineSearchFailed
	}

	// vₖ₊₁ = μₖvₖ + ɑₖpₖ ; xₖ₊₁ = xₖ + vₖ₊₁ ; sₖ = xₖ₊₁ - xₛ = ɑₖpₖ
	dscal(n, ctx.mu, ctx.v, 1)
	daxpy(n, alpha, ctx.p, 1, ctx.v, 1)
	dcopy(n, ctx.p, 1, ctx.s, 1)
	dscal(n, alpha, ctx.s, 1)
	dcopy(n, ctx.xs, 1, loc.x, 1)
	daxpy(n, one, ctx.s, 1, loc.x, 1)

	if !haveGrad {
		o.gradient(loc.x, ctx.gt)
	}
	// yₖ = gₖ₊₁ - g(xₛ)
	for i := 0; i < n; i++ {
		ctx.y[i] = ctx.gt[i] - loc.g[i]
	}

	loc.f = fNew
	d.updatePair()
	dcopy(n, ctx.gt, 1, loc.g, 1)
	ctx.gShifted = false
	ctx.gnorm = vecnorm(loc.g, spec.stop.GradNormOrder)
	d.record()
	return ok
}

// trustStep runs one trust-region iteration: Steihaug-CG step, ratio
// test, radius update, and the curvature-pair insertion on acceptance.
func (d *iterDriver) trustStep() errInfo {

	spec := &d.optimizer.iterSpec
	ctx := &d.workspace.iterCtx
	loc := d.location
	o := &d.oracle
	log := spec.logger

	n := spec.n

	if info := ctx.tr.factor(&ctx.mem); info != ok {
		return info
	}
	if info := ctx.tr.solve(&ctx.mem, loc.g, ctx.delta, ctx.p); info != ok {
		return info
	}

	// Baseline value at the shifted point, like the line-search branch.
	f0 := loc.f
	if ctx.mu != zero {
		f0 = o.value(ctx.xs)
	}

	dcopy(n, ctx.xs, 1, ctx.xt, 1)
	daxpy(n, one, ctx.p, 1, ctx.xt, 1)
	fNew := o.value(ctx.xt)

	// ared/pred with B·p through the compact representation.
	ared := f0 - fNew
	ctx.tr.bprod(&ctx.mem, ctx.p, ctx.y)
	pred := -(ddot(n, loc.g, 1, ctx.p, 1) + half*ddot(n, ctx.p, 1, ctx.y, 1))

	ratio := math.Inf(-1)
	if pred > zero {
		ratio = ared / pred
	}

	switch {
	case ratio > trustExpand:
		ctx.delta = math.Min(two*ctx.delta, trustMax)
	case ratio < trustShrink:
		ctx.delta = math.Max(half*ctx.delta, trustMin)
	}

	if ratio <= spec.eta {
		// Rejected: only the radius shrinks and the momentum
		// recurrence restarts.
		ctx.sched.reset()
		if log.enable(LogTrace) {
			log.log("Step rejected: ratio = %12.5e, delta = %12.5e\n", ratio, ctx.delta)
		}
		return ok
	}

	// xₖ₊₁ = xₛ + p ; vₖ₊₁ = μₖvₖ + p ; sₖ = p
	dscal(n, ctx.mu, ctx.v, 1)
	daxpy(n, one, ctx.p, 1, ctx.v, 1)
	dcopy(n, ctx.p, 1, ctx.s, 1)
	dcopy(n, ctx.xt, 1, loc.x, 1)

	o.gradient(loc.x, ctx.gt)
	for i := 0; i < n; i++ {
		ctx.y[i] = ctx.gt[i] - loc.g[i]
	}

	loc.f = fNew
	d.updatePair()
	dcopy(n, ctx.gt, 1, loc.g, 1)
	ctx.gShifted = false
	ctx.gnorm = vecnorm(loc.g, spec.stop.GradNormOrder)
	d.record()
	return ok
}

// updatePair damps the trial pair and pushes it into the memory.
// A pair failing the curvature condition after damping is silently
// skipped: the run continues on a smaller window.
func (d *iterDriver) updatePair() {
	spec := &d.optimizer.iterSpec
	ctx := &d.workspace.iterCtx
	log := spec.logger

	dampCurvature(ctx.s, ctx.y, ctx.gnorm)
	// The Lipschitz estimate of the explicit policy uses the same norm
	// order as the stopping test.
	ctx.lastSNorm = vecnorm(ctx.s, spec.stop.GradNormOrder)
	ctx.lastYNorm = vecnorm(ctx.y, spec.stop.GradNormOrder)
	if !ctx.mem.push(ctx.s, ctx.y) {
		ctx.skipped++
		if log.enable(LogEval) {
			log.log("Skipping correction pair: curvature condition failed.\n")
		}
	}
}

// record appends the accepted point to the trace when requested.
func (d *iterDriver) record() {
	if !d.optimizer.trace {
		return
	}
	ctx := &d.workspace.iterCtx
	x := make([]float64, len(d.location.x))
	copy(x, d.location.x)
	ctx.trace = append(ctx.trace, x)
}

func (d *iterDriver) printInit() {
	spec := &d.optimizer.iterSpec
	log := spec.logger
	if log.enable(LogLast) {
		log.log("RUNNING THE NAQ CODE\n")
		log.log("           * * *\n")
		log.log("Machine precision = %10.3e\n", spec.epsilon)
		log.log("N = %d    M = %d\n", spec.n, spec.m)
	}
	if log.enable(LogEval) {
		log.out("   it   nf   ng  mu        delta      |g|          f\n")
	}
}

func (d *iterDriver) printIter() {
	spec := &d.optimizer.iterSpec
	ctx := &d.workspace.iterCtx
	loc := d.location
	log := spec.logger

	if log.enable(LogTrace) {
		log.log("At iterate %5d    f= %12.5e    |g|= %12.5e\n", ctx.iter, loc.f, ctx.gnorm)
		if log.enable(LogVerbose) {
			log.log("\n X = ")
			for i := 0; i < spec.n; i++ {
				log.log("%.2e ", loc.x[i])
				if (i+1)%6 == 0 {
					log.log("\n     ")
				}
			}
			log.log("\n")
		}
	} else if log.enable(LogEval) {
		if ctx.iter%int(log.Level) == 0 {
			log.log("At iterate %5d    f= %12.5e    |g|= %12.5e\n", ctx.iter, loc.f, ctx.gnorm)
		}
	}

	if log.enable(LogEval) {
		log.out("%5d %4d %4d %5.3f %10.3e %10.3e %10.3e\n",
			ctx.iter, ctx.numFun, ctx.numGrad+ctx.numDiff, ctx.mu, ctx.delta, ctx.gnorm, loc.f)
	}
}

func (d *iterDriver) printExit(task iterTask) {
	spec := &d.optimizer.iterSpec
	ctx := &d.workspace.iterCtx
	loc := d.location
	log := spec.logger

	if !log.enable(LogLast) {
		return
	}

	log.log("\n           * * *\n")
	log.log("Tit   = total number of iterations\n")
	log.log("Tnf   = total number of function evaluations\n")
	log.log("Tng   = total number of gradient evaluations\n")
	log.log("Skip  = number of correction pairs skipped\n")
	log.log("Gnorm = norm of the final gradient\n")
	log.log("F     = final function value\n")
	log.log("\n           * * *\n")
	log.log("\n   N     Tit     Tnf     Tng   Skip    Gnorm         F\n")
	log.log("%5d %6d %7d %7d %6d %9.2e %13.5e\n",
		spec.n, ctx.iter, ctx.numFun, ctx.numGrad+ctx.numDiff, ctx.skipped, ctx.gnorm, loc.f)

	var msg string
	switch task {
	case ConvGradNorm:
		msg = "CONVERGENCE: NORM_OF_GRADIENT_<=_GTOL"
	case ConvTargetValue:
		msg = "CONVERGENCE: F_<=_TARGET_VALUE"
	case StopLineSearch:
		msg = "ABNORMAL_TERMINATION_IN_LNSRCH"
	case StopNaN:
		msg = "STOP: NAN RESULT ENCOUNTERED"
	case StopBadObjective:
		msg = "STOP: INITIAL F IS NOT FINITE"
	case StopBoundary:
		msg = "STOP: TRUST REGION BOUNDARY HAS NO ROOT"
	case OverIterLimit:
		msg = "STOP: TOTAL NO. of ITERATIONS REACHED LIMIT"
	default:
		msg = "UNKNOWN TASK"
	}
	log.log("\n%s\n", msg)
}
