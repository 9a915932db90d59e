// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package naq

import (
	"math"
	"math/rand"
	"os"
	"testing"
)

func rosenbrock(x []float64) (f float64) {
	for i := 0; i < len(x)-1; i++ {
		f += 100*math.Pow(x[i+1]-x[i]*x[i], 2) + math.Pow(1-x[i], 2)
	}
	return
}

func rosenbrockGrad(x, g []float64) {
	n := len(x)
	for i := range g {
		g[i] = 0
	}
	for i := 0; i < n-1; i++ {
		t := x[i+1] - x[i]*x[i]
		g[i] += -400*t*x[i] - 2*(1-x[i])
		g[i+1] += 200 * t
	}
}

func fitRosenbrock(t *testing.T, p Problem, x0 []float64) *Result {
	t.Helper()

	f, _ := os.Open(os.DevNull)
	log := &Logger{Level: LogVerbose, Msg: f, Out: f}

	s, e := p.New(log)
	if e != nil {
		t.Fatal(e)
	}

	w := s.Init()
	r := s.Fit(x0, w)

	switch {
	case !r.OK:
		t.Fatal("not converge:", r.Status)
	case math.Abs(r.X[0]-1) > 1e-3 || math.Abs(r.X[len(r.X)-1]-1) > 1e-3:
		t.Fatal("wrong minimizer")
	}
	return r
}

func TestRosenbrockArmijo(t *testing.T) {
	r := fitRosenbrock(t, Problem{
		N: 2, M: 10,
		Func:     rosenbrock,
		Grad:     rosenbrockGrad,
		Momentum: MomentumAdaptive,
		Search:   SearchArmijo,
		Stop:     Termination{MaxIterations: 200},
	}, []float64{-1.2, 1.0})

	switch {
	case r.Status != ConvGradNorm:
		t.Fatal("expect gradient norm convergence")
	case r.NumIter > 200:
		t.Fatal("too many iterations")
	case vecnorm(r.G, math.Inf(1)) > 1e-5:
		t.Fatal("final gradient norm above tolerance")
	}
}

func TestRosenbrockWolfe(t *testing.T) {
	fitRosenbrock(t, Problem{
		N: 2, M: 10,
		Func:     rosenbrock,
		Grad:     rosenbrockGrad,
		Momentum: MomentumAdaptive,
		Search:   SearchWolfe,
		Stop:     Termination{MaxIterations: 2000},
	}, []float64{-1.2, 1.0})
}

func TestRosenbrockExplicit(t *testing.T) {
	fitRosenbrock(t, Problem{
		N: 2, M: 10,
		Func:     rosenbrock,
		Grad:     rosenbrockGrad,
		Momentum: MomentumAdaptive,
		Search:   SearchExplicit,
		Stop:     Termination{MaxIterations: 3000},
	}, []float64{-1.2, 1.0})
}

func TestRosenbrockFixedMomentum(t *testing.T) {
	fitRosenbrock(t, Problem{
		N: 2, M: 10,
		Func:     rosenbrock,
		Grad:     rosenbrockGrad,
		Momentum: MomentumFixed,
		Mu:       0.8,
		Search:   SearchArmijo,
		Stop:     Termination{MaxIterations: 3000},
	}, []float64{-1.2, 1.0})
}

func TestRosenbrockNoMomentum(t *testing.T) {
	fitRosenbrock(t, Problem{
		N: 2, M: 10,
		Func:   rosenbrock,
		Grad:   rosenbrockGrad,
		Search: SearchWolfe,
		Stop:   Termination{MaxIterations: 2000},
	}, []float64{-1.2, 1.0})
}

func TestRosenbrockTrustRegion(t *testing.T) {
	fitRosenbrock(t, Problem{
		N: 2, M: 10,
		Func:     rosenbrock,
		Grad:     rosenbrockGrad,
		Model:    ModelTrustRegion,
		Momentum: MomentumAdaptive,
		Stop:     Termination{MaxIterations: 3000},
	}, []float64{-1.2, 1.0})
}

func TestRosenbrockHighDim(t *testing.T) {
	const n = 10
	x0 := make([]float64, n)
	for i := range x0 {
		x0[i] = 3
	}
	fitRosenbrock(t, Problem{
		N: n, M: 10,
		Func:     rosenbrock,
		Grad:     rosenbrockGrad,
		Momentum: MomentumAdaptive,
		Search:   SearchWolfe,
		Stop:     Termination{MaxIterations: 5000},
	}, x0)
}

func TestQuadratic(t *testing.T) {

	// f = ½Σ (i+1)xᵢ² has its minimum at the origin
	const n = 6
	fun := func(x []float64) (f float64) {
		for i, v := range x {
			f += 0.5 * float64(i+1) * v * v
		}
		return
	}
	grad := func(x, g []float64) {
		for i, v := range x {
			g[i] = float64(i+1) * v
		}
	}

	p := Problem{
		N: n, M: n,
		Func:   fun,
		Grad:   grad,
		Search: SearchWolfe,
		Stop:   Termination{MaxIterations: 100},
	}
	s, e := p.New(nil)
	if e != nil {
		t.Fatal(e)
	}

	x0 := []float64{1, -2, 3, -4, 5, -6}
	r := s.Fit(x0, s.Init())
	switch {
	case !r.OK:
		t.Fatal("not converge:", r.Status)
	case r.F > 1e-9:
		t.Fatal("objective too large")
	}
}

// With full memory (m = n) the iteration behaves like a conjugate
// direction method on a quadratic and converges in about n steps.
func TestQuadraticRandomSPD(t *testing.T) {

	rng := rand.New(rand.NewSource(7))

	for _, n := range []int{5, 20, 50} {

		// B = MᵀM/n + I is well conditioned and positive definite
		mr := make([]float64, n*n)
		for i := range mr {
			mr[i] = rng.NormFloat64()
		}
		b := make([]float64, n*n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				v := zero
				for k := 0; k < n; k++ {
					v += mr[k*n+i] * mr[k*n+j]
				}
				b[i*n+j] = v / float64(n)
			}
			b[i*n+i] += one
		}

		bx := func(x, g []float64) {
			for i := 0; i < n; i++ {
				g[i] = ddot(n, b[i*n:(i+1)*n], 1, x, 1)
			}
		}

		p := Problem{
			N: n, M: n,
			Func: func(x []float64) float64 {
				g := make([]float64, n)
				bx(x, g)
				return half * ddot(n, x, 1, g, 1)
			},
			Grad:   bx,
			Search: SearchWolfe,
			Stop:   Termination{MaxIterations: 200},
		}
		s, e := p.New(nil)
		if e != nil {
			t.Fatal(e)
		}

		x0 := make([]float64, n)
		for i := range x0 {
			x0[i] = 1 + rng.Float64()
		}

		r := s.Fit(x0, s.Init())
		switch {
		case !r.OK:
			t.Fatal("not converge:", r.Status, "n =", n)
		case r.NumIter > n+25:
			t.Fatal("too many iterations:", r.NumIter, "n =", n)
		case vecnorm(r.G, math.Inf(1)) > 1e-5:
			t.Fatal("final gradient norm above tolerance")
		}
	}
}

func TestFiniteDifference(t *testing.T) {

	p := Problem{
		N: 2, M: 10,
		Func:     rosenbrock,
		Momentum: MomentumAdaptive,
		Search:   SearchArmijo,
		Stop:     Termination{MaxIterations: 2000, GradTolerance: 1e-4},
	}
	s, e := p.New(nil)
	if e != nil {
		t.Fatal(e)
	}

	r := s.Fit([]float64{-1.2, 1.0}, s.Init())
	switch {
	case !r.OK:
		t.Fatal("not converge:", r.Status)
	case math.Abs(r.X[0]-1) > 1e-2 || math.Abs(r.X[1]-1) > 1e-2:
		t.Fatal("wrong minimizer")
	case r.NumDiff == 0 || r.NumGrad != 0:
		t.Fatal("unexpected gradient accounting")
	}
}

func TestTargetValueStop(t *testing.T) {

	p := Problem{
		N: 2, M: 10,
		Func:     rosenbrock,
		Grad:     rosenbrockGrad,
		Momentum: MomentumAdaptive,
		Search:   SearchWolfe,
		Stop: Termination{
			MaxIterations: 2000,
			GradTolerance: 1e-12,
			TargetValue:   1e-3,
		},
	}
	s, e := p.New(nil)
	if e != nil {
		t.Fatal(e)
	}

	r := s.Fit([]float64{-1.2, 1.0}, s.Init())
	switch {
	case !r.OK:
		t.Fatal("not converge:", r.Status)
	case r.Status != ConvTargetValue:
		t.Fatal("expect target value stop")
	case r.F >= 1e-3:
		t.Fatal("objective above target")
	}
}

func TestIterationLimit(t *testing.T) {

	p := Problem{
		N: 2, M: 10,
		Func:   rosenbrock,
		Grad:   rosenbrockGrad,
		Search: SearchArmijo,
		Stop:   Termination{MaxIterations: 3},
	}
	s, e := p.New(nil)
	if e != nil {
		t.Fatal(e)
	}

	r := s.Fit([]float64{-1.2, 1.0}, s.Init())
	switch {
	case r.OK:
		t.Fatal("expect no convergence")
	case r.Status != OverIterLimit:
		t.Fatal("expect iteration limit stop")
	case r.NumIter != 3:
		t.Fatal("unexpected iteration count")
	}
}

func TestTraceRecording(t *testing.T) {

	p := Problem{
		N: 2, M: 10,
		Func:     rosenbrock,
		Grad:     rosenbrockGrad,
		Momentum: MomentumAdaptive,
		Search:   SearchArmijo,
		Stop:     Termination{MaxIterations: 2000},
		Trace:    true,
	}
	s, e := p.New(nil)
	if e != nil {
		t.Fatal(e)
	}

	r := s.Fit([]float64{-1.2, 1.0}, s.Init())
	switch {
	case !r.OK:
		t.Fatal("not converge:", r.Status)
	case len(r.Trace) != r.NumIter+1:
		t.Fatal("unexpected trace length")
	}

	last := r.Trace[len(r.Trace)-1]
	if last[0] != r.X[0] || last[1] != r.X[1] {
		t.Fatal("trace must end at the solution")
	}
}

func TestWorkspaceReuse(t *testing.T) {

	p := Problem{
		N: 2, M: 10,
		Func:     rosenbrock,
		Grad:     rosenbrockGrad,
		Momentum: MomentumAdaptive,
		Search:   SearchWolfe,
		Stop:     Termination{MaxIterations: 2000},
	}
	s, e := p.New(nil)
	if e != nil {
		t.Fatal(e)
	}

	w := s.Init()
	r1 := s.Fit([]float64{-1.2, 1.0}, w)
	r2 := s.Fit([]float64{-1.2, 1.0}, w)
	switch {
	case !r1.OK || !r2.OK:
		t.Fatal("not converge")
	case r1.NumIter != r2.NumIter || r1.F != r2.F:
		t.Fatal("workspace reuse must be deterministic")
	}
}

func TestProblemCheck(t *testing.T) {

	valid := Problem{
		N: 2, M: 5,
		Func: rosenbrock,
		Stop: Termination{MaxIterations: 10},
	}
	if _, e := valid.New(nil); e != nil {
		t.Fatal(e)
	}

	cases := []func(p *Problem){
		func(p *Problem) { p.N = 0 },
		func(p *Problem) { p.M = 0 },
		func(p *Problem) { p.Func = nil },
		func(p *Problem) { p.Stop.MaxIterations = 0 },
		func(p *Problem) { p.Stop.GradTolerance = -1 },
		func(p *Problem) { p.Momentum = MomentumFixed; p.Mu = 1 },
		func(p *Problem) { p.MuClip = 2 },
		func(p *Problem) { p.Gamma = 2 },
		func(p *Problem) { p.Eta = 2 },
		func(p *Problem) { p.Delta = -1 },
		func(p *Problem) { p.Search = SearchTrustRatio },
		func(p *Problem) { p.DiffStep = -1 },
	}
	for i, alter := range cases {
		p := valid
		alter(&p)
		if _, e := p.New(nil); e == nil {
			t.Fatal("expect problem error at", i)
		}
	}

	// the trust-region model always uses the ratio test
	p := valid
	p.Model = ModelTrustRegion
	p.Search = SearchArmijo
	s, e := p.New(nil)
	switch {
	case e != nil:
		t.Fatal(e)
	case s.search != SearchTrustRatio:
		t.Fatal("expect forced ratio acceptance")
	}
}

func TestFitPanics(t *testing.T) {

	p := Problem{
		N: 2, M: 5,
		Func: rosenbrock,
		Stop: Termination{MaxIterations: 10},
	}
	s, _ := p.New(nil)
	w := s.Init()

	expectPanic := func(fn func()) {
		defer func() {
			if recover() == nil {
				t.Fatal("expect panic")
			}
		}()
		fn()
	}

	expectPanic(func() { s.Fit([]float64{1}, w) })

	q := Problem{
		N: 3, M: 5,
		Func: rosenbrock,
		Stop: Termination{MaxIterations: 10},
	}
	r, _ := q.New(nil)
	expectPanic(func() { r.Fit([]float64{1, 1, 1}, w) })
}
