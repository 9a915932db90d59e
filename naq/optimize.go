// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package naq

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/curioloop/naq/numdiff"
)

// LogLevel controls the frequency and type of logger output
type LogLevel int

const (
	// LogNoop no output is generated (level < 0)
	LogNoop LogLevel = -1
	// LogLast print only one line at the last iteration
	LogLast LogLevel = 0
	// LogEval print also f and |g| every `level` iterations for any (0 < level < 99)
	LogEval LogLevel = 1
	// LogTrace print details of every iteration except n-vectors
	LogTrace LogLevel = 99
	// LogVerbose print details of every iteration including x (level > 99)
	LogVerbose LogLevel = 100
)

// Logger handles logging output for the optimizer.
// Note the writers must be thread-safe.
type Logger struct {
	Level LogLevel
	Msg   io.Writer // Writer to output log messages.
	Out   io.Writer // Writer for output data.
}

func (l *Logger) enable(level LogLevel) bool {
	return l.Level >= level
}

func (l *Logger) log(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Msg, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Msg, format)
	}
}

func (l *Logger) out(format string, a ...any) {
	if len(a) > 0 {
		_, _ = fmt.Fprintf(l.Out, format, a...)
	} else {
		_, _ = fmt.Fprint(l.Out, format)
	}
}

// Objective evaluates the function value at x.
type Objective func(x []float64) (f float64)

// Gradient evaluates the gradient at x into g.
type Gradient func(x []float64, g []float64)

// Termination specifies the stopping criteria for the optimization algorithm.
type Termination struct {
	// The iteration stop when the number of iteration exceeds limit.
	MaxIterations int
	// The iteration stop when the gradient norm satisfied:
	//   ‖gₖ‖ ≤ 𝚐𝚝𝚘𝚕
	GradTolerance float64
	// The order of the gradient norm (default +∞ for the max-norm).
	GradNormOrder float64
	// The iteration stop when the function value drops below the target.
	// Disabled when zero or NaN.
	TargetValue float64
}

// Problem specifies the problem for NAQ optimizer.
type Problem struct {
	N    int       // The problem dimension
	M    int       // The correction number of BFGS
	Func Objective // Objective function
	Grad Gradient  // Optional analytic gradient (finite differences when nil)

	Model    DirectionModel // Direction model
	Momentum MomentumMode   // Momentum schedule
	Search   SearchPolicy   // Step acceptance rule

	Mu     float64 // Fixed momentum coefficient (MomentumFixed)
	MuClip float64 // Extrapolation clip of the adaptive schedule (default 0.95)
	Gamma  float64 // θ recurrence constant of the adaptive schedule (default 1e-5)

	Eta   float64 // Trust-region acceptance threshold (default 1e-6)
	Delta float64 // Initial trust-region radius (default 1)

	DiffStep float64     // Optional finite-difference absolute step
	Stop     Termination // Stop condition
	Tol      *SearchTol  // Optional line-search config
	Trace    bool        // Record the iterate sequence
}

// New creates a new NAQ optimizer for given problem.
func (p *Problem) New(logger *Logger) (optimizer *Optimizer, err error) {

	if logger == nil {
		logger = new(Logger)
		logger.Level = LogNoop
	}
	if logger.Msg == nil {
		logger.Msg = os.Stdout
	}
	if logger.Out == nil {
		logger.Out = os.Stderr
	}

	n, m := p.N, p.M
	stop := p.Stop

	if stop.GradTolerance == 0 {
		stop.GradTolerance = 1e-5
	}
	if stop.GradNormOrder == 0 {
		stop.GradNormOrder = math.Inf(1)
	}

	mu, muClip, gamma := p.Mu, p.MuClip, p.Gamma
	if muClip == 0 {
		muClip = 0.95
	}
	if gamma == 0 {
		gamma = 1e-5
	}

	eta, delta := p.Eta, p.Delta
	if eta == 0 {
		eta = 1e-6
	}
	if delta == 0 {
		delta = one
	}

	search := p.Search
	if p.Model == ModelTrustRegion {
		search = SearchTrustRatio
	}

	switch {
	case n <= 0:
		err = errors.New("problem dimension must greater than 0")
	case m <= 0:
		err = errors.New("correction number must greater than 0")
	case p.Func == nil:
		err = errors.New("objective function is required")
	case stop.MaxIterations <= 0:
		err = errors.New("max iteration must greater than 1")
	case stop.GradTolerance < zero || math.IsNaN(stop.GradTolerance):
		err = errors.New("gradient tolerance must not less than 0")
	case p.Momentum == MomentumFixed && (mu < zero || mu >= one):
		err = errors.New("fixed momentum must lie in [0,1)")
	case muClip <= zero || muClip >= one:
		err = errors.New("momentum clip must lie in (0,1)")
	case gamma <= zero || gamma >= one:
		err = errors.New("momentum gamma must lie in (0,1)")
	case eta <= zero || eta >= one:
		err = errors.New("trust ratio threshold must lie in (0,1)")
	case delta <= zero || math.IsNaN(delta):
		err = errors.New("trust region radius must greater than 0")
	case p.Model == ModelTwoLoop && search == SearchTrustRatio:
		err = errors.New("trust ratio acceptance requires the trust region model")
	case p.DiffStep < zero || math.IsNaN(p.DiffStep):
		err = errors.New("difference step must not less than 0")
	}
	if err != nil {
		return
	}

	tol := SearchTol{
		Alpha: searchAlpha,
		Beta:  searchBeta,
		Eps:   searchEps,
		Lower: zero,
		Upper: searchNoBnd,
	}
	if p.Tol != nil {
		tol = *p.Tol
	}

	epsilon := math.Nextafter(1, 2) - 1
	optimizer = &Optimizer{
		iterSpec{
			n: n, m: m,
			epsilon:  epsilon,
			model:    p.Model,
			momentum: p.Momentum,
			search:   search,
			mu:       mu,
			muClip:   muClip,
			gamma:    gamma,
			eta:      eta,
			delta0:   delta,
			fun:      p.Func,
			grad:     p.Grad,
			step:     p.DiffStep,
			stop:     stop,
			tol:      tol,
			trace:    p.Trace,
			logger:   *logger,
		},
	}
	return
}

// Optimizer implemented using the NAQ algorithm family.
type Optimizer struct {
	iterSpec
}

// Workspace contains the state and context of the optimization process.
// Given problem dimension n and corrections number m,
// total work space is approximately float64[2×mn + m² + 11×n + 4×m].
type Workspace struct {
	n, m int
	iterCtx
	fd *numdiff.GradSpec
}

// Result contains the final result of the optimization process.
type Result struct {
	OK      bool        // Whether the optimization was converged.
	F       float64     // Final function value.
	X, G    []float64   // Final solution and gradient.
	Trace   [][]float64 // Accepted iterates when Problem.Trace is set.
	Summary             // Optimization summary.
}

// Summary contains a summary of the optimization process.
type Summary struct {
	Status  iterTask // Final task status after optimization.
	NumIter int      // Number of iterations performed.
	NumFun  int      // Number of objective evaluations performed.
	NumGrad int      // Number of analytic gradient evaluations performed.
	NumDiff int      // Number of finite-difference gradient approximations performed.
	NumSkip int      // Number of curvature pairs skipped at insertion.
}

// Init allocate the workspace for NAQ optimizer.
// To avoid race conditions, separate workspaces need to be created for each goroutine.
// But multiple workspaces could share one optimizer.
func (o *Optimizer) Init() *Workspace {
	w := new(Workspace)
	w.n, w.m = o.n, o.m
	w.init(w.n, w.m)
	w.mem.epsilon = o.epsilon
	if o.grad == nil {
		w.fd = &numdiff.GradSpec{
			N:       o.n,
			Method:  numdiff.Forward,
			AbsStep: o.step,
			Object: func(x []float64) float64 {
				w.numFun++
				return o.fun(x)
			},
		}
	}
	return w
}

// Fit runs the optimization process using the initial guess x and workspace w.
func (o *Optimizer) Fit(x []float64, w *Workspace) *Result {

	if len(x) != o.n {
		panic("initial x dimension not match spec")
	}

	if w.n != o.n || w.m != o.m {
		panic("workspace dimension not match spec")
	}

	w.clear()
	w.delta = o.delta0

	switch o.momentum {
	case MomentumFixed:
		w.sched = &fixedMomentum{mu: o.mu}
	case MomentumAdaptive:
		w.sched = &adaptiveMomentum{gamma: o.gamma, clip: o.muClip}
	default:
		w.sched = &fixedMomentum{}
	}
	w.sched.reset()

	loc := iterLoc{
		x: slices.Clone(x),
		g: make([]float64, len(x)),
	}

	driver := iterDriver{
		optimizer: o,
		workspace: w,
		location:  &loc,
		oracle: oracle{
			spec: &o.iterSpec,
			ctx:  &w.iterCtx,
			fd:   w.fd,
		},
	}

	res := driver.mainLoop()
	return &Result{
		OK: res&iterConv > 0,
		X:  loc.x, F: loc.f, G: loc.g,
		Trace: w.trace,
		Summary: Summary{
			Status:  res,
			NumIter: w.iter,
			NumFun:  w.numFun,
			NumGrad: w.numGrad,
			NumDiff: w.numDiff,
			NumSkip: w.skipped,
		},
	}
}

// oracle mediates every function and gradient evaluation,
// keeping the counters consistent with the chosen gradient source.
type oracle struct {
	spec *iterSpec
	ctx  *iterCtx
	fd   *numdiff.GradSpec
}

func (o *oracle) value(x []float64) float64 {
	o.ctx.numFun++
	return o.spec.fun(x)
}

func (o *oracle) gradient(x, g []float64) {
	if o.spec.grad != nil {
		o.ctx.numGrad++
		o.spec.grad(x, g)
		return
	}
	o.ctx.numDiff++
	// Dimensions are fixed at Init, so Grad cannot fail here.
	_ = o.fd.Grad(x, g)
}
