// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package naq

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// trsEps terminates the CG iteration once the residual is negligible.
	trsEps = 1e-10
	// trsTiny classifies dᵀBd at or below this value as negative curvature.
	trsTiny = 1e-12
)

// trustRegion solves the subproblem
//
//	𝚖𝚒𝚗 m(p) = gᵀp + ½pᵀBp   𝚜.𝚝. ‖p‖ ≤ δ
//
// with the Steihaug conjugate-gradient method. B is never formed: products
// B·d use the compact representation
//
//	B·d = Y·(M⁻¹·(Yᵀd))    M = D + L + Lᵀ
//
// with D the diagonal of sᵢᵀyᵢ and L the strictly lower triangle of
// sᵢᵀyⱼ (j < i) over the stored curvature pairs. M is symmetric but
// indefinite in general, so it is factorized by LU with partial pivoting
// once per memory change and reused across CG iterations.
type trustRegion struct {
	n, m int

	z, r, d, bd []float64 // n-vectors of the CG iteration
	u, w        []float64 // m-vectors: Yᵀd and the M⁻¹ solve

	lu    mat.LU
	cols  int
	stamp int
	valid bool
}

func (tr *trustRegion) init(n, m int) {
	tr.n, tr.m = n, m
	tr.z = make([]float64, n)
	tr.r = make([]float64, n)
	tr.d = make([]float64, n)
	tr.bd = make([]float64, n)
	tr.u = make([]float64, m)
	tr.w = make([]float64, m)
}

func (tr *trustRegion) invalidate() {
	tr.valid = false
	tr.cols = 0
}

// factor rebuilds and factorizes the middle matrix M from the current
// memory. A no-op when the memory is unchanged since the last call.
func (tr *trustRegion) factor(mem *corrections) errInfo {

	if tr.valid && tr.stamp == mem.updates {
		return ok
	}

	k := mem.len()
	tr.cols = k
	tr.stamp = mem.updates
	tr.valid = true
	if k == 0 {
		return ok
	}

	mm := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		sy, _ := mem.dots(i)
		mm.Set(i, i, sy)
		for j := 0; j < i; j++ {
			l := mem.crossDot(i, j)
			mm.Set(i, j, l)
			mm.Set(j, i, l)
		}
	}

	tr.lu.Factorize(mm)
	if det := tr.lu.Det(); det == 0 || math.IsNaN(det) {
		tr.valid = false
		return errSingularM
	}
	return ok
}

// bprod computes out = B·v through the factorized compact representation.
// With an empty memory B = 0.
func (tr *trustRegion) bprod(mem *corrections, v, out []float64) {

	n, k := tr.n, tr.cols
	if len(v) != n || len(out) != n {
		panic("bound check error")
	}

	dzero(out)
	if k == 0 {
		return
	}

	for i := 0; i < k; i++ {
		_, y := mem.pair(i)
		tr.u[i] = ddot(n, y, 1, v, 1)
	}

	uv := mat.NewVecDense(k, tr.u[:k])
	wv := mat.NewVecDense(k, tr.w[:k])
	// M is non-singular by factor; a large condition number only degrades
	// the model and is caught by the outer ratio test.
	_ = tr.lu.SolveVecTo(wv, false, uv)

	for i := 0; i < k; i++ {
		_, y := mem.pair(i)
		daxpy(n, tr.w[i], y, 1, out, 1)
	}
}

// solve returns p with ‖p‖ ≤ δ approximately minimizing the quadratic
// model. The CG loop terminates inside the region on a small residual, or
// on the boundary when it meets negative curvature or steps outside.
func (tr *trustRegion) solve(mem *corrections, g []float64, delta float64, p []float64) errInfo {

	n := tr.n
	if len(g) != n || len(p) != n {
		panic("bound check error")
	}

	z, r, d, bd := tr.z, tr.r, tr.d, tr.bd

	dzero(z)
	dcopy(n, g, 1, r, 1)
	for i := range d {
		d[i] = -g[i]
	}

	if dnrm2(n, r, 1) < trsEps {
		dzero(p)
		return ok
	}

	rr := ddot(n, r, 1, r, 1)
	for j := 0; j <= 2*n; j++ {

		tr.bprod(mem, d, bd)
		dBd := ddot(n, d, 1, bd, 1)

		if dBd <= trsTiny {
			// Negative (or vanishing) curvature: follow d to the boundary.
			return tr.boundary(z, d, delta, p)
		}

		alpha := rr / dBd

		dcopy(n, z, 1, p, 1)
		daxpy(n, alpha, d, 1, p, 1)
		if dnrm2(n, p, 1) >= delta {
			return tr.boundary(z, d, delta, p)
		}
		dcopy(n, p, 1, z, 1)

		daxpy(n, alpha, bd, 1, r, 1)
		rrNew := ddot(n, r, 1, r, 1)
		if math.Sqrt(rrNew) < trsEps {
			return ok // p already holds z
		}

		beta := rrNew / rr
		rr = rrNew
		dscal(n, beta, d, 1)
		daxpy(n, -one, r, 1, d, 1)
	}

	// Rounding stalled the recurrence; the interior iterate z is feasible.
	dcopy(n, z, 1, p, 1)
	return ok
}

// boundary intersects the ray z + τd with the trust-region sphere:
//
//	‖d‖²τ² + 2(zᵀd)τ + (‖z‖² - δ²) = 0
//
// taking the larger non-negative root. ‖z‖ ≤ δ holds as a loop invariant
// of solve, so a missing root means the invariant was broken upstream and
// must surface, not be swallowed.
func (tr *trustRegion) boundary(z, d []float64, delta float64, p []float64) errInfo {

	n := tr.n
	a := ddot(n, d, 1, d, 1)
	b := two * ddot(n, z, 1, d, 1)
	c := ddot(n, z, 1, z, 1) - delta*delta

	if a == zero {
		return errBoundaryRoot
	}
	disc := b*b - 4*a*c
	if disc < zero {
		return errBoundaryRoot
	}
	tau := (-b + math.Sqrt(disc)) / (2 * a)
	if tau < zero {
		return errBoundaryRoot
	}

	dcopy(n, z, 1, p, 1)
	daxpy(n, tau, d, 1, p, 1)
	return ok
}
