// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package naq

import "math"

// The initial inverse-Hessian scaling when the memory is empty keeps the
// very first step short instead of taking a raw gradient step.
const twoLoopInitScale = 1e-10

// twoLoopDirection computes r ≈ Hg without materializing H:
//
//	q ← g
//	aᵢ ← sᵢᵀq / sᵢᵀyᵢ ; q ← q - aᵢyᵢ     (newest to oldest)
//	r ← γ₀q                               γ₀ = (Σ sᵢᵀyᵢ/yᵢᵀyᵢ) / k
//	b ← yᵢᵀr / yᵢᵀsᵢ ; r ← r + (aᵢ-b)sᵢ  (oldest to newest)
//
// The caller negates r for a descent direction. The sᵢᵀyᵢ divisors are
// safe because the memory only stores pairs passing the curvature
// condition.
func twoLoopDirection(g []float64, mem *corrections, alpha, r []float64) {

	n, k := mem.n, mem.len()
	if len(g) != n || len(r) != n || len(alpha) < k {
		panic("bound check error")
	}

	dcopy(n, g, 1, r, 1)

	for i := k - 1; i >= 0; i-- {
		s, y := mem.pair(i)
		sy, _ := mem.dots(i)
		a := ddot(n, s, 1, r, 1) / sy
		alpha[i] = a
		daxpy(n, -a, y, 1, r, 1)
	}

	if k > 0 {
		gamma := zero
		for i := 0; i < k; i++ {
			sy, yy := mem.dots(i)
			gamma += sy / yy
		}
		dscal(n, gamma/float64(k), r, 1)
	} else {
		dscal(n, twoLoopInitScale, r, 1)
	}

	for i := 0; i < k; i++ {
		s, y := mem.pair(i)
		sy, _ := mem.dots(i)
		b := ddot(n, y, 1, r, 1) / sy
		daxpy(n, alpha[i]-b, s, 1, r, 1)
	}
}

// safeguardDirection rescales p to unit norm when its norm overflowed
// or turned NaN on a badly scaled problem. A finite direction is left
// untouched.
func safeguardDirection(p []float64) {
	n := len(p)
	nrm := dnrm2(n, p, 1)
	if !math.IsNaN(nrm) && !math.IsInf(nrm, 0) {
		return
	}
	amax := zero
	for i, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			p[i] = zero
		} else if a := math.Abs(v); a > amax {
			amax = a
		}
	}
	if amax == zero {
		return
	}
	dscal(n, one/amax, p, 1)
	if nrm = dnrm2(n, p, 1); nrm > zero {
		dscal(n, one/nrm, p, 1)
	}
}
