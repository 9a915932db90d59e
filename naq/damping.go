// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package naq

const (
	dampGradThresh = 1e-2
	dampConstFar   = 2.0
	dampConstNear  = 100.0
)

// dampCurvature applies the global-convergence correction
//
//	y ← y + ζ·‖g‖·s
//
// where ζ = 𝚌𝚘𝚗𝚜𝚝 when sᵀy ≥ 0 and ζ = 𝚌𝚘𝚗𝚜𝚝 - sᵀy/(‖s‖²·‖g‖)
// otherwise, with 𝚌𝚘𝚗𝚜𝚝 = 2 far from a stationary point (‖g‖ > 10⁻²)
// and 100 near one. The correction keeps the secant condition sᵀy > 0
// well-posed under momentum shifts and in non-convex regions, at the cost
// of a small uniform bias. It is applied to every pair, before the
// insertion test.
func dampCurvature(s, y []float64, gnorm float64) {

	n := len(s)
	if len(y) != n {
		panic("bound check error")
	}

	c := dampConstFar
	if gnorm <= dampGradThresh {
		c = dampConstNear
	}

	zeta := c
	if sy := ddot(n, s, 1, y, 1); sy < zero {
		ss := ddot(n, s, 1, s, 1)
		zeta = c - sy/(ss*gnorm)
	}

	daxpy(n, zeta*gnorm, s, 1, y, 1)
}
