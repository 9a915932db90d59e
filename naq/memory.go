// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package naq

// corrections is a fixed-capacity ring buffer of curvature pairs (sᵢ, yᵢ)
// with the inner products sᵢᵀyᵢ and yᵢᵀyᵢ cached per slot.
//
// Pairs are ordered by recency with index 0 the oldest. Only the iteration
// driver pushes; the two-loop recursion and the trust-region solver are
// read-only consumers. A pair enters the buffer only when the curvature
// condition
//
//	sᵀy > ε·‖s‖·‖y‖
//
// holds, so every consumer may divide by sᵢᵀyᵢ without a zero check.
type corrections struct {
	n, m    int
	epsilon float64

	s, y   []float64 // m slots of n elements each
	sy, yy []float64 // cached sᵢᵀyᵢ and yᵢᵀyᵢ per slot

	head, col int // ring start and pair count
	updates   int // total accepted pairs over the run
}

func (c *corrections) init(n, m int) {
	c.n, c.m = n, m
	c.s = make([]float64, n*m)
	c.y = make([]float64, n*m)
	c.sy = make([]float64, m)
	c.yy = make([]float64, m)
}

func (c *corrections) reset() {
	c.head, c.col, c.updates = 0, 0, 0
}

func (c *corrections) len() int {
	return c.col
}

// pair returns the i-th stored pair with i = 0 the oldest.
func (c *corrections) pair(i int) (s, y []float64) {
	if i < 0 || i >= c.col {
		panic("bound check error")
	}
	k := ((c.head + i) % c.m) * c.n
	return c.s[k : k+c.n], c.y[k : k+c.n]
}

// dots returns the cached sᵢᵀyᵢ and yᵢᵀyᵢ of the i-th stored pair.
func (c *corrections) dots(i int) (sy, yy float64) {
	if i < 0 || i >= c.col {
		panic("bound check error")
	}
	k := (c.head + i) % c.m
	return c.sy[k], c.yy[k]
}

// push stores the pair (s, y), evicting the oldest one when the buffer is
// full. The pair is dropped and push reports false when the curvature
// condition fails, which is an expected outcome and not an error.
func (c *corrections) push(s, y []float64) bool {

	n := c.n
	if len(s) != n || len(y) != n {
		panic("bound check error")
	}

	sy := ddot(n, s, 1, y, 1)
	if sy <= c.epsilon*dnrm2(n, s, 1)*dnrm2(n, y, 1) {
		return false
	}

	var slot int
	if c.col < c.m {
		slot = (c.head + c.col) % c.m
		c.col++
	} else {
		slot = c.head
		c.head = (c.head + 1) % c.m
	}

	dcopy(n, s, 1, c.s[slot*n:], 1)
	dcopy(n, y, 1, c.y[slot*n:], 1)
	c.sy[slot] = sy
	c.yy[slot] = ddot(n, y, 1, y, 1)
	c.updates++
	return true
}

// crossDot returns sᵢᵀyⱼ for stored pairs i, j (recency order).
// The trust-region solver uses it to form the compact middle matrix.
func (c *corrections) crossDot(i, j int) float64 {
	s, _ := c.pair(i)
	_, y := c.pair(j)
	return ddot(c.n, s, 1, y, 1)
}
