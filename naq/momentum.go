// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package naq

import "math"

// momentumSchedule yields the extrapolation coefficient μₖ of the current
// iteration. reset restarts the schedule after a rejected trust-region
// step.
type momentumSchedule interface {
	next() (mu float64)
	reset()
}

type fixedMomentum struct {
	mu float64
}

func (s *fixedMomentum) next() float64 { return s.mu }
func (s *fixedMomentum) reset()        {}

// adaptiveMomentum runs the Nesterov θ recurrence
//
//	θₖ₊₁ = ½[(γ - θₖ²) + √((γ - θₖ²)² + 4θₖ²)]
//	μₖ   = 𝚖𝚒𝚗( θₖ(1-θₖ) / (θₖ² + θₖ₊₁), 𝚌𝚕𝚒𝚙 )
//
// θ₀ = 1 makes μ₀ exactly zero: there is no history to extrapolate from
// on the first step. θₖ decreases towards 0 which drives μₖ towards 1,
// subject to the clip.
type adaptiveMomentum struct {
	gamma float64
	clip  float64
	theta float64
}

func (s *adaptiveMomentum) next() float64 {
	t := s.theta
	d := s.gamma - t*t
	tn := half * (d + math.Sqrt(d*d+4*t*t))
	mu := math.Min(t*(one-t)/(t*t+tn), s.clip)
	s.theta = tn
	return mu
}

func (s *adaptiveMomentum) reset() { s.theta = one }
