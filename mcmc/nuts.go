/*
Copyright © 2024 the LongBurden authors.
This file is part of LongBurden.

LongBurden is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

LongBurden is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with LongBurden.  If not, see <http://www.gnu.org/licenses/>.
*/

package mcmc

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

// maxDeltaH is the energy error above which a trajectory is considered
// divergent.
const maxDeltaH = 1000

// state is a point in phase space.
type state struct {
	q, p, grad []float64
	lp         float64
}

type sampler struct {
	target   Target
	dim      int
	maxDepth int
	rng      *rand.Rand

	// invMass is the diagonal of the inverse mass matrix.
	invMass []float64
}

func newSampler(target Target, maxDepth int, rng *rand.Rand) *sampler {
	s := &sampler{
		target:   target,
		dim:      target.Dim(),
		maxDepth: maxDepth,
		rng:      rng,
		invMass:  make([]float64, target.Dim()),
	}
	for i := range s.invMass {
		s.invMass[i] = 1
	}
	return s
}

func (s *sampler) momentum() []float64 {
	p := make([]float64, s.dim)
	for i := range p {
		p[i] = s.rng.NormFloat64() / math.Sqrt(s.invMass[i])
	}
	return p
}

func (s *sampler) kinetic(p []float64) float64 {
	var k float64
	for i, v := range p {
		k += s.invMass[i] * v * v
	}
	return 0.5 * k
}

// joint returns the negative Hamiltonian of st.
func (s *sampler) joint(st *state) float64 {
	h := st.lp - s.kinetic(st.p)
	if math.IsNaN(h) {
		return math.Inf(-1)
	}
	return h
}

// leapfrog takes one integration step of size eps from st.
func (s *sampler) leapfrog(st *state, eps float64) *state {
	n := &state{
		q:    make([]float64, s.dim),
		p:    make([]float64, s.dim),
		grad: make([]float64, s.dim),
	}
	for i := range n.p {
		n.p[i] = st.p[i] + 0.5*eps*st.grad[i]
		n.q[i] = st.q[i] + eps*s.invMass[i]*n.p[i]
	}
	n.lp = s.target.LogProb(n.q, n.grad)
	floats.AddScaled(n.p, 0.5*eps, n.grad)
	return n
}

// noUTurn reports whether the trajectory between minus and plus is still
// expanding at both ends.
func (s *sampler) noUTurn(minus, plus *state) bool {
	dq := make([]float64, s.dim)
	floats.SubTo(dq, plus.q, minus.q)
	var a, b float64
	for i, v := range dq {
		a += v * s.invMass[i] * minus.p[i]
		b += v * s.invMass[i] * plus.p[i]
	}
	return a >= 0 && b >= 0
}

// subtree is the result of building a trajectory segment.
type subtree struct {
	minus, plus, proposal *state

	// n is the number of states in the segment inside the slice.
	n int

	// ok is false if the segment made a U-turn or diverged.
	ok        bool
	divergent bool

	alpha  float64
	nAlpha int
}

func (s *sampler) build(st *state, logu float64, dir, depth int, eps, joint0 float64) subtree {
	if depth == 0 {
		n := s.leapfrog(st, float64(dir)*eps)
		h := s.joint(n)
		t := subtree{minus: n, plus: n, proposal: n, nAlpha: 1}
		if logu <= h {
			t.n = 1
		}
		t.ok = logu < maxDeltaH+h
		t.divergent = !t.ok
		t.alpha = math.Min(1, math.Exp(h-joint0))
		return t
	}
	t := s.build(st, logu, dir, depth-1, eps, joint0)
	if !t.ok {
		return t
	}
	var t2 subtree
	if dir < 0 {
		t2 = s.build(t.minus, logu, dir, depth-1, eps, joint0)
		t.minus = t2.minus
	} else {
		t2 = s.build(t.plus, logu, dir, depth-1, eps, joint0)
		t.plus = t2.plus
	}
	if t.n+t2.n > 0 && s.rng.Float64()*float64(t.n+t2.n) < float64(t2.n) {
		t.proposal = t2.proposal
	}
	t.alpha += t2.alpha
	t.nAlpha += t2.nAlpha
	t.divergent = t.divergent || t2.divergent
	t.ok = t2.ok && s.noUTurn(t.minus, t.plus)
	t.n += t2.n
	return t
}

type transitionInfo struct {
	acceptStat float64
	divergent  bool
	maxDepth   bool
	depth      int
}

// transition performs one NUTS iteration from cur with step size eps.
func (s *sampler) transition(cur *state, eps float64) (*state, transitionInfo) {
	start := &state{q: cur.q, p: s.momentum(), grad: cur.grad, lp: cur.lp}
	joint0 := s.joint(start)
	logu := joint0 - s.rng.ExpFloat64()

	minus, plus, next := start, start, start
	n := 1
	ok := true
	var info transitionInfo
	var alpha float64
	var nAlpha int
	for ok && info.depth < s.maxDepth {
		var t subtree
		if s.rng.Float64() < 0.5 {
			t = s.build(minus, logu, -1, info.depth, eps, joint0)
			minus = t.minus
		} else {
			t = s.build(plus, logu, 1, info.depth, eps, joint0)
			plus = t.plus
		}
		if t.ok && s.rng.Float64()*float64(n) < float64(t.n) {
			next = t.proposal
		}
		n += t.n
		alpha += t.alpha
		nAlpha += t.nAlpha
		info.divergent = info.divergent || t.divergent
		ok = t.ok && s.noUTurn(minus, plus)
		info.depth++
	}
	info.maxDepth = ok && info.depth >= s.maxDepth
	if nAlpha > 0 {
		info.acceptStat = alpha / float64(nAlpha)
	}
	return &state{q: next.q, grad: next.grad, lp: next.lp}, info
}

// findStepSize returns a step size for which a single leapfrog step has an
// acceptance probability of roughly one half.
func (s *sampler) findStepSize(st *state) float64 {
	eps := 1.0
	start := &state{q: st.q, p: s.momentum(), grad: st.grad, lp: st.lp}
	h0 := s.joint(start)
	logRatio := func() float64 {
		d := s.joint(s.leapfrog(start, eps)) - h0
		if math.IsNaN(d) {
			return math.Inf(-1)
		}
		return d
	}
	r := logRatio()
	dir := -1.0
	if r > math.Log(0.5) {
		dir = 1
	}
	for i := 0; i < 100 && dir*r > -dir*math.Ln2; i++ {
		next := eps * math.Pow(2, dir)
		if next < 1e-10 || next > 1e7 {
			break
		}
		eps = next
		r = logRatio()
	}
	return eps
}
