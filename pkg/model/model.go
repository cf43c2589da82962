// Package model holds the demographic and mutational parameters of the
// coalescent HMM: the discretized time grid, per-interval population sizes,
// the recombination rate rho, and the mutation rate mu. Ages elsewhere in
// the codebase are indices into the time grid.
package model

import (
	"fmt"
	"math"
)

// minTimeFrac scales the first non-zero grid time into the floor applied to
// branch lengths, so no branch ever has zero length.
const minTimeFrac = 1e-3

// ArgModel is the parameter container consumed by the threading engine.
type ArgModel struct {
	// Times is the ordered time grid t[0] < t[1] < ... < t[ntimes-1].
	Times []float64

	// Popsizes holds one diploid population size per time interval.
	Popsizes []float64

	// Rho is the recombination rate per site per generation.
	Rho float64

	// Mu is the mutation rate per site per generation.
	Mu float64
}

// New builds a model over a log-spaced time grid with a constant
// population size.
func New(ntimes int, maxtime, popsize, rho, mu float64) *ArgModel {
	m := &ArgModel{
		Times:    MakeTimes(maxtime, ntimes),
		Popsizes: make([]float64, ntimes),
		Rho:      rho,
		Mu:       mu,
	}
	for i := range m.Popsizes {
		m.Popsizes[i] = popsize
	}

	return m
}

// NTimes returns the number of points in the time grid.
func (m *ArgModel) NTimes() int {
	return len(m.Times)
}

// Mintime returns the branch-length floor derived from the first non-zero
// grid time.
func (m *ArgModel) Mintime() float64 {
	if len(m.Times) < 2 {
		return minTimeFrac
	}

	return m.Times[1] * minTimeFrac
}

// RemovedRootTime is the sentinel age assigned to the root of a removed
// thread path during internal threading.
func (m *ArgModel) RemovedRootTime() int {
	return m.NTimes() + 1
}

// GetLocalModel copies the parameters in effect at genomic position pos
// into out. The model is currently homogeneous along the chromosome, so
// every position yields the same parameters.
func (m *ArgModel) GetLocalModel(pos int, out *ArgModel) {
	out.Times = m.Times
	out.Popsizes = m.Popsizes
	out.Rho = m.Rho
	out.Mu = m.Mu
}

// Validate checks the parameter ranges.
func (m *ArgModel) Validate() error {
	if len(m.Times) < 2 {
		return fmt.Errorf("time grid needs at least 2 points, got %d", len(m.Times))
	}

	for i := 1; i < len(m.Times); i++ {
		if m.Times[i] <= m.Times[i-1] {
			return fmt.Errorf("time grid not increasing at index %d", i)
		}
	}

	if len(m.Popsizes) != len(m.Times) {
		return fmt.Errorf("popsizes length %d != ntimes %d", len(m.Popsizes), len(m.Times))
	}

	for i, n := range m.Popsizes {
		if n <= 0 {
			return fmt.Errorf("popsize at interval %d is not positive", i)
		}
	}

	if m.Rho < 0 || m.Mu < 0 {
		return fmt.Errorf("rates must be non-negative (rho=%g, mu=%g)", m.Rho, m.Mu)
	}

	return nil
}

// MakeTimes returns an ntimes-point grid from 0 to maxtime with
// logarithmically increasing spacing, so recent history is resolved finely
// and ancient history coarsely.
func MakeTimes(maxtime float64, ntimes int) []float64 {
	const delta = 0.01

	times := make([]float64, ntimes)
	for i := 0; i < ntimes; i++ {
		frac := float64(i) / float64(ntimes-1)
		times[i] = (math.Exp(frac*math.Log(1+delta*maxtime)) - 1) / delta
	}
	// pin endpoints exactly
	times[0] = 0
	times[ntimes-1] = maxtime

	return times
}
