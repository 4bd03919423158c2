package instrument

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/large-farva/bolometric-engine/internal/noise"

	"github.com/large-farva/bolometric-engine/internal/projection"
	"github.com/large-farva/bolometric-engine/internal/response"
	"github.com/large-farva/bolometric-engine/internal/sampling"
)

// Acquire simulates the bolometer timelines of a sky map in W/m²/Hz/sr.
// sky holds op.Cols() pixels of op.Kind().Components() values each. The
// chain is: projection, half-wave plate, polarizer grid, detector,
// filter, aperture and transmission scalings, bolometer time response.
func (in *Instrument) Acquire(op projection.Operator, s *sampling.Sampling, sky []float64) (response.TOD, error) {
	if op.NSamples() != s.Len() || op.NDetectors() != in.Detectors.Len() {
		return response.TOD{}, errors.New("instrument: operator does not match the sampling or the detectors")
	}
	kind := op.Kind()
	ncomp := kind.Components()
	if int64(len(sky)) != op.Cols()*int64(ncomp) {
		return response.TOD{}, fmt.Errorf("instrument: sky holds %d values, want %d", len(sky), op.Cols()*int64(ncomp))
	}

	tod := response.NewTOD(op.NDetectors(), op.NSamples(), ncomp)
	if err := op.Apply(sky, tod.Data); err != nil {
		return response.TOD{}, err
	}
	if err := (response.HWP{Angles: s.HWPAngles()}).Apply(kind, tod); err != nil {
		return response.TOD{}, err
	}
	power, err := response.Polarizer{Present: in.Config.Instrument.Polarizer, Grid: in.Detectors.Grids()}.Apply(kind, tod)
	if err != nil {
		return response.TOD{}, err
	}

	ops := in.Operators()
	scalar := ops.ApertureScale * ops.FilterScale
	for d := 0; d < power.NDetectors; d++ {
		w := scalar * ops.DetectorWeights[d] * ops.Transmission[d]
		row := power.Data[d*power.NSamples : (d+1)*power.NSamples]
		for t := range row {
			row[t] *= w
		}
	}

	tau := make([]float64, power.NDetectors)
	for i := range tau {
		tau[i] = in.Config.Detectors.Tau
	}
	if err := (response.BolometerResponse{Tau: tau, Period: s.Period}).Apply(power); err != nil {
		return response.TOD{}, err
	}
	return power, nil
}

// Noise draws one realisation of the timeline noise over s: the intrinsic
// detector noise and, with photon, the white photon noise of the scene
// environment. Detector d draws from its own streams of seed, so a seed
// always gives the same timelines.
func (in *Instrument) Noise(ctx context.Context, s *sampling.Sampling, seed uint64, photon bool) (response.TOD, error) {
	if !(s.Period > 0) {
		return response.TOD{}, errors.New("instrument: noise needs a sampling period > 0")
	}
	var photonNEP []float64
	if photon {
		rep, err := in.ComputeNEP(ctx, true, nil)
		if err != nil {
			return response.TOD{}, err
		}
		photonNEP = rep.NEP
	}

	tod := response.NewTOD(in.Detectors.Len(), s.Len(), 1)
	for d := 0; d < tod.NDetectors; d++ {
		row := tod.Data[d*tod.NSamples : (d+1)*tod.NSamples]
		if err := in.DetectorNoise.Timeline(rand.NewPCG(seed, uint64(2*d)), s.Period, row); err != nil {
			return response.TOD{}, fmt.Errorf("instrument: detector %d: %w", d, err)
		}
		if photon {
			g := distuv.Normal{Sigma: noise.WhiteSigma(photonNEP[d], s.Period), Src: rand.NewPCG(seed, uint64(2*d+1))}
			for t := range row {
				row[t] += g.Rand()
			}
		}
	}
	return tod, nil
}
