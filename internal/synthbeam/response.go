package synthbeam

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/large-farva/bolometric-engine/internal/geometry"
	"github.com/large-farva/bolometric-engine/internal/healpix"
	"github.com/large-farva/bolometric-engine/internal/scene"
)

// DefaultThetaMax is the zenith angle past which a Field leaves the beam
// at zero.
const DefaultThetaMax = 45 * math.Pi / 180

// ErrNoOpenHorn is returned by Field.Response when every horn is closed.
var ErrNoOpenHorn = errors.New("synthbeam: no open horn")

// Field computes synthetic beams from the superposition of the fields
// radiated by every open horn. It is the reference the peak model
// approximates and costs O(detectors × pixels × horns).
type Field struct {
	Horns     *geometry.HornArray
	Primary   geometry.Beam
	Secondary geometry.Beam
	Nu        float64 // Hz
	Bandwidth float64 // Hz

	// ThetaMax bounds the zenith of the pixels evaluated; <= 0 uses
	// DefaultThetaMax.
	ThetaMax float64
	// Workers is the size of the worker pool; <= 0 uses GOMAXPROCS.
	Workers int
}

type source struct {
	col   int64
	u     r3.Vec
	power float64 // bandwidth × primary beam × horn area
}

// Response returns, for each detector, the power it collects from a unit
// spectral irradiance [W/m²/Hz] in every column of sc. Rows have sc.Len()
// entries; columns beyond ThetaMax are 0. The context is checked between
// detectors.
func (f Field) Response(ctx context.Context, sc *scene.Scene, dets []geometry.Detector) ([][]float64, error) {
	if sc == nil {
		return nil, errors.New("synthbeam: scene is required")
	}
	if f.Horns == nil || f.Primary == nil || f.Secondary == nil {
		return nil, errors.New("synthbeam: horns and both beams are required")
	}
	if !(f.Nu > 0) || !(f.Bandwidth > 0) {
		return nil, fmt.Errorf("synthbeam: frequency %g and bandwidth %g must be > 0", f.Nu, f.Bandwidth)
	}

	var centers []r3.Vec
	for _, h := range f.Horns.Horns {
		if h.Open {
			centers = append(centers, h.Center)
		}
	}
	if len(centers) == 0 {
		return nil, ErrNoOpenHorn
	}

	thetaMax := f.ThetaMax
	if thetaMax <= 0 {
		thetaMax = DefaultThetaMax
	}
	reff := f.Horns.RadiusEff
	if reff <= 0 {
		reff = f.Horns.Radius()
	}
	area := math.Pi * reff * reff

	ncols := sc.Len()
	cosMax := math.Cos(thetaMax)
	var srcs []source
	for i := int64(0); i < ncols; i++ {
		u := healpix.Pix2Vec(sc.Nside, sc.FullSky(i))
		if u.Z < cosMax {
			continue
		}
		th := math.Atan2(math.Hypot(u.X, u.Y), u.Z)
		p := f.Bandwidth * f.Primary.Transmission(th, math.Atan2(u.Y, u.X)) * area
		if p > 0 {
			srcs = append(srcs, source{col: i, u: u, power: p})
		}
	}

	k := 2 * math.Pi * f.Nu / geometry.SpeedOfLight
	out := make([][]float64, len(dets))
	fill := func(d int) {
		det := dets[d]
		uvec := r3.Unit(det.Center)
		tr2 := f.Secondary.Transmission(det.Theta(), det.Phi()) * det.SolidAngle() / f.Secondary.SolidAngle()

		phase := make([]float64, len(centers))
		for h, c := range centers {
			phase[h] = k * r3.Dot(uvec, c)
		}
		row := make([]float64, ncols)
		for _, s := range srcs {
			var re, im float64
			for h, c := range centers {
				sn, cs := math.Sincos(phase[h] + k*r3.Dot(c, s.u))
				re += cs
				im += sn
			}
			row[s.col] = tr2 * s.power * (re*re + im*im)
		}
		out[d] = row
	}

	workers := f.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for d := range jobs {
				fill(d)
			}
		}()
	}

feed:
	for d := range dets {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- d:
		}
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("synthbeam: response interrupted: %w", err)
	}
	return out, nil
}
