package projection

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/large-farva/bolometric-engine/internal/sampling"
	"github.com/large-farva/bolometric-engine/internal/scene"
	"github.com/large-farva/bolometric-engine/internal/sparse"
	"github.com/large-farva/bolometric-engine/internal/synthbeam"
)

// Request gathers the inputs of Build.
type Request struct {
	Orientations []sampling.Orientation
	Peaks        synthbeam.PeakSet
	Scene        *scene.Scene
	Precision    sparse.Precision

	// Workers is the size of the worker pool; <= 0 uses GOMAXPROCS.
	Workers int

	// Progress, when set, is called after each detector is filled. It is
	// called from worker goroutines and must be safe for concurrent use.
	Progress func(done, total int)
}

// Build fills the pointing operator for req. The result depends only on
// the request: building twice yields bit-identical storage. The context
// is checked between detectors.
func Build(ctx context.Context, req Request) (Operator, error) {
	if req.Scene == nil {
		return nil, errors.New("projection: scene is required")
	}
	if len(req.Orientations) == 0 {
		return nil, errors.New("projection: at least one orientation is required")
	}
	for i, o := range req.Orientations {
		if o.Rotation == nil {
			return nil, fmt.Errorf("projection: orientation %d has no rotation", i)
		}
	}
	ps := req.Peaks
	if len(ps.Theta) != ps.NDetectors*ps.NPeaks || len(ps.Phi) != len(ps.Theta) || len(ps.Value) != len(ps.Theta) {
		return nil, fmt.Errorf("projection: peak set arrays do not match %d×%d", ps.NDetectors, ps.NPeaks)
	}

	prec, err := req.Precision.Resolve(req.Scene.RequiresWideIndex())
	if err != nil {
		return nil, err
	}
	if req.Scene.Kind.Polarized() {
		if err := prec.CheckBlocked(); err != nil {
			return nil, err
		}
	}

	switch {
	case prec.Index == sparse.Int32 && prec.Value == sparse.Float32:
		return build[int32, float32](ctx, req, prec)
	case prec.Index == sparse.Int32 && prec.Value == sparse.Float64:
		return build[int32, float64](ctx, req, prec)
	case prec.Index == sparse.Int64 && prec.Value == sparse.Float32:
		return build[int64, float32](ctx, req, prec)
	default:
		return build[int64, float64](ctx, req, prec)
	}
}

func build[I sparse.Index, V sparse.Value](ctx context.Context, req Request, prec sparse.Precision) (Operator, error) {
	ps := req.Peaks
	ndet, ntimes := ps.NDetectors, len(req.Orientations)
	ncols := req.Scene.Len()
	if ncols > math.MaxInt {
		return nil, fmt.Errorf("%w: %d columns", sparse.ErrIndexOverflow, ncols)
	}

	m, err := sparse.New[I, V](ndet*ntimes, int(ncols), ps.NPeaks, req.Scene.Kind.Components())
	if err != nil {
		return nil, err
	}

	workers := req.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	var done atomic.Int64
	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for d := range jobs {
				fillDetector(m.Rows(d*ntimes, (d+1)*ntimes), req, d)
				if req.Progress != nil {
					req.Progress(int(done.Add(1)), ndet)
				}
			}
		}()
	}

feed:
	for d := 0; d < ndet; d++ {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- d:
		}
	}
	close(jobs)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("projection: build interrupted: %w", err)
	}

	return &operator[I, V]{
		m:        m,
		kind:     req.Scene.Kind,
		prec:     prec,
		ndet:     ndet,
		nsamples: ntimes,
	}, nil
}

// fillDetector writes the rows of detector d. rows only spans that
// detector, so workers never share storage.
func fillDetector[I sparse.Index, V sparse.Value](rows *sparse.Matrix[I, V], req Request, d int) {
	ps := req.Peaks
	npeaks := ps.NPeaks
	kind := req.Scene.Kind
	bs := kind.Components()

	dirs := make([]r3.Vec, npeaks)
	ephis := make([]r3.Vec, npeaks)
	vals := make([]float64, npeaks)
	for k := 0; k < npeaks; k++ {
		i := d*npeaks + k
		st, ct := math.Sincos(ps.Theta[i])
		sp, cp := math.Sincos(ps.Phi[i])
		dirs[k] = r3.Vec{X: st * cp, Y: st * sp, Z: ct}
		ephis[k] = r3.Vec{X: -sp, Y: cp}
		vals[k] = ps.Value[i]
	}

	for t, o := range req.Orientations {
		idx := rows.RowIndex(t)
		val := rows.RowValue(t)
		for k := 0; k < npeaks; k++ {
			dir := o.Rotation.MulVecTrans(dirs[k])
			pix := req.Scene.Pixel(dir)
			if pix < 0 {
				// outside the patch: no column, no value
				idx[k] = sparse.NoCell
				clear(val[k*bs : (k+1)*bs])
				continue
			}
			idx[k] = I(pix)

			v := vals[k]
			switch kind {
			case scene.KindI:
				val[k] = V(v)
			case scene.KindQU:
				c2, s2 := polarizationAngle(dir, o.Rotation.MulVecTrans(ephis[k]))
				val[2*k] = V(v * c2)
				val[2*k+1] = V(v * s2)
			case scene.KindIQU:
				c2, s2 := polarizationAngle(dir, o.Rotation.MulVecTrans(ephis[k]))
				val[3*k] = V(v)
				val[3*k+1] = V(v * c2)
				val[3*k+2] = V(v * s2)
			}
		}
	}
}

// polarizationAngle returns cos 2ψ and sin 2ψ, ψ being the angle between
// the detector's polarisation direction ephi and the local meridian basis
// of the scene at direction dir.
func polarizationAngle(dir, ephi r3.Vec) (float64, float64) {
	n := r3.Unit(dir)
	rho := math.Hypot(n.X, n.Y)
	var etheta, ephiScene r3.Vec
	if rho < 1e-12 {
		// at a pole any orthonormal pair is a valid basis
		etheta = r3.Vec{X: 1}
		ephiScene = r3.Vec{Y: 1}
	} else {
		etheta = r3.Vec{X: n.X * n.Z / rho, Y: n.Y * n.Z / rho, Z: -rho}
		ephiScene = r3.Vec{X: -n.Y / rho, Y: n.X / rho}
	}
	psi := math.Atan2(-r3.Dot(ephi, etheta), r3.Dot(ephi, ephiScene))
	s2, c2 := math.Sincos(2 * psi)
	return c2, s2
}
