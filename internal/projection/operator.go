// Package projection builds the pointing operator mapping sky pixels onto
// detector timelines through the synthetic beam.
package projection

import (
	"github.com/large-farva/bolometric-engine/internal/scene"
	"github.com/large-farva/bolometric-engine/internal/sparse"
)

// Operator is the sparse pointing matrix. Row d·NSamples()+t holds the
// NColMax() peaks of detector d at sample t. Polarised kinds store one
// rotation block per entry, so Apply consumes Cols()·Kind().Components()
// values and produces Rows()·Kind().Components().
type Operator interface {
	Rows() int
	Cols() int64
	NColMax() int
	NDetectors() int
	NSamples() int
	Kind() scene.Kind
	Precision() sparse.Precision

	// Entry returns the column and block of entry k of a row. The column
	// is sparse.NoCell for peaks outside the scene.
	Entry(row, k int) (int64, [3]float64)

	Apply(x, out []float64) error
	ApplyTranspose(y, out []float64) error

	Stats() Stats
	Equal(Operator) bool
}

// Stats summarises an operator.
type Stats struct {
	Kind       scene.Kind `json:"kind"`
	Precision  string     `json:"precision"`
	Rows       int        `json:"rows"`
	Cols       int64      `json:"cols"`
	NColMax    int        `json:"ncolmax"`
	NDetectors int        `json:"ndetectors"`
	NSamples   int        `json:"nsamples"`
	NonZero    int        `json:"nonzero"`
	Bytes      int64      `json:"bytes"`
}

type operator[I sparse.Index, V sparse.Value] struct {
	m        *sparse.Matrix[I, V]
	kind     scene.Kind
	prec     sparse.Precision
	ndet     int
	nsamples int
}

func (o *operator[I, V]) Rows() int                   { return o.m.NRows }
func (o *operator[I, V]) Cols() int64                 { return int64(o.m.NCols) }
func (o *operator[I, V]) NColMax() int                { return o.m.NColMax }
func (o *operator[I, V]) NDetectors() int             { return o.ndet }
func (o *operator[I, V]) NSamples() int               { return o.nsamples }
func (o *operator[I, V]) Kind() scene.Kind            { return o.kind }
func (o *operator[I, V]) Precision() sparse.Precision { return o.prec }

func (o *operator[I, V]) Entry(row, k int) (int64, [3]float64) {
	return o.m.Entry(row, k)
}

func (o *operator[I, V]) Apply(x, out []float64) error {
	return o.m.MulVec(x, out)
}

func (o *operator[I, V]) ApplyTranspose(y, out []float64) error {
	return o.m.MulVecTrans(y, out)
}

func (o *operator[I, V]) Stats() Stats {
	return Stats{
		Kind:       o.kind,
		Precision:  o.prec.String(),
		Rows:       o.m.NRows,
		Cols:       int64(o.m.NCols),
		NColMax:    o.m.NColMax,
		NDetectors: o.ndet,
		NSamples:   o.nsamples,
		NonZero:    o.m.NNZ(),
		Bytes:      o.m.Bytes(),
	}
}

// Equal reports whether other has the same kind, precision and
// bit-identical storage.
func (o *operator[I, V]) Equal(other Operator) bool {
	p, ok := other.(*operator[I, V])
	if !ok {
		return false
	}
	return o.kind == p.kind && o.prec == p.prec && o.ndet == p.ndet &&
		o.nsamples == p.nsamples && o.m.Equal(p.m)
}
