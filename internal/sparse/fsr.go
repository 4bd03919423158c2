// Package sparse provides fixed-sparse-row storage: every row holds the
// same number of (column, block) entries, which makes the backing arrays
// trivially partitionable between writers.
package sparse

import (
	"fmt"
	"slices"
)

// Index is the set of column index types.
type Index interface {
	~int32 | ~int64
}

// Value is the set of stored value types.
type Value interface {
	~float32 | ~float64
}

// NoCell marks an entry that does not point at any column.
const NoCell = -1

// Block layouts. A scalar entry multiplies one input component. A rotation
// block couples the polarized components of one column:
//
//	BlockRot2: [[r11, -r21], [r21, r11]]
//	BlockRot3: [[r11, 0, 0], [0, r22, -r32], [0, r32, r22]]
const (
	BlockScalar = 1
	BlockRot2   = 2
	BlockRot3   = 3
)

// Matrix is a fixed-sparse-row matrix of NRows rows. Row r owns
// Index[r*NColMax:(r+1)*NColMax] and the matching BlockSize-wide slots of
// Value.
type Matrix[I Index, V Value] struct {
	NRows     int
	NCols     int
	NColMax   int
	BlockSize int

	Index []I
	Value []V
}

// New allocates a matrix with every index set to NoCell.
func New[I Index, V Value](nrows, ncols, ncolmax, blockSize int) (*Matrix[I, V], error) {
	if nrows < 0 || ncols < 0 || ncolmax < 0 {
		return nil, fmt.Errorf("sparse: negative dimension (%d, %d, %d)", nrows, ncols, ncolmax)
	}
	if blockSize < BlockScalar || blockSize > BlockRot3 {
		return nil, fmt.Errorf("sparse: invalid block size %d", blockSize)
	}
	m := &Matrix[I, V]{
		NRows:     nrows,
		NCols:     ncols,
		NColMax:   ncolmax,
		BlockSize: blockSize,
		Index:     make([]I, nrows*ncolmax),
		Value:     make([]V, nrows*ncolmax*blockSize),
	}
	for i := range m.Index {
		m.Index[i] = NoCell
	}
	return m, nil
}

// RowIndex returns the index slots of row r. Writes go to the matrix.
func (m *Matrix[I, V]) RowIndex(r int) []I {
	return m.Index[r*m.NColMax : (r+1)*m.NColMax]
}

// RowValue returns the value slots of row r. Writes go to the matrix.
func (m *Matrix[I, V]) RowValue(r int) []V {
	w := m.NColMax * m.BlockSize
	return m.Value[r*w : (r+1)*w]
}

// Rows returns a view over rows [start, end). Views share storage with m
// and never overlap when their ranges do not.
func (m *Matrix[I, V]) Rows(start, end int) *Matrix[I, V] {
	w := m.NColMax * m.BlockSize
	return &Matrix[I, V]{
		NRows:     end - start,
		NCols:     m.NCols,
		NColMax:   m.NColMax,
		BlockSize: m.BlockSize,
		Index:     m.Index[start*m.NColMax : end*m.NColMax],
		Value:     m.Value[start*w : end*w],
	}
}

// Entry returns the column and block values of entry k of row r.
func (m *Matrix[I, V]) Entry(r, k int) (int64, [3]float64) {
	var block [3]float64
	slot := r*m.NColMax + k
	for b := 0; b < m.BlockSize; b++ {
		block[b] = float64(m.Value[slot*m.BlockSize+b])
	}
	return int64(m.Index[slot]), block
}

// NNZ counts entries that point at a column and carry a non-zero block.
func (m *Matrix[I, V]) NNZ() int {
	n := 0
	for slot, col := range m.Index {
		if col < 0 {
			continue
		}
		for b := 0; b < m.BlockSize; b++ {
			if m.Value[slot*m.BlockSize+b] != 0 {
				n++
				break
			}
		}
	}
	return n
}

// Bytes returns the size of the backing storage.
func (m *Matrix[I, V]) Bytes() int64 {
	var i I
	var v V
	return int64(len(m.Index))*int64(sizeOf(i)) + int64(len(m.Value))*int64(sizeOf(v))
}

// Equal reports whether o has the same shape and bit-identical storage.
func (m *Matrix[I, V]) Equal(o *Matrix[I, V]) bool {
	if o == nil {
		return false
	}
	return m.NRows == o.NRows && m.NCols == o.NCols && m.NColMax == o.NColMax &&
		m.BlockSize == o.BlockSize && slices.Equal(m.Index, o.Index) && slices.Equal(m.Value, o.Value)
}

// MulVec computes out = M·x. x holds NCols·BlockSize components laid out
// column-major by component (x[col*BlockSize+c]); out holds
// NRows·BlockSize components in the same layout.
func (m *Matrix[I, V]) MulVec(x, out []float64) error {
	bs := m.BlockSize
	if len(x) != m.NCols*bs || len(out) != m.NRows*bs {
		return fmt.Errorf("sparse: MulVec dimension mismatch (x=%d out=%d, want %d and %d)",
			len(x), len(out), m.NCols*bs, m.NRows*bs)
	}
	clear(out)
	for r := 0; r < m.NRows; r++ {
		o := out[r*bs : (r+1)*bs]
		for k := 0; k < m.NColMax; k++ {
			slot := r*m.NColMax + k
			col := int64(m.Index[slot])
			if col < 0 {
				continue
			}
			v := m.Value[slot*bs : (slot+1)*bs]
			in := x[col*int64(bs) : (col+1)*int64(bs)]
			switch bs {
			case BlockScalar:
				o[0] += float64(v[0]) * in[0]
			case BlockRot2:
				r11, r21 := float64(v[0]), float64(v[1])
				o[0] += r11*in[0] - r21*in[1]
				o[1] += r21*in[0] + r11*in[1]
			case BlockRot3:
				r11, r22, r32 := float64(v[0]), float64(v[1]), float64(v[2])
				o[0] += r11 * in[0]
				o[1] += r22*in[1] - r32*in[2]
				o[2] += r32*in[1] + r22*in[2]
			}
		}
	}
	return nil
}

// MulVecTrans computes out = Mᵀ·y with the layouts of MulVec swapped.
func (m *Matrix[I, V]) MulVecTrans(y, out []float64) error {
	bs := m.BlockSize
	if len(y) != m.NRows*bs || len(out) != m.NCols*bs {
		return fmt.Errorf("sparse: MulVecTrans dimension mismatch (y=%d out=%d, want %d and %d)",
			len(y), len(out), m.NRows*bs, m.NCols*bs)
	}
	clear(out)
	for r := 0; r < m.NRows; r++ {
		in := y[r*bs : (r+1)*bs]
		for k := 0; k < m.NColMax; k++ {
			slot := r*m.NColMax + k
			col := int64(m.Index[slot])
			if col < 0 {
				continue
			}
			v := m.Value[slot*bs : (slot+1)*bs]
			o := out[col*int64(bs) : (col+1)*int64(bs)]
			switch bs {
			case BlockScalar:
				o[0] += float64(v[0]) * in[0]
			case BlockRot2:
				r11, r21 := float64(v[0]), float64(v[1])
				o[0] += r11*in[0] + r21*in[1]
				o[1] += -r21*in[0] + r11*in[1]
			case BlockRot3:
				r11, r22, r32 := float64(v[0]), float64(v[1]), float64(v[2])
				o[0] += r11 * in[0]
				o[1] += r22*in[1] + r32*in[2]
				o[2] += -r32*in[1] + r22*in[2]
			}
		}
	}
	return nil
}

func sizeOf[T Index | Value](v T) int {
	switch any(v).(type) {
	case int32, float32:
		return 4
	default:
		return 8
	}
}
