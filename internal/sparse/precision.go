package sparse

import (
	"errors"
	"fmt"
	"strings"
)

// IndexType names the integer width used to store column indices.
type IndexType string

// ValueType names the floating-point width used to store matrix values.
type ValueType string

const (
	IndexAuto IndexType = "auto"
	Int32     IndexType = "int32"
	Int64     IndexType = "int64"

	Float32 ValueType = "float32"
	Float64 ValueType = "float64"
)

var (
	// ErrUnsupportedPrecision is returned when an index/value combination
	// cannot back the requested matrix layout.
	ErrUnsupportedPrecision = errors.New("sparse: unsupported index/value precision")

	// ErrIndexOverflow is returned when an explicitly narrow index type
	// cannot represent every column of the matrix.
	ErrIndexOverflow = errors.New("sparse: column index exceeds index width")
)

// Precision declares the storage types of a matrix. Both fields are
// explicit configuration; Index may be IndexAuto and is then resolved
// against the column range.
type Precision struct {
	Index IndexType `json:"index"`
	Value ValueType `json:"value"`
}

// ParseIndexType accepts "auto", "int32" or "int64" (case-insensitive).
func ParseIndexType(s string) (IndexType, error) {
	switch t := IndexType(strings.ToLower(strings.TrimSpace(s))); t {
	case IndexAuto, Int32, Int64:
		return t, nil
	case "":
		return IndexAuto, nil
	default:
		return "", fmt.Errorf("%w: index type %q", ErrUnsupportedPrecision, s)
	}
}

// ParseValueType accepts "float32" or "float64" (case-insensitive).
func ParseValueType(s string) (ValueType, error) {
	switch t := ValueType(strings.ToLower(strings.TrimSpace(s))); t {
	case Float32, Float64:
		return t, nil
	default:
		return "", fmt.Errorf("%w: value type %q", ErrUnsupportedPrecision, s)
	}
}

// Resolve replaces IndexAuto with the narrowest type able to hold the
// column range. wide reports whether the range needs 64-bit indices. An
// explicit Int32 with a wide range is an error rather than a truncation.
func (p Precision) Resolve(wide bool) (Precision, error) {
	if _, err := ParseValueType(string(p.Value)); err != nil {
		return p, err
	}
	switch p.Index {
	case IndexAuto, "":
		if wide {
			p.Index = Int64
		} else {
			p.Index = Int32
		}
	case Int32:
		if wide {
			return p, fmt.Errorf("%w: int32 cannot index this resolution", ErrIndexOverflow)
		}
	case Int64:
	default:
		return p, fmt.Errorf("%w: index type %q", ErrUnsupportedPrecision, p.Index)
	}
	return p, nil
}

// CheckBlocked validates a resolved precision for matrices storing
// rotation blocks. Index and value storage must share a width.
func (p Precision) CheckBlocked() error {
	switch {
	case p.Index == Int32 && p.Value == Float32:
		return nil
	case p.Index == Int64 && p.Value == Float64:
		return nil
	default:
		return fmt.Errorf("%w: rotation blocks cannot be stored with %s indices and %s values",
			ErrUnsupportedPrecision, p.Index, p.Value)
	}
}

// IndexBytes returns the size of one stored index.
func (p Precision) IndexBytes() int {
	if p.Index == Int64 {
		return 8
	}
	return 4
}

// ValueBytes returns the size of one stored value.
func (p Precision) ValueBytes() int {
	if p.Value == Float64 {
		return 8
	}
	return 4
}

// MatrixBytes returns the storage a matrix of nrows rows, ncolmax slots
// per row and blockSize values per slot needs at this precision. p must
// be resolved.
func (p Precision) MatrixBytes(nrows, ncolmax, blockSize int) int64 {
	slots := int64(nrows) * int64(ncolmax)
	return slots * int64(p.IndexBytes()+blockSize*p.ValueBytes())
}

func (p Precision) String() string {
	return fmt.Sprintf("%s/%s", p.Index, p.Value)
}
