package response

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// kernelSpan is the length of the truncated exponential in units of the
// time constant.
const kernelSpan = 10

// BolometerResponse is the first-order thermal response of the detectors.
type BolometerResponse struct {
	Tau    []float64 // s, per detector
	Period float64   // s, sampling period
}

// kernel returns the causal exponential exp(-k/τ) normalised to unit sum,
// with τ in samples.
func kernel(tau float64) []float64 {
	n := int(math.Ceil(kernelSpan*tau)) + 1
	k := make([]float64, n)
	var sum float64
	for i := range k {
		k[i] = math.Exp(-float64(i) / tau)
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// Apply convolves every intensity timeline with its detector's response,
// in place. A zero period or time constant leaves the timeline unchanged.
func (b BolometerResponse) Apply(tod TOD) error {
	if err := tod.check(); err != nil {
		return err
	}
	if tod.NComp != 1 {
		return fmt.Errorf("response: bolometer response acts on power timelines, got %d components", tod.NComp)
	}
	if len(b.Tau) != tod.NDetectors {
		return fmt.Errorf("response: %d time constants for %d detectors", len(b.Tau), tod.NDetectors)
	}
	if b.Period == 0 {
		return nil
	}
	for d := 0; d < tod.NDetectors; d++ {
		tau := b.Tau[d] / b.Period
		if tau <= 0 {
			continue
		}
		row := tod.Data[d*tod.NSamples : (d+1)*tod.NSamples]
		convolve(row, kernel(tau))
	}
	return nil
}

// convolve computes the causal linear convolution of x with k in place.
// Both are zero-padded past len(x)+len(k)-1 so the circular product of
// the transforms equals the linear one.
func convolve(x, k []float64) {
	n := len(x) + len(k) - 1
	fft := fourier.NewFFT(n)

	xp := make([]float64, n)
	copy(xp, x)
	kp := make([]float64, n)
	copy(kp, k)

	cx := fft.Coefficients(nil, xp)
	ck := fft.Coefficients(nil, kp)
	for i := range cx {
		cx[i] *= ck[i]
	}
	y := fft.Sequence(nil, cx)
	inv := 1 / float64(n)
	for i := range x {
		x[i] = y[i] * inv
	}
}
