package noise

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat/distuv"
)

// DetectorNoise is the intrinsic noise of a bolometer: a white floor of
// NEP with a 1/f excess below FKnee.
type DetectorNoise struct {
	NEP    float64 // W/√Hz
	FKnee  float64 // Hz, 0 for white noise
	FSlope float64
}

func (n DetectorNoise) Validate() error {
	if !(n.NEP >= 0) || math.IsInf(n.NEP, 0) {
		return fmt.Errorf("noise: detector NEP %g must be finite and >= 0", n.NEP)
	}
	if !(n.FKnee >= 0) || math.IsInf(n.FKnee, 0) {
		return fmt.Errorf("noise: knee frequency %g must be finite and >= 0", n.FKnee)
	}
	if n.FKnee > 0 && !(n.FSlope > 0) {
		return fmt.Errorf("noise: 1/f slope %g must be > 0", n.FSlope)
	}
	return nil
}

// PSD is the one-sided power spectral density at f > 0 in W²/Hz.
func (n DetectorNoise) PSD(f float64) float64 {
	white := n.NEP * n.NEP
	if n.FKnee == 0 {
		return white
	}
	if f <= 0 {
		return math.Inf(1)
	}
	return white * (1 + math.Pow(n.FKnee/f, n.FSlope))
}

// Sigma is the standard deviation of the white part of one sample
// integrated over period seconds.
func (n DetectorNoise) Sigma(period float64) float64 {
	return WhiteSigma(n.NEP, period)
}

// WhiteSigma converts an NEP in W/√Hz to the per-sample standard deviation
// at the given sampling period.
func WhiteSigma(nep, period float64) float64 {
	return nep / math.Sqrt(2*period)
}

// Timeline fills out with one realisation sampled every period seconds.
// The white floor is drawn from src; the 1/f excess is shaped in the
// Fourier domain, the mean taking the lowest resolved frequency.
func (n DetectorNoise) Timeline(src rand.Source, period float64, out []float64) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if !(period > 0) {
		return errors.New("noise: sampling period must be > 0")
	}
	if len(out) == 0 {
		return nil
	}
	g := distuv.Normal{Mu: 0, Sigma: n.Sigma(period), Src: src}
	for i := range out {
		out[i] = g.Rand()
	}
	if n.FKnee == 0 || n.NEP == 0 || len(out) < 2 {
		return nil
	}

	fft := fourier.NewFFT(len(out))
	coeff := fft.Coefficients(nil, out)
	df := 1 / (float64(len(out)) * period)
	white := n.NEP * n.NEP
	for k := range coeff {
		f := fft.Freq(k) / period
		if k == 0 {
			f = df
		}
		coeff[k] *= complex(math.Sqrt(n.PSD(f)/white), 0)
	}
	fft.Sequence(out, coeff)
	scale := 1 / float64(len(out))
	for i := range out {
		out[i] *= scale
	}
	return nil
}
