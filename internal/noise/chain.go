// Package noise computes the photon noise budget of the instrument: the
// optical power each element of the train deposits on every detector and
// the noise equivalent power (NEP) it contributes.
//
// Elements are processed from the sky to the detectors. Elements before
// the horn plane are seen through the horns at the band centre; the horn
// plane and the cold optics either use photon-occupation integrals (the
// single-moded 150 GHz band) or the single-frequency photon-counting
// formula (220 GHz); the last filter radiates as a grey body.
package noise

import (
	"errors"
	"fmt"
	"math"

	"github.com/large-farva/bolometric-engine/internal/geometry"
	"github.com/large-farva/bolometric-engine/internal/scene"
)

// Fixed geometry of the cold optics.
var (
	// half opening angle of the combiner is atan(1/2)
	OmegaCombiner = math.Pi * (1 - math.Pow(math.Cos(math.Atan(0.5)), 2))
	OmegaDichroic = OmegaCombiner
)

// OmegaColdStop is the average cold-stop solid angle seen by a detector.
const OmegaColdStop = 0.09

// Setup is the fixed instrument description a Chain is built from.
type Setup struct {
	Nu     float64 // Hz, sub-band centre
	FRBW   float64 // relative bandwidth of the band
	Config ArrayConfig

	// NuUp overrides DefaultNuUp when > 0.
	NuUp float64

	Components  []Component
	Horns       *geometry.HornArray
	Detectors   *geometry.DetectorArray
	FocalLength float64
	Secondary   geometry.Beam

	// Diagnostics, when set, receives every stage as it is computed. It
	// has no effect on the results.
	Diagnostics func(StageResult)
}

// Chain evaluates the photon noise of a fixed instrument. The stage table
// is resolved once at construction. A Chain is safe for concurrent use;
// every Compute call works on its own State.
type Chain struct {
	setup  Setup
	band   Band
	centre float64
	nuUp   float64
	index  StageIndex
}

// NewChain validates the band, the array configuration and the stage
// layout of the optical train.
func NewChain(s Setup) (*Chain, error) {
	if s.Horns == nil || s.Detectors == nil || s.Secondary == nil {
		return nil, errors.New("noise: horns, detectors and secondary beam are required")
	}
	if s.FocalLength <= 0 {
		return nil, errors.New("noise: focal length must be > 0")
	}
	band, centre, err := SelectBand(s.Nu, s.FRBW)
	if err != nil {
		return nil, err
	}
	var hasDichroic bool
	switch s.Config {
	case ConfigFI:
		hasDichroic = true
	case ConfigTD:
		if band == BandDirect {
			return nil, fmt.Errorf("%w: TD at %s", ErrConfigUnsupported, band)
		}
	default:
		return nil, fmt.Errorf("%w: unknown configuration %q", ErrConfigUnsupported, s.Config)
	}
	for i, c := range s.Components {
		if c.NStatesPol != 1 && c.NStatesPol != 2 {
			return nil, fmt.Errorf("noise: component %d (%q) has nstates_pol %d, want 1 or 2", i, c.Name, c.NStatesPol)
		}
	}
	idx, _, err := ResolveIndices(s.Components, hasDichroic)
	if err != nil {
		return nil, err
	}
	nuUp := s.NuUp
	if nuUp <= 0 {
		nuUp = DefaultNuUp
	}
	return &Chain{setup: s, band: band, centre: centre, nuUp: nuUp, index: idx}, nil
}

// Band returns the band the chain was built for.
func (c *Chain) Band() Band { return c.band }

// Index returns the resolved stage table.
func (c *Chain) Index() StageIndex { return c.index }

// Roles returns the role of every optical component.

// StageResult is the contribution of one emitter.
type StageResult struct {
	Index   int       `json:"index"`
	Name    string    `json:"name"`
	Stage   string    `json:"stage"`
	Formula string    `json:"formula"`
	Power   []float64 `json:"power"` // W per detector
	NEP2    []float64 `json:"nep2"`  // W²/Hz per detector
}

// Result is the outcome of one evaluation.
type Result struct {
	Band     Band          `json:"band"`
	NEP      []float64     `json:"nep"`   // W/√Hz per detector
	Power    []float64     `json:"power"` // W per detector, environment excluded
	EnvPower []float64     `json:"env_power"`
	EnvNEP2  []float64     `json:"env_nep2"`
	Stages   []StageResult `json:"stages"`
}

// Compute runs the chain for the given environment.
func (c *Chain) Compute(env scene.Environment) (*Result, error) {
	st := c.newState(env)

	c.preHorn(st)
	c.horns(st)
	c.environment(st)
	c.combiner(st)
	c.coldStop(st)
	if c.band == BandIntegral {
		if st.Index.Dichroic >= 0 {
			c.dichroic(st)
		}
		c.neutralDensity(st)
		c.lowPassEdge(st, st.Index.LowPassEdge1)
		c.lowPassEdge(st, st.Index.LowPassEdge2)
	} else {
		c.dichroic(st)
		c.trailingFilters(st)
	}
	c.finalFilter(st)

	ndet := len(st.SDet)
	res := &Result{
		Band:     c.band,
		NEP:      make([]float64, ndet),
		Power:    make([]float64, ndet),
		EnvPower: st.EnvPower,
		EnvNEP2:  st.EnvNEP2,
		Stages:   st.stages,
	}
	for d := 0; d < ndet; d++ {
		var p, n2 float64
		for j := range st.Power {
			p += st.Power[j][d]
			n2 += st.NEP2[j][d]
		}
		res.Power[d] = p
		res.NEP[d] = math.Sqrt(n2 + st.EnvNEP2[d])
	}
	for d, v := range res.NEP {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("noise: non-finite NEP for detector %d", d)
		}
	}
	return res, nil
}

// State is the working record of one evaluation. It is built fresh for
// every Compute call and discarded afterwards.
type State struct {
	Names         []string
	Temperatures  []float64
	Transmissions []float64
	Emissivities  []float64
	PolStates     []float64

	// TrProd[j] is the product of the transmissions of every emitter
	// after j.
	TrProd []float64
	Index  StageIndex

	Nu, DNu, FilterNu, NuUp float64

	SDet       []float64 // m², per detector
	OmegaDet   []float64 // sr, per detector
	SecBeam    []float64 // secondary beam at each detector
	Efficiency []float64

	SHorns, SHornsEff float64

	Power    [][]float64 // [emitter][detector]
	NEP2     [][]float64
	EnvPower []float64
	EnvNEP2  []float64

	stages []StageResult
}

func (c *Chain) newState(env scene.Environment) *State {
	s := c.setup
	comps := s.Components
	n := len(comps) + skyEmitters

	st := &State{
		Names:         make([]string, 0, n),
		Temperatures:  make([]float64, 0, n),
		Transmissions: make([]float64, 0, n),
		Emissivities:  make([]float64, 0, n),
		PolStates:     make([]float64, 0, n),
		Index:         c.index,
		Nu:            c.centre,
		DNu:           c.centre * s.FRBW,
		FilterNu:      s.Nu,
		NuUp:          c.nuUp,
	}
	st.Names = append(st.Names, "CMB", "atm")
	st.Temperatures = append(st.Temperatures, env.CMBTemperature, env.Atmosphere.Temperature)
	st.Transmissions = append(st.Transmissions, 1, env.Atmosphere.Transmission)
	st.Emissivities = append(st.Emissivities, 1, env.AtmosphereEmissivity())
	st.PolStates = append(st.PolStates, 1, 1)
	for _, cp := range comps {
		st.Names = append(st.Names, cp.Name)
		st.Temperatures = append(st.Temperatures, cp.Temperature)
		st.Transmissions = append(st.Transmissions, cp.Transmission)
		st.Emissivities = append(st.Emissivities, cp.Emissivity)
		st.PolStates = append(st.PolStates, float64(cp.NStatesPol))
	}

	st.TrProd = make([]float64, n)
	st.TrProd[n-1] = 1
	for j := n - 2; j >= 0; j-- {
		st.TrProd[j] = st.TrProd[j+1] * st.Transmissions[j+1]
	}

	dets := s.Detectors.Detectors
	ndet := len(dets)
	st.SDet = make([]float64, ndet)
	st.OmegaDet = make([]float64, ndet)
	st.SecBeam = make([]float64, ndet)
	st.Efficiency = s.Detectors.Efficiencies()
	f2 := s.FocalLength * s.FocalLength
	for d, det := range dets {
		th := det.Theta()
		ct := math.Cos(th)
		st.SDet[d] = det.Area
		st.OmegaDet[d] = -det.Area / f2 * ct * ct * ct
		st.SecBeam[d] = s.Secondary.Transmission(th, det.Phi())
	}

	nopen := float64(s.Horns.NumOpen())
	r := s.Horns.Radius()
	st.SHorns = math.Pi * r * r * nopen
	st.SHornsEff = math.Pi * s.Horns.RadiusEff * s.Horns.RadiusEff * nopen

	st.Power = make([][]float64, n)
	st.NEP2 = make([][]float64, n)
	for j := range st.Power {
		st.Power[j] = make([]float64, ndet)
		st.NEP2[j] = make([]float64, ndet)
	}
	st.EnvPower = make([]float64, ndet)
	st.EnvNEP2 = make([]float64, ndet)
	return st
}

func (c *Chain) record(st *State, j int, stage, formula string) {
	r := StageResult{
		Index:   j,
		Name:    st.Names[j],
		Stage:   stage,
		Formula: formula,
		Power:   st.Power[j],
		NEP2:    st.NEP2[j],
	}
	st.stages = append(st.stages, r)
	if c.setup.Diagnostics != nil {
		c.setup.Diagnostics(r)
	}
}
