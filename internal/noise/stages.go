package noise

import "math"

const (
	formulaDirect   = "direct"
	formulaIntegral = "integral"
	formulaGreyBody = "grey_body"
	formulaZero     = "zero_emissivity"
)

// direct fills emitter j with the photon-counting formula at frequency nu:
//
//	P    = ε·τ·hν/(exp(hν/kT)-1)·g·eff
//	NEP² = 2hνP·(1 + P/(hν·g))
//
// g(d) is the geometric throughput towards detector d.
func direct(st *State, j int, nu float64, g func(d int) float64) {
	hnu := Planck * nu
	occ := 1 / math.Expm1(hnu/(Boltzmann*st.Temperatures[j]))
	for d := range st.Power[j] {
		gd := g(d)
		p := st.Emissivities[j] * st.TrProd[j] * hnu * occ * gd * st.Efficiency[d]
		if p == 0 || gd == 0 {
			st.Power[j][d], st.NEP2[j][d] = 0, 0
			continue
		}
		st.Power[j][d] = p
		st.NEP2[j][d] = 2 * hnu * p * (1 + p/(hnu*gd))
	}
}

// integral fills emitter j with the photon-occupation formula integrated
// up to NuUp:
//
//	η    = ε·τ·eff
//	P    = gp·η·(kT)⁴/(c²h³)·K1·SΩ·B
//	NEP² = 2·gp·η·(kT)⁵/(c²h³)·(I1 + η·I2)·SΩ·B
//
// etendue(d) is the area-solid-angle product towards detector d.
func integral(st *State, j int, etendue func(d int) float64) {
	t := st.Temperatures[j]
	kt := Boltzmann * t
	occ := OccupationIntegrals(Planck * st.NuUp / kt)
	c2h3 := SpeedOfLight * SpeedOfLight * Planck * Planck * Planck
	k4 := math.Pow(kt, 4) / c2h3
	k5 := math.Pow(kt, 5) / c2h3
	gp := st.PolStates[j]
	for d := range st.Power[j] {
		eta := st.Emissivities[j] * st.TrProd[j] * st.Efficiency[d]
		geo := etendue(d) * st.SecBeam[d]
		st.Power[j][d] = gp * eta * k4 * occ.K1 * geo
		st.NEP2[j][d] = 2 * gp * eta * k5 * (occ.I1 + eta*occ.I2) * geo
	}
}

// zeroEmissivity clears emitter j and reports whether it did so.
func (c *Chain) zeroEmissivity(st *State, j int, stage string) bool {
	if st.Emissivities[j] != 0 {
		return false
	}
	clear(st.Power[j])
	clear(st.NEP2[j])
	c.record(st, j, stage, formulaZero)
	return true
}

// preHorn handles every emitter in front of the horn plane at the band
// centre, seen through the effective horn area.
func (c *Chain) preHorn(st *State) {
	nu := st.Nu
	k := (nu / SpeedOfLight) * (nu / SpeedOfLight) * st.DNu
	for j := 0; j < st.Index.Horn; j++ {
		if c.zeroEmissivity(st, j, "pre_horn") {
			continue
		}
		gp := st.PolStates[j]
		direct(st, j, nu, func(d int) float64 {
			return gp * st.SHornsEff * st.OmegaDet[d] * k * st.SecBeam[d]
		})
		c.record(st, j, "pre_horn", formulaDirect)
	}
}

func (c *Chain) horns(st *State) {
	j := st.Index.Horn
	if c.zeroEmissivity(st, j, "horn") {
		return
	}
	if c.band == BandIntegral {
		integral(st, j, func(d int) float64 { return st.SHorns * st.OmegaDet[d] })
		c.record(st, j, "horn", formulaIntegral)
		return
	}
	nu := st.FilterNu
	k := (nu / SpeedOfLight) * (nu / SpeedOfLight) * st.DNu
	gp := st.PolStates[j]
	direct(st, j, nu, func(d int) float64 {
		return gp * st.SHorns * st.OmegaDet[d] * k * st.SecBeam[d]
	})
	c.record(st, j, "horn", formulaDirect)
}

// environment is the warm surroundings seen by the detectors through the
// cold stop, at the horn temperature and attenuated by the last four
// elements of the train.
func (c *Chain) environment(st *State) {
	h := st.Index.Horn
	n := len(st.Transmissions)
	tr := 1.0
	for _, v := range st.Transmissions[n-4:] {
		tr *= v
	}
	t := st.Temperatures[h]
	gp := st.PolStates[h]

	if c.band == BandIntegral {
		kt := Boltzmann * t
		occ := OccupationIntegrals(Planck * st.NuUp / kt)
		c2h3 := SpeedOfLight * SpeedOfLight * Planck * Planck * Planck
		for d := range st.EnvPower {
			eff := tr * st.Efficiency[d]
			s := OmegaColdStop * st.SDet[d]
			st.EnvPower[d] = gp * eff * s * math.Pow(kt, 4) / c2h3 * occ.K1
			st.EnvNEP2[d] = 4 * s * math.Pow(kt, 5) / c2h3 * eff * (occ.I1 + occ.I2*eff)
		}
	} else {
		nu := st.FilterNu
		hnu := Planck * nu
		k := (nu / SpeedOfLight) * (nu / SpeedOfLight) * st.DNu
		occ := 1 / math.Expm1(hnu/(Boltzmann*t))
		for d := range st.EnvPower {
			g := gp * st.SDet[d] * OmegaColdStop * k * st.SecBeam[d]
			p := tr * st.Efficiency[d] * hnu * occ * g
			if p == 0 || g == 0 {
				continue
			}
			st.EnvPower[d] = p
			st.EnvNEP2[d] = 2 * hnu * p * (1 + p/(hnu*g))
		}
	}
	if c.setup.Diagnostics != nil {
		c.setup.Diagnostics(StageResult{
			Index: -1, Name: "environment", Stage: "environment", Formula: c.formula(),
			Power: st.EnvPower, NEP2: st.EnvNEP2,
		})
	}
}

// coldOptic handles a stage behind the horns with a fixed solid angle.
// The sub-band centre is used by the direct formula, without the
// secondary beam factor.
func (c *Chain) coldOptic(st *State, j int, omega float64, stage string) {
	if c.zeroEmissivity(st, j, stage) {
		return
	}
	if c.band == BandIntegral {
		integral(st, j, func(d int) float64 { return st.SDet[d] * omega })
		c.record(st, j, stage, formulaIntegral)
		return
	}
	nu := st.FilterNu
	k := (nu / SpeedOfLight) * (nu / SpeedOfLight) * st.DNu
	gp := st.PolStates[j]
	direct(st, j, nu, func(d int) float64 { return gp * st.SDet[d] * omega * k })
	c.record(st, j, stage, formulaDirect)
}

func (c *Chain) combiner(st *State) {
	c.coldOptic(st, st.Index.Combiner, OmegaCombiner, "combiner")
}

func (c *Chain) coldStop(st *State) {
	c.coldOptic(st, st.Index.ColdStop, OmegaColdStop, "cold_stop")
}

// dichroic uses the band centre in the direct formula.
func (c *Chain) dichroic(st *State) {
	j := st.Index.Dichroic
	if j < 0 {
		return
	}
	if c.zeroEmissivity(st, j, "dichroic") {
		return
	}
	if c.band == BandIntegral {
		integral(st, j, func(d int) float64 { return st.SDet[d] * OmegaDichroic })
		c.record(st, j, "dichroic", formulaIntegral)
		return
	}
	nu := st.Nu
	k := (nu / SpeedOfLight) * (nu / SpeedOfLight) * st.DNu
	gp := st.PolStates[j]
	direct(st, j, nu, func(d int) float64 { return gp * st.SDet[d] * OmegaDichroic * k })
	c.record(st, j, "dichroic", formulaDirect)
}

// neutralDensity and lowPassEdge see the full hemisphere (solid angle π).
func (c *Chain) neutralDensity(st *State) {
	j := st.Index.NeutralDensity
	if c.zeroEmissivity(st, j, "neutral_density") {
		return
	}
	integral(st, j, func(d int) float64 { return st.SDet[d] * math.Pi })
	c.record(st, j, "neutral_density", formulaIntegral)
}

func (c *Chain) lowPassEdge(st *State, j int) {
	if c.zeroEmissivity(st, j, "low_pass_edge") {
		return
	}
	integral(st, j, func(d int) float64 { return st.SDet[d] * math.Pi })
	c.record(st, j, "low_pass_edge", formulaIntegral)
}

// trailingFilters handles the neutral density filter and both low-pass
// edges of the direct band as one batch, through the dichroic solid angle.
func (c *Chain) trailingFilters(st *State) {
	nu := st.FilterNu
	k := (nu / SpeedOfLight) * (nu / SpeedOfLight) * st.DNu
	for _, j := range []int{st.Index.NeutralDensity, st.Index.LowPassEdge1, st.Index.LowPassEdge2} {
		if c.zeroEmissivity(st, j, "trailing_filter") {
			continue
		}
		gp := st.PolStates[j]
		direct(st, j, nu, func(d int) float64 { return gp * st.SDet[d] * OmegaDichroic * k })
		c.record(st, j, "trailing_filter", formulaDirect)
	}
}

// finalFilter radiates as a grey body over the full hemisphere. 24.9 and
// 1.1 are the fitted bunching coefficients of this stage.
func (c *Chain) finalFilter(st *State) {
	j := st.Index.Final
	if c.zeroEmissivity(st, j, "final_filter") {
		return
	}
	t := st.Temperatures[j]
	kt5 := math.Pow(Boltzmann*t, 5) / (SpeedOfLight * SpeedOfLight * Planck * Planck * Planck)
	gp := st.PolStates[j]
	for d := range st.Power[j] {
		eta := st.Emissivities[j] * st.TrProd[j] * st.Efficiency[d]
		st.Power[j][d] = eta * gp * st.SDet[d] * StefanBoltzmann * math.Pow(t, 4) / 2
		st.NEP2[j][d] = eta * 2 * gp * st.SDet[d] * math.Pi * kt5 * (24.9 + eta*1.1)
	}
	c.record(st, j, "final_filter", formulaGreyBody)
}

func (c *Chain) formula() string {
	if c.band == BandIntegral {
		return formulaIntegral
	}
	return formulaDirect
}
