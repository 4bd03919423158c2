package noise

import (
	"errors"
	"fmt"
	"strings"
)

// Role is the part an optical component plays in the noise chain.
type Role string

const (
	// RoleAuto asks ResolveIndices to infer the role from the name.
	RoleAuto           Role = ""
	RoleOther          Role = "other"
	RoleHorn           Role = "horn"
	RoleCombiner       Role = "combiner"
	RoleColdStop       Role = "cold_stop"
	RoleDichroic       Role = "dichroic"
	RoleNeutralDensity Role = "neutral_density"
	RoleLowPassEdge    Role = "low_pass_edge"
	RoleFinalFilter    Role = "final_filter"
)

var (
	ErrStageMissing = errors.New("noise: required optical stage missing")
	ErrStageOrder   = errors.New("noise: optical stages out of order")
)

// Component is one element of the optical train, sky side first.
type Component struct {
	Name         string  `json:"name"`
	Role         Role    `json:"role,omitempty"`
	Temperature  float64 `json:"temperature"`  // K
	Transmission float64 `json:"transmission"` // 0-1
	Emissivity   float64 `json:"emissivity"`   // 0-1
	NStatesPol   int     `json:"nstates_pol"`  // 1 or 2
}

// StageIndex locates the named stages in the full emitter list, which
// starts with the CMB and the atmosphere. Dichroic is -1 when absent.
type StageIndex struct {
	Horn           int `json:"horn"`
	Combiner       int `json:"combiner"`
	ColdStop       int `json:"cold_stop"`
	Dichroic       int `json:"dichroic"`
	NeutralDensity int `json:"neutral_density"`
	LowPassEdge1   int `json:"low_pass_edge_1"`
	LowPassEdge2   int `json:"low_pass_edge_2"`
	Final          int `json:"final"`
}

// skyEmitters is the number of entries preceding the optical train: the
// CMB and the atmosphere.
const skyEmitters = 2

func inferRole(name string, last bool) Role {
	n := strings.ToLower(strings.TrimSpace(name))
	switch {
	case last:
		return RoleFinalFilter
	case n == "ba2ba":
		return RoleHorn
	case strings.HasPrefix(n, "combin"):
		return RoleCombiner
	case n == "cslpe":
		return RoleColdStop
	case strings.HasPrefix(n, "dichro"):
		return RoleDichroic
	case n == "ndf":
		return RoleNeutralDensity
	case strings.HasSuffix(n, "lpe"):
		return RoleLowPassEdge
	default:
		return RoleOther
	}
}

// ResolveIndices assigns a role to every component and checks that the
// train behind the horns reads combiner, cold stop, [dichroic], neutral
// density filter, two low-pass edges and the final filter. The returned
// roles are aligned with comps.
func ResolveIndices(comps []Component, hasDichroic bool) (StageIndex, []Role, error) {
	roles := make([]Role, len(comps))
	horn := -1
	for i, c := range comps {
		r := c.Role
		if r == RoleAuto {
			r = inferRole(c.Name, i == len(comps)-1)
		}
		roles[i] = r
		if r == RoleHorn {
			if horn >= 0 {
				return StageIndex{}, nil, fmt.Errorf("%w: two horn planes (%q and %q)", ErrStageOrder, comps[horn].Name, c.Name)
			}
			horn = i
		}
	}
	if horn < 0 {
		return StageIndex{}, nil, fmt.Errorf("%w: no horn plane (ba2ba)", ErrStageMissing)
	}

	want := []Role{RoleCombiner, RoleColdStop}
	if hasDichroic {
		want = append(want, RoleDichroic)
	}
	want = append(want, RoleNeutralDensity, RoleLowPassEdge, RoleLowPassEdge, RoleFinalFilter)

	pos := make([]int, len(want))
	for k, r := range want {
		i := horn + 1 + k
		if i >= len(comps) {
			return StageIndex{}, nil, fmt.Errorf("%w: %s expected after %q", ErrStageMissing, r, comps[i-1].Name)
		}
		if roles[i] != r {
			return StageIndex{}, nil, fmt.Errorf("%w: %q at position %d is %s, want %s", ErrStageOrder, comps[i].Name, i, roles[i], r)
		}
		pos[k] = i + skyEmitters
	}
	if last := horn + len(want); last != len(comps)-1 {
		return StageIndex{}, nil, fmt.Errorf("%w: %d components after the final filter", ErrStageOrder, len(comps)-1-last)
	}

	idx := StageIndex{
		Horn:     horn + skyEmitters,
		Combiner: pos[0],
		ColdStop: pos[1],
		Dichroic: -1,
	}
	rest := pos[2:]
	if hasDichroic {
		idx.Dichroic = pos[2]
		rest = pos[3:]
	}
	idx.NeutralDensity = rest[0]
	idx.LowPassEdge1 = rest[1]
	idx.LowPassEdge2 = rest[2]
	idx.Final = rest[3]
	return idx, roles, nil
}
