// Package blueprint maps recorded actor classes and type ids to spawnable
// simulator prototypes.
package blueprint

import (
	"sort"
	"strings"

	"github.com/b2d-phantom/recorder/pkg/core"
)

// Well-known prototypes.
const (
	GenericVehicle = "vehicle.tesla.model3"
	EgoVehicle     = "vehicle.lincoln.mkz_2020"
	Pedestrian     = "walker.pedestrian.0001"
	SignProp       = "static.prop.streetsign"
	Fallback       = "static.prop.fountain"
	Lidar          = "sensor.lidar.ray_cast"
)

// MeshPathPrefix marks type ids that are engine asset paths rather than
// prototype names.
const MeshPathPrefix = "/Game/"

// MeshEntry maps a substring of an asset path to a vehicle prototype.
type MeshEntry struct {
	Substring string
	Blueprint string
}

// MeshTable is checked in order; the first matching substring wins.
var MeshTable = []MeshEntry{
	{"Charger", "vehicle.dodge.charger_2020"},
	{"FordCrown", "vehicle.ford.crown"},
	{"Lincoln", "vehicle.lincoln.mkz_2020"},
	{"MercedesCCC", "vehicle.mercedes.coupe_2020"},
	{"NissanPatrol2021", "vehicle.nissan.patrol_2021"},
}

// ClassTable maps an annotation class to a substitute prototype.
var ClassTable = map[string]string{
	core.ClassEgoVehicle:   EgoVehicle,
	core.ClassVehicle:      GenericVehicle,
	core.ClassWalker:       Pedestrian,
	core.ClassTrafficLight: SignProp,
	core.ClassTrafficSign:  SignProp,
}

// Library reports which prototypes the simulator can spawn.
type Library interface {
	Has(name string) bool
}

// Set is a Library backed by a fixed list of names.
type Set map[string]struct{}

func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the sorted prototype names.
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Strategy proposes a prototype for a recorded actor.
type Strategy interface {
	Name() string
	Candidate(class, typeID string) (string, bool)
}

// MeshPath resolves engine asset paths through MeshTable, defaulting to
// GenericVehicle. It ignores the class.
type MeshPath struct{}

func (MeshPath) Name() string { return "mesh-path" }

func (MeshPath) Candidate(_, typeID string) (string, bool) {
	if !strings.HasPrefix(typeID, MeshPathPrefix) {
		return "", false
	}
	for _, e := range MeshTable {
		if strings.Contains(typeID, e.Substring) {
			return e.Blueprint, true
		}
	}
	return GenericVehicle, true
}

// ExactMatch proposes the recorded type id itself.
type ExactMatch struct{}

func (ExactMatch) Name() string { return "exact-match" }

func (ExactMatch) Candidate(_, typeID string) (string, bool) {
	if typeID == "" {
		return "", false
	}
	return typeID, true
}

// ClassLookup substitutes a prototype by annotation class. Unknown classes
// get Fallback.
type ClassLookup struct{}

func (ClassLookup) Name() string { return "class-table" }

func (ClassLookup) Candidate(class, _ string) (string, bool) {
	if bp, ok := ClassTable[class]; ok {
		return bp, true
	}
	return Fallback, true
}

// Default always proposes Fallback.
type Default struct{}

func (Default) Name() string { return "default" }

func (Default) Candidate(string, string) (string, bool) { return Fallback, true }

// DefaultChain is the resolution order used by NewResolver.
func DefaultChain() []Strategy {
	return []Strategy{MeshPath{}, ExactMatch{}, ClassLookup{}, Default{}}
}

// Resolution is the outcome of a lookup.
type Resolution struct {
	Blueprint string
	Strategy  string
}

// Resolver walks a strategy chain. A candidate is only accepted when the
// library has it; the last strategy of the chain is accepted as is.
type Resolver struct {
	lib   Library
	chain []Strategy
}

// NewResolver returns a Resolver over lib using DefaultChain. A nil lib
// accepts nothing but the final fallback.
func NewResolver(lib Library) *Resolver {
	return NewResolverWithChain(lib, DefaultChain()...)
}

// NewResolverWithChain uses a custom chain. Default is appended when the
// chain does not already end with it, so resolution stays total.
func NewResolverWithChain(lib Library, chain ...Strategy) *Resolver {
	if lib == nil {
		lib = Set{}
	}
	if len(chain) == 0 {
		chain = []Strategy{Default{}}
	} else if _, ok := chain[len(chain)-1].(Default); !ok {
		chain = append(chain, Default{})
	}
	return &Resolver{lib: lib, chain: chain}
}

// Resolve returns the prototype to spawn for a recorded actor. It never fails.
func (r *Resolver) Resolve(class, typeID string) string {
	return r.Explain(class, typeID).Blueprint
}

// Explain is Resolve plus the name of the winning strategy.
func (r *Resolver) Explain(class, typeID string) Resolution {
	last := len(r.chain) - 1
	for i, s := range r.chain {
		bp, ok := r.candidate(s, class, typeID)
		if !ok {
			continue
		}
		if i == last || r.has(bp) {
			return Resolution{Blueprint: bp, Strategy: s.Name()}
		}
	}
	return Resolution{Blueprint: Fallback, Strategy: Default{}.Name()}
}

// candidate and has downgrade a panicking strategy or library to a miss.
func (r *Resolver) candidate(s Strategy, class, typeID string) (bp string, ok bool) {
	defer func() {
		if recover() != nil {
			bp, ok = "", false
		}
	}()
	return s.Candidate(class, typeID)
}

func (r *Resolver) has(name string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return r.lib.Has(name)
}
