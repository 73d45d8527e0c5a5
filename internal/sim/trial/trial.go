package trial

import (
	"voxelmind.ai/internal/sim/geom"
	"voxelmind.ai/internal/sim/rotation"
)

type Kind string

const (
	KindMatch            Kind = "match"
	KindNearMiss         Kind = "near_miss"
	KindNearMissFallback Kind = "near_miss_fallback"
	KindUnrelated        Kind = "unrelated"
)

// Trial is one target/probe pair. The zero value is not a valid trial; build
// one with New or a Composer. Accessors return copies, so a Trial can be
// handed to renderers and loggers without further copying.
type Trial struct {
	id         string
	target     geom.Polycube
	probe      geom.Polycube
	truth      bool
	level      int
	kind       Kind
	probeSteps rotation.Steps
}

type Params struct {
	ID     string
	Target geom.Polycube
	Probe  geom.Polycube
	Truth  bool
	Level  int
	Kind   Kind
	// Steps is the rotation applied to Target to produce Probe for matches.
	Steps rotation.Steps
}

func New(p Params) Trial {
	kind := p.Kind
	if kind == "" {
		if p.Truth {
			kind = KindMatch
		} else {
			kind = KindUnrelated
		}
	}
	return Trial{
		id:         p.ID,
		target:     p.Target.Clone(),
		probe:      p.Probe.Clone(),
		truth:      p.Truth,
		level:      p.Level,
		kind:       kind,
		probeSteps: p.Steps,
	}
}

func (t Trial) ID() string                 { return t.id }
func (t Trial) Target() geom.Polycube      { return t.target.Clone() }
func (t Trial) Probe() geom.Polycube       { return t.probe.Clone() }
func (t Trial) Truth() bool                { return t.truth }
func (t Trial) Level() int                 { return t.level }
func (t Trial) CubeCount() int             { return len(t.target) }
func (t Trial) Kind() Kind                 { return t.kind }
func (t Trial) ProbeSteps() rotation.Steps { return t.probeSteps }

// IsNearMiss reports whether the near-miss path was taken, including the
// case where it fell back to an unrelated shape.
func (t Trial) IsNearMiss() bool {
	return t.kind == KindNearMiss || t.kind == KindNearMissFallback
}

func (t Trial) IsZero() bool { return t.id == "" && len(t.target) == 0 }
