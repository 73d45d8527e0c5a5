package tuning

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const ProtocolVersion = "1.0"

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	MaxLevel     int     `yaml:"max_level"`
	TimeLimitS   float64 `yaml:"time_limit_s"`
	TickInterval int     `yaml:"tick_interval_ms"`
	SameProb     float64 `yaml:"same_prob"`

	Scoring Scoring `yaml:"scoring"`

	CubeBands     []CubeBand     `yaml:"cube_bands"`
	NearMissBands []NearMissBand `yaml:"near_miss_bands"`

	Retries Retries `yaml:"retries"`

	// Size range for the unrelated shape returned when no near-miss move is
	// found within Retries.NearMiss tries.
	NearMissFallback CubeRange `yaml:"near_miss_fallback"`
}

type Scoring struct {
	Correct   int `yaml:"correct"`
	Incorrect int `yaml:"incorrect"`
}

type CubeRange struct {
	MinCubes int `yaml:"min_cubes"`
	MaxCubes int `yaml:"max_cubes"`
}

// CubeBand applies from FromLevel until the next band's FromLevel.
type CubeBand struct {
	FromLevel int `yaml:"from_level"`
	CubeRange `yaml:",inline"`
}

// NearMissBand applies from FromLevel until the next band's FromLevel. Its
// thresholds are independent of CubeBands.
type NearMissBand struct {
	FromLevel   int     `yaml:"from_level"`
	Probability float64 `yaml:"probability"`
}

type Retries struct {
	GrowAttemptsPerCube int `yaml:"grow_attempts_per_cube"`
	Asymmetry           int `yaml:"asymmetry"`
	NearMiss            int `yaml:"near_miss"`
	Unrelated           int `yaml:"unrelated"`
	Match               int `yaml:"match"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: ProtocolVersion,
		MaxLevel:        25,
		TimeLimitS:      5,
		TickInterval:    100,
		SameProb:        0.5,
		Scoring:         Scoring{Correct: 10, Incorrect: -2},
		CubeBands: []CubeBand{
			{FromLevel: 1, CubeRange: CubeRange{MinCubes: 8, MaxCubes: 12}},
			{FromLevel: 6, CubeRange: CubeRange{MinCubes: 10, MaxCubes: 14}},
			{FromLevel: 11, CubeRange: CubeRange{MinCubes: 12, MaxCubes: 16}},
			{FromLevel: 16, CubeRange: CubeRange{MinCubes: 14, MaxCubes: 18}},
			{FromLevel: 21, CubeRange: CubeRange{MinCubes: 16, MaxCubes: 22}},
		},
		NearMissBands: []NearMissBand{
			{FromLevel: 1, Probability: 0},
			{FromLevel: 8, Probability: 0.4},
			{FromLevel: 14, Probability: 0.7},
			{FromLevel: 20, Probability: 0.9},
		},
		Retries: Retries{
			GrowAttemptsPerCube: 1000,
			Asymmetry:           20,
			NearMiss:            200,
			Unrelated:           200,
			Match:               16,
		},
		NearMissFallback: CubeRange{MinCubes: 12, MaxCubes: 18},
	}
}

// Load reads a tuning file on top of Defaults. Keys missing from the file
// keep their default values; band lists in the file replace the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize sorts the band lists by FromLevel.
func (t *Tuning) Normalize() {
	sort.SliceStable(t.CubeBands, func(i, j int) bool { return t.CubeBands[i].FromLevel < t.CubeBands[j].FromLevel })
	sort.SliceStable(t.NearMissBands, func(i, j int) bool {
		return t.NearMissBands[i].FromLevel < t.NearMissBands[j].FromLevel
	})
}

func (t Tuning) Validate() error {
	if t.MaxLevel < 1 {
		return fmt.Errorf("max_level must be >= 1")
	}
	if t.TimeLimitS <= 0 {
		return fmt.Errorf("time_limit_s must be > 0")
	}
	if t.TickInterval <= 0 {
		return fmt.Errorf("tick_interval_ms must be > 0")
	}
	if t.SameProb < 0 || t.SameProb > 1 {
		return fmt.Errorf("same_prob must be in [0,1]")
	}
	if len(t.CubeBands) == 0 || t.CubeBands[0].FromLevel > 1 {
		return fmt.Errorf("cube_bands must start at level 1")
	}
	for i, b := range t.CubeBands {
		if err := b.CubeRange.validate(); err != nil {
			return fmt.Errorf("cube_bands[%d]: %w", i, err)
		}
		if i > 0 && b.FromLevel == t.CubeBands[i-1].FromLevel {
			return fmt.Errorf("cube_bands[%d]: duplicate from_level %d", i, b.FromLevel)
		}
	}
	if len(t.NearMissBands) == 0 || t.NearMissBands[0].FromLevel > 1 {
		return fmt.Errorf("near_miss_bands must start at level 1")
	}
	for i, b := range t.NearMissBands {
		if b.Probability < 0 || b.Probability > 1 {
			return fmt.Errorf("near_miss_bands[%d]: probability must be in [0,1]", i)
		}
		if i > 0 && b.FromLevel == t.NearMissBands[i-1].FromLevel {
			return fmt.Errorf("near_miss_bands[%d]: duplicate from_level %d", i, b.FromLevel)
		}
	}
	if err := t.NearMissFallback.validate(); err != nil {
		return fmt.Errorf("near_miss_fallback: %w", err)
	}
	r := t.Retries
	if r.GrowAttemptsPerCube < 1 || r.Asymmetry < 1 || r.NearMiss < 1 || r.Unrelated < 1 || r.Match < 1 {
		return fmt.Errorf("retries must all be >= 1")
	}
	return nil
}

func (r CubeRange) validate() error {
	if r.MinCubes < 1 {
		return fmt.Errorf("min_cubes must be >= 1")
	}
	if r.MaxCubes < r.MinCubes {
		return fmt.Errorf("max_cubes must be >= min_cubes")
	}
	return nil
}

// ClampLevel keeps level inside [1, MaxLevel].
func (t Tuning) ClampLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > t.MaxLevel {
		return t.MaxLevel
	}
	return level
}

// CubesForLevel returns the cube-count range of the band containing level.
func (t Tuning) CubesForLevel(level int) CubeRange {
	out := t.CubeBands[0].CubeRange
	for _, b := range t.CubeBands {
		if level >= b.FromLevel {
			out = b.CubeRange
		}
	}
	return out
}

func (t Tuning) NearMissChance(level int) float64 {
	p := t.NearMissBands[0].Probability
	for _, b := range t.NearMissBands {
		if level >= b.FromLevel {
			p = b.Probability
		}
	}
	return p
}

func (t Tuning) TimeLimit() time.Duration {
	return time.Duration(t.TimeLimitS * float64(time.Second))
}

func (t Tuning) TickEvery() time.Duration {
	return time.Duration(t.TickInterval) * time.Millisecond
}
