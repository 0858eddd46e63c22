// Package pattern turns slot indices into animated 3-D positions. Every
// strategy is a pure function of (slot, capacity, time, config): no
// membership state, total and finite over slot in [0, capacity) for every
// non-negative time, and continuous in time.
package pattern

import "math"

// Vec3 is a position in scene units.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rotation is an XYZ Euler orientation in radians.
type Rotation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Config carries the tunables shared by all strategies. The zero value is
// normalized to sane defaults by Normalize.
type Config struct {
	Spacing      float64 // grid cell size
	Columns      int     // grid columns; 0 derives near-square from capacity
	Radius       float64 // spiral/float spread
	Amplitude    float64 // wave/float vertical travel
	Wavelength   float64 // wave spatial period
	Speed        float64 // time scale for all motion
	VerticalStep float64 // spiral climb per slot
}

// Normalize fills zero fields with defaults and returns the result.
func (c Config) Normalize() Config {
	if c.Spacing <= 0 {
		c.Spacing = 1.2
	}
	if c.Radius <= 0 {
		c.Radius = 6
	}
	if c.Amplitude <= 0 {
		c.Amplitude = 0.5
	}
	if c.Wavelength <= 0 {
		c.Wavelength = 4
	}
	if c.Speed <= 0 {
		c.Speed = 1
	}
	if c.VerticalStep <= 0 {
		c.VerticalStep = 0.15
	}
	return c
}

// Func computes the placement of one slot at elapsed time t (seconds).
// Callers must keep slot within [0, capacity); the generator does not
// recover from contract violations.
type Func func(slot, capacity int, t float64, cfg Config) (Vec3, Rotation)

const (
	Grid   = "grid"
	Float  = "float"
	Wave   = "wave"
	Spiral = "spiral"
)

var registry = map[string]Func{
	Grid:   gridPattern,
	Float:  floatPattern,
	Wave:   wavePattern,
	Spiral: spiralPattern,
}

// ForName looks up a strategy. The second result is false for unknown names.
func ForName(name string) (Func, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Names lists the registered strategies in stable order.
func Names() []string {
	return []string{Grid, Float, Wave, Spiral}
}

// goldenAngle spreads spiral slots without radial banding.
const goldenAngle = math.Pi * (3 - 2.2360679774997896) // pi * (3 - sqrt 5)

func gridDims(capacity, columns int) (cols, rows int) {
	if capacity <= 0 {
		return 1, 1
	}
	cols = columns
	if cols <= 0 {
		cols = int(math.Ceil(math.Sqrt(float64(capacity))))
	}
	rows = (capacity + cols - 1) / cols
	return cols, rows
}

func gridPattern(slot, capacity int, t float64, cfg Config) (Vec3, Rotation) {
	cfg = cfg.Normalize()
	cols, rows := gridDims(capacity, cfg.Columns)
	col := slot % cols
	row := slot / cols

	x := (float64(col) - float64(cols-1)/2) * cfg.Spacing
	y := (float64(rows-1)/2 - float64(row)) * cfg.Spacing
	// gentle breathing so a static wall still reads as alive
	z := 0.08 * cfg.Amplitude * math.Sin(t*cfg.Speed*0.5+float64(slot)*0.7)

	rot := Rotation{
		X: 0.02 * math.Sin(t*cfg.Speed*0.3+float64(row)),
		Y: 0.02 * math.Cos(t*cfg.Speed*0.3+float64(col)),
	}
	return Vec3{X: x, Y: y, Z: z}, rot
}

func floatPattern(slot, capacity int, t float64, cfg Config) (Vec3, Rotation) {
	cfg = cfg.Normalize()
	// per-slot phases and anchor derived from a hash so the drift field is
	// stable across processes without any shared state
	h := splitmix64(uint64(slot) + 0x9e3779b97f4a7c15)
	ax := unit(h) // in [0,1)
	h = splitmix64(h)
	ay := unit(h)
	h = splitmix64(h)
	az := unit(h)
	h = splitmix64(h)
	phase := unit(h) * 2 * math.Pi

	anchor := Vec3{
		X: (ax*2 - 1) * cfg.Radius,
		Y: (ay*2 - 1) * cfg.Radius * 0.6,
		Z: (az*2 - 1) * cfg.Radius * 0.4,
	}
	w := cfg.Speed * (0.4 + 0.3*unit(splitmix64(h)))
	pos := Vec3{
		X: anchor.X + 0.4*cfg.Amplitude*math.Sin(w*t+phase),
		Y: anchor.Y + cfg.Amplitude*math.Sin(w*t*0.8+phase*1.7),
		Z: anchor.Z + 0.4*cfg.Amplitude*math.Cos(w*t*0.6+phase),
	}
	rot := Rotation{
		Y: 0.1 * math.Sin(w*t*0.5+phase),
		Z: 0.05 * math.Cos(w*t*0.4+phase),
	}
	return pos, rot
}

func wavePattern(slot, capacity int, t float64, cfg Config) (Vec3, Rotation) {
	cfg = cfg.Normalize()
	cols, rows := gridDims(capacity, cfg.Columns)
	col := slot % cols
	row := slot / cols

	x := (float64(col) - float64(cols-1)/2) * cfg.Spacing
	z := (float64(row) - float64(rows-1)/2) * cfg.Spacing
	k := 2 * math.Pi / cfg.Wavelength
	arg := k*x - cfg.Speed*t + float64(row)*0.5
	y := cfg.Amplitude * math.Sin(arg)

	// tilt panels along the local slope of the wave surface
	slope := cfg.Amplitude * k * math.Cos(arg)
	rot := Rotation{Z: -math.Atan(slope) * 0.5}
	return Vec3{X: x, Y: y, Z: z}, rot
}

func spiralPattern(slot, capacity int, t float64, cfg Config) (Vec3, Rotation) {
	cfg = cfg.Normalize()
	angle := float64(slot)*goldenAngle + cfg.Speed*t*0.2
	radius := cfg.Radius * math.Sqrt(float64(slot)+1) / math.Sqrt(float64(max(capacity, 1)))
	y := (float64(slot) - float64(max(capacity-1, 0))/2) * cfg.VerticalStep

	pos := Vec3{
		X: radius * math.Cos(angle),
		Y: y,
		Z: radius * math.Sin(angle),
	}
	// face the spiral axis
	rot := Rotation{Y: -angle + math.Pi/2}
	return pos, rot
}

func unit(h uint64) float64 {
	return float64(h>>11) / float64(1<<53)
}
