package streamcapture

import (
	"fmt"
	"strings"
)

// NumberConstraint is a constraint on a numeric track property.
//
// Ideal is a soft target: the pipeline scales or drops frames to approach it
// and never fails because of it. Exact, Min and Max are hard requirements the
// source itself must satisfy.
type NumberConstraint struct {
	Exact *float64 `yaml:"exact,omitempty" json:"exact,omitempty"`
	Ideal *float64 `yaml:"ideal,omitempty" json:"ideal,omitempty"`
	Min   *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max   *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// StringConstraint is a constraint on a string track property.
type StringConstraint struct {
	Exact string `yaml:"exact,omitempty" json:"exact,omitempty"`
	Ideal string `yaml:"ideal,omitempty" json:"ideal,omitempty"`
}

// Constraints select and shape a camera track.
type Constraints struct {
	Width      NumberConstraint
	Height     NumberConstraint
	FrameRate  NumberConstraint
	FacingMode StringConstraint
	DeviceID   StringConstraint
}

// Ideal returns a soft numeric constraint.
func Ideal(v float64) NumberConstraint { return NumberConstraint{Ideal: &v} }

// Exact returns a hard numeric constraint.
func Exact(v float64) NumberConstraint { return NumberConstraint{Exact: &v} }

// Range returns a hard numeric range. Zero bounds are left open.
func Range(min, max float64) NumberConstraint {
	var c NumberConstraint
	if min > 0 {
		c.Min = &min
	}
	if max > 0 {
		c.Max = &max
	}
	return c
}

// IsZero reports whether the constraint is unset.
func (c NumberConstraint) IsZero() bool {
	return c.Exact == nil && c.Ideal == nil && c.Min == nil && c.Max == nil
}

// Required reports whether the constraint has a hard component.
func (c NumberConstraint) Required() bool {
	return c.Exact != nil || c.Min != nil || c.Max != nil
}

// Target is the value the pipeline aims for: Exact, then Ideal, then the
// nearest bound. ok is false for an unset constraint.
func (c NumberConstraint) Target() (v float64, ok bool) {
	switch {
	case c.Exact != nil:
		return *c.Exact, true
	case c.Ideal != nil:
		v = *c.Ideal
		if c.Min != nil && v < *c.Min {
			v = *c.Min
		}
		if c.Max != nil && v > *c.Max {
			v = *c.Max
		}
		return v, true
	case c.Min != nil:
		return *c.Min, true
	case c.Max != nil:
		return *c.Max, true
	default:
		return 0, false
	}
}

// Validate rejects contradictory bounds.
func (c NumberConstraint) Validate(name string) error {
	if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
		return fmt.Errorf("stream-capture: %s: min %.2f > max %.2f", name, *c.Min, *c.Max)
	}
	if c.Exact != nil {
		if c.Min != nil && *c.Exact < *c.Min || c.Max != nil && *c.Exact > *c.Max {
			return fmt.Errorf("stream-capture: %s: exact %.2f outside [min, max]", name, *c.Exact)
		}
		if *c.Exact <= 0 {
			return fmt.Errorf("stream-capture: %s: exact must be positive", name)
		}
	}
	return nil
}

func (c NumberConstraint) String() string {
	var parts []string
	add := func(k string, v *float64) {
		if v != nil {
			parts = append(parts, fmt.Sprintf("%s=%g", k, *v))
		}
	}
	add("exact", c.Exact)
	add("ideal", c.Ideal)
	add("min", c.Min)
	add("max", c.Max)
	return "{" + strings.Join(parts, ",") + "}"
}

// IsZero reports whether the constraint is unset.
func (c StringConstraint) IsZero() bool { return c.Exact == "" && c.Ideal == "" }

// Value returns Exact if set, otherwise Ideal.
func (c StringConstraint) Value() string {
	if c.Exact != "" {
		return c.Exact
	}
	return c.Ideal
}

// Validate checks every numeric constraint.
func (c Constraints) Validate() error {
	for name, nc := range map[string]NumberConstraint{
		"width":     c.Width,
		"height":    c.Height,
		"frameRate": c.FrameRate,
	} {
		if err := nc.Validate(name); err != nil {
			return err
		}
	}
	return nil
}

// NumberFrom normalizes a caller-supplied value into a NumberConstraint.
//
// Numeric scalars become Ideal. A NumberConstraint (or pointer to one) and a
// map with exact/ideal/min/max keys are used verbatim. true and nil mean
// unconstrained; false is rejected because a scan needs video.
func NumberFrom(v any) (NumberConstraint, error) {
	switch t := v.(type) {
	case nil:
		return NumberConstraint{}, nil
	case NumberConstraint:
		return t, nil
	case *NumberConstraint:
		if t == nil {
			return NumberConstraint{}, nil
		}
		return *t, nil
	case bool:
		if !t {
			return NumberConstraint{}, fmt.Errorf("stream-capture: constraint false disables video")
		}
		return NumberConstraint{}, nil
	case map[string]any:
		return numberFromMap(t)
	default:
		f, ok := toFloat(v)
		if !ok {
			return NumberConstraint{}, fmt.Errorf("stream-capture: unsupported numeric constraint %T", v)
		}
		return Ideal(f), nil
	}
}

func numberFromMap(m map[string]any) (NumberConstraint, error) {
	var c NumberConstraint
	for k, raw := range m {
		f, ok := toFloat(raw)
		if !ok {
			return NumberConstraint{}, fmt.Errorf("stream-capture: constraint %q: %T is not a number", k, raw)
		}
		switch strings.ToLower(k) {
		case "exact":
			c.Exact = &f
		case "ideal":
			c.Ideal = &f
		case "min":
			c.Min = &f
		case "max":
			c.Max = &f
		default:
			return NumberConstraint{}, fmt.Errorf("stream-capture: unknown constraint key %q", k)
		}
	}
	return c, nil
}

// StringFrom normalizes a caller-supplied value into a StringConstraint.
// Strings become Ideal; StringConstraint values and exact/ideal maps are used
// verbatim.
func StringFrom(v any) (StringConstraint, error) {
	switch t := v.(type) {
	case nil:
		return StringConstraint{}, nil
	case string:
		return StringConstraint{Ideal: t}, nil
	case StringConstraint:
		return t, nil
	case *StringConstraint:
		if t == nil {
			return StringConstraint{}, nil
		}
		return *t, nil
	case bool:
		if !t {
			return StringConstraint{}, fmt.Errorf("stream-capture: constraint false disables video")
		}
		return StringConstraint{}, nil
	case map[string]any:
		var c StringConstraint
		for k, raw := range t {
			s, ok := raw.(string)
			if !ok {
				return StringConstraint{}, fmt.Errorf("stream-capture: constraint %q: %T is not a string", k, raw)
			}
			switch strings.ToLower(k) {
			case "exact":
				c.Exact = s
			case "ideal":
				c.Ideal = s
			default:
				return StringConstraint{}, fmt.Errorf("stream-capture: unknown constraint key %q", k)
			}
		}
		return c, nil
	default:
		return StringConstraint{}, fmt.Errorf("stream-capture: unsupported string constraint %T", v)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// framerateFraction renders fps as a GStreamer fraction.
//
//   - fps >= 1.0: framerate = fps/1 (e.g., 12.0 → 12/1)
//   - fps < 1.0: framerate = 1/(1/fps) (e.g., 0.5 → 1/2)
func framerateFraction(fps float64) string {
	if fps < 1.0 {
		return fmt.Sprintf("1/%d", int(1.0/fps+0.5))
	}
	if fps == float64(int(fps)) {
		return fmt.Sprintf("%d/1", int(fps))
	}
	return fmt.Sprintf("%d/1000", int(fps*1000+0.5))
}

// strictCaps renders the hard constraints as caps applied right after the
// source. Empty when nothing is required.
func strictCaps(c Constraints) string {
	var parts []string
	if s := intField("width", c.Width); s != "" {
		parts = append(parts, s)
	}
	if s := intField("height", c.Height); s != "" {
		parts = append(parts, s)
	}
	if s := fractionField(c.FrameRate); s != "" {
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return ""
	}
	return "video/x-raw," + strings.Join(parts, ",")
}

func intField(name string, c NumberConstraint) string {
	switch {
	case c.Exact != nil:
		return fmt.Sprintf("%s=%d", name, int(*c.Exact))
	case c.Min != nil || c.Max != nil:
		lo, hi := 1, 32768
		if c.Min != nil {
			lo = int(*c.Min)
		}
		if c.Max != nil {
			hi = int(*c.Max)
		}
		return fmt.Sprintf("%s=(int)[ %d, %d ]", name, lo, hi)
	default:
		return ""
	}
}

func fractionField(c NumberConstraint) string {
	switch {
	case c.Exact != nil:
		return "framerate=" + framerateFraction(*c.Exact)
	case c.Min != nil || c.Max != nil:
		lo, hi := "0/1", "2147483647/1"
		if c.Min != nil {
			lo = framerateFraction(*c.Min)
		}
		if c.Max != nil {
			hi = framerateFraction(*c.Max)
		}
		return fmt.Sprintf("framerate=(fraction)[ %s, %s ]", lo, hi)
	default:
		return ""
	}
}

// outputCaps renders the final GRAY8 caps with the soft geometry. Hard
// constraints were already enforced upstream. A soft frame rate is applied
// through videorate max-rate instead (see idealMaxRate), except below 1 fps
// where only caps can express it.
func outputCaps(c Constraints) string {
	caps := "video/x-raw,format=GRAY8"
	if c.Width.Ideal != nil && !c.Width.Required() {
		caps += fmt.Sprintf(",width=%d", int(*c.Width.Ideal))
	}
	if c.Height.Ideal != nil && !c.Height.Required() {
		caps += fmt.Sprintf(",height=%d", int(*c.Height.Ideal))
	}
	if c.FrameRate.Ideal != nil && !c.FrameRate.Required() && *c.FrameRate.Ideal < 1 {
		caps += ",framerate=" + framerateFraction(*c.FrameRate.Ideal)
	}
	return caps
}

// idealMaxRate returns the videorate max-rate for a soft frame rate, or 0.
// videorate in drop-only mode cannot raise the rate, so a soft target above
// what the source delivers leaves the source rate untouched.
func idealMaxRate(c Constraints) int {
	if c.FrameRate.Ideal == nil || c.FrameRate.Required() || *c.FrameRate.Ideal < 1 {
		return 0
	}
	return int(*c.FrameRate.Ideal + 0.5)
}
