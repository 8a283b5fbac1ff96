package match

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// DefaultThreshold is the NCC score a window must reach to count as a match.
const DefaultThreshold = 0.7

// Profile names a predefined scale sweep.
type Profile string

const (
	ProfileFast     Profile = "fast"     // 12 steps over 0.4..1.6
	ProfileThorough Profile = "thorough" // 28 steps over 0.3..3.0
)

// ParseProfile maps a configuration string to a Profile. Empty means fast.
func ParseProfile(s string) (Profile, error) {
	switch Profile(strings.ToLower(strings.TrimSpace(s))) {
	case "", ProfileFast:
		return ProfileFast, nil
	case ProfileThorough:
		return ProfileThorough, nil
	default:
		return "", fmt.Errorf("unknown scale profile %q", s)
	}
}

// Scales returns the ascending scale factors swept by the profile.
func (p Profile) Scales() []float64 {
	if p == ProfileThorough {
		return Linspace(0.3, 3.0, 28)
	}
	return Linspace(0.4, 1.6, 12)
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// Params carries the per-call matching configuration. It is passed into
// every matching call explicitly; nothing here is package state.
type Params struct {
	Threshold float64
	Scales    []float64 // ascending
}

// DefaultParams returns the fast profile at the default threshold.
func DefaultParams() Params {
	return Params{Threshold: DefaultThreshold, Scales: ProfileFast.Scales()}
}

// WithDefaults fills a zero threshold or an empty sweep and puts the sweep
// in ascending order.
func (p Params) WithDefaults() Params {
	if p.Threshold == 0 {
		p.Threshold = DefaultThreshold
	}
	if !ascending(p.Scales) {
		p.Scales = SortScales(p.Scales)
	}
	if len(p.Scales) == 0 {
		p.Scales = ProfileFast.Scales()
	}
	return p
}

// CheckScales rejects scale factors that are not finite and positive.
func CheckScales(scales []float64) error {
	for _, s := range scales {
		if !validScale(s) {
			return fmt.Errorf("invalid scale factor %v", s)
		}
	}
	return nil
}

// SortScales returns the finite positive factors of scales in ascending
// order without duplicates. The input is left untouched.
func SortScales(scales []float64) []float64 {
	out := make([]float64, 0, len(scales))
	for _, s := range scales {
		if validScale(s) {
			out = append(out, s)
		}
	}
	sort.Float64s(out)
	n := 0
	for i, s := range out {
		if i > 0 && s == out[n-1] {
			continue
		}
		out[n] = s
		n++
	}
	return out[:n]
}

func validScale(s float64) bool {
	return s > 0 && !math.IsInf(s, 0) && !math.IsNaN(s)
}

func ascending(scales []float64) bool {
	for i, s := range scales {
		if !validScale(s) || (i > 0 && s <= scales[i-1]) {
			return false
		}
	}
	return true
}
