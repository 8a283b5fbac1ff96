package splitter

import (
	"fmt"
	"math"
	"runtime"

	"github.com/local/markersplit/internal/match"
	"github.com/local/markersplit/internal/pdfdoc"
)

// Rasterization zoom presets.
const (
	ZoomFast         = 1.2
	ZoomHighFidelity = 2.0
)

// Options tune one Split call. The zero value means defaults throughout.
// The switches are pointers so an explicit false survives Merge.
type Options struct {
	Threshold float64       `json:"threshold,omitempty"`
	Profile   match.Profile `json:"profile,omitempty"`
	// Scales overrides Profile when set.
	Scales             []float64 `json:"scales,omitempty"`
	Zoom               float64   `json:"zoom,omitempty"`
	Parallel           *bool     `json:"parallel,omitempty"`
	Workers            int       `json:"workers,omitempty"`
	DigitalSamplePages int       `json:"digital_sample_pages,omitempty"`
	DisableFastPath    *bool     `json:"disable_fast_path,omitempty"`
}

// Bool returns a pointer to v, for the switch fields of Options.
func Bool(v bool) *bool { return &v }

// DefaultOptions returns the fast profile at fast zoom, scanning sequentially.
func DefaultOptions() Options {
	return Options{}.WithDefaults()
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.Threshold == 0 {
		o.Threshold = match.DefaultThreshold
	}
	if o.Profile == "" {
		o.Profile = match.ProfileFast
	}
	if o.Zoom <= 0 {
		o.Zoom = ZoomFast
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.DigitalSamplePages <= 0 {
		o.DigitalSamplePages = pdfdoc.DefaultSamplePages
	}
	return o
}

// ParallelScan reports whether pages are classified on a worker pool.
func (o Options) ParallelScan() bool { return o.Parallel != nil && *o.Parallel }

// FastPathDisabled reports whether digital documents skip the embedded-image pass.
func (o Options) FastPathDisabled() bool { return o.DisableFastPath != nil && *o.DisableFastPath }

// Validate rejects values no default can stand in for. Zero values are
// accepted since they select the defaults.
func (o Options) Validate() error {
	if !(o.Threshold >= -1 && o.Threshold <= 1) {
		return &OptionsError{Field: "threshold", Err: fmt.Errorf("%v outside [-1, 1]", o.Threshold)}
	}
	if math.IsNaN(o.Zoom) || math.IsInf(o.Zoom, 0) || o.Zoom < 0 {
		return &OptionsError{Field: "zoom", Err: fmt.Errorf("%v is not a positive number", o.Zoom)}
	}
	if o.Profile != "" {
		if _, err := match.ParseProfile(string(o.Profile)); err != nil {
			return &OptionsError{Field: "profile", Err: err}
		}
	}
	if err := match.CheckScales(o.Scales); err != nil {
		return &OptionsError{Field: "scales", Err: err}
	}
	if o.Workers < 0 {
		return &OptionsError{Field: "workers", Err: fmt.Errorf("%d is negative", o.Workers)}
	}
	return nil
}

func (o Options) params() match.Params {
	scales := match.SortScales(o.Scales)
	if len(scales) == 0 {
		scales = o.Profile.Scales()
	}
	return match.Params{Threshold: o.Threshold, Scales: scales}
}

// Merge fills the unset fields of o from base. Switches set on o, true or
// false, win over base.
func (o Options) Merge(base Options) Options {
	if o.Threshold == 0 {
		o.Threshold = base.Threshold
	}
	if o.Profile == "" {
		o.Profile = base.Profile
	}
	if len(o.Scales) == 0 {
		o.Scales = base.Scales
	}
	if o.Zoom <= 0 {
		o.Zoom = base.Zoom
	}
	if o.Workers <= 0 {
		o.Workers = base.Workers
	}
	if o.DigitalSamplePages <= 0 {
		o.DigitalSamplePages = base.DigitalSamplePages
	}
	if o.Parallel == nil {
		o.Parallel = base.Parallel
	}
	if o.DisableFastPath == nil {
		o.DisableFastPath = base.DisableFastPath
	}
	return o
}
