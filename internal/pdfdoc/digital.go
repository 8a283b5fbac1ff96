package pdfdoc

import (
	"regexp"
	"time"
)

// DefaultSamplePages is how many leading pages are probed for text.
const DefaultSamplePages = 3

// PageProbe captures the result of probing a single page for text.
type PageProbe struct {
	PageIndex int    `json:"page_index"`
	CharCount int    `json:"char_count"`
	Err       string `json:"err,omitempty"`
}

// Diagnostics describes how a document was classified.
type Diagnostics struct {
	TotalPages int         `json:"total_pages"`
	Probes     []PageProbe `json:"probes"`
	Digital    bool        `json:"digital"`
	DurationMs int64       `json:"duration_ms"`
}

var whitespaceRegex = regexp.MustCompile(`\s+`)

// IsDigital reports whether any of the first samplePages pages yields
// extractable text. Digital documents usually carry their images as
// directly extractable objects, which makes the embedded-image path worth
// trying. A failing probe counts as no text.
func IsDigital(doc Document, samplePages int) (bool, *Diagnostics) {
	if samplePages <= 0 {
		samplePages = DefaultSamplePages
	}
	start := time.Now()
	total := doc.NumPage()
	diag := &Diagnostics{TotalPages: total}

	for i := 0; i < total && i < samplePages; i++ {
		probe := PageProbe{PageIndex: i}
		text, err := doc.Text(i)
		if err != nil {
			probe.Err = err.Error()
			diag.Probes = append(diag.Probes, probe)
			continue
		}
		probe.CharCount = len([]rune(whitespaceRegex.ReplaceAllString(text, "")))
		diag.Probes = append(diag.Probes, probe)
		if probe.CharCount > 0 {
			diag.Digital = true
			break
		}
	}
	diag.DurationMs = time.Since(start).Milliseconds()
	return diag.Digital, diag
}
