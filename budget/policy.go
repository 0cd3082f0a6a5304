package budget

import "github.com/martinemde/agentgraph/model"

const (
	DefaultTrimRatio    = 0.70
	DefaultCompactRatio = 0.92
	DefaultKeepRecent   = 10
)

// Policy holds the thresholds applied against a model's context window.
type Policy struct {
	ContextWindow int
	TrimRatio     float64
	CompactRatio  float64
	// KeepRecent is how many of the newest messages trimming never touches.
	KeepRecent int
}

// DefaultPolicy returns the default thresholds for a window. A
// non-positive window falls back to the catalog default.
func DefaultPolicy(window int) Policy {
	if window <= 0 {
		window = model.DefaultContextWindow
	}
	return Policy{
		ContextWindow: window,
		TrimRatio:     DefaultTrimRatio,
		CompactRatio:  DefaultCompactRatio,
		KeepRecent:    DefaultKeepRecent,
	}
}

// TrimThreshold is the token count the degraded trim aims for.
func (p Policy) TrimThreshold() int {
	return int(float64(p.ContextWindow) * p.TrimRatio)
}

// CompactThreshold is the token count at which check routes to summarize.
func (p Policy) CompactThreshold() int {
	return int(float64(p.ContextWindow) * p.CompactRatio)
}

// ShouldCompact reports whether tokens reaches the compaction threshold.
func (p Policy) ShouldCompact(tokens int) bool {
	return tokens >= p.CompactThreshold()
}
