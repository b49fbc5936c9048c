package detach

import (
	"reflect"
	"time"
)

// guard bounds one walk: the depth limit stops runaway recursion, the size
// and duration thresholds only produce diagnostics
type guard struct {
	opts    GuardOptions
	mode    Mode
	logger  Logger
	metrics Metrics
	report  *Report
}

// enter reports whether a value at depth may be walked. Past MaxDepth it
// either fails the walk or drops the branch, as configured.
func (g *guard) enter(v reflect.Value, depth int) (bool, error) {
	if depth <= g.opts.MaxDepth {
		return true, nil
	}

	g.report.Truncated++
	g.metrics.Increment(MetricDepthExceeded, "mode", g.mode.String())
	if g.opts.FailOnDepthExceeded {
		return false, WithContext(ErrDepthExceeded, map[string]interface{}{
			"depth":     depth,
			"max_depth": g.opts.MaxDepth,
			"type":      v.Type().String(),
		})
	}

	g.logger.Warn("recursed too deep, branch left as is and may fail to serialize",
		"depth", depth,
		"max_depth", g.opts.MaxDepth,
		"type", v.Type().String(),
	)
	return false, nil
}

// finish emits the size and duration diagnostics of a completed walk
func (g *guard) finish(root reflect.Value, objects int, elapsed time.Duration) {
	rootType := "<nil>"
	if root.IsValid() {
		rootType = root.Type().String()
	}

	if !g.opts.WarnOnThreshold {
		if elapsed > slowWalkDebugThreshold {
			g.logger.Debug("slow walk",
				"root", rootType,
				"objects", objects,
				"duration", elapsed,
			)
		}
		return
	}

	large := g.opts.ObjectCountThreshold > 0 && objects > g.opts.ObjectCountThreshold
	slow := g.opts.DurationThreshold > 0 && elapsed > g.opts.DurationThreshold
	if !large && !slow {
		return
	}

	g.metrics.Increment(MetricThresholdBreach, "mode", g.mode.String())
	g.logger.Warn("detached a large or slow object graph",
		"root", rootType,
		"objects", objects,
		"duration", elapsed,
		"object_threshold", g.opts.ObjectCountThreshold,
		"duration_threshold", g.opts.DurationThreshold,
	)
}
