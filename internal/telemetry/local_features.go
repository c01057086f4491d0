package telemetry

import (
	"context"

	"github.com/codelet-dev/codelet/internal/metrics"
)

// EmitLocalFeatures records size features of the user input for token
// estimator tuning. Only derived counts are emitted, never the raw text.
func EmitLocalFeatures(ctx context.Context, user string) {
	if !ObserveEnabled() {
		return
	}
	turnID, _ := TurnIDFromContext(ctx)
	f := metrics.CountFeatures(user)
	Emit("local_features", map[string]any{
		"turn_id":          turnID,
		"features_version": "1",
		"user": map[string]any{
			"bytes": f.Bytes,
			"runes": f.Runes,
			"words": f.Words,
			"lines": f.Lines,
		},
	})
}
