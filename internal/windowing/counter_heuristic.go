package windowing

import (
	"github.com/codelet-dev/codelet/internal/metrics"
	"github.com/codelet-dev/codelet/internal/persist"
	"github.com/codelet-dev/codelet/internal/session"
)

// TokenCounter estimates input-token cost for envelopes or whole turns.
type TokenCounter interface {
	CountEnvelope(e persist.MessageEnvelope) int
	CountTurn(t session.Turn, all []persist.MessageEnvelope) int
}

// HeuristicCounter is the default deterministic estimator.
// Rules:
//   - text blocks: rune count of the text
//   - tool_result blocks: rune count of the content payload
//   - all other blocks (tool_use, thinking, images, documents) contribute
//     only the per-block overhead in this minimal heuristic.
type HeuristicCounter struct{}

// Fixed per-block overhead for deterministic counts; changing this requires updating the guard test.
const blockOverhead = 4

func (HeuristicCounter) CountEnvelope(e persist.MessageEnvelope) int {
	total := 0
	for _, blk := range e.Content {
		total += countBlock(blk)
	}
	return total
}

func (h HeuristicCounter) CountTurn(t session.Turn, all []persist.MessageEnvelope) int {
	total := 0
	for i := t.Start; i < t.End && i < len(all); i++ {
		total += h.CountEnvelope(all[i])
	}
	return total
}

func countBlock(blk persist.ContentBlock) int {
	switch v := blk.(type) {
	case persist.TextBlock:
		return metrics.CountFeatures(v.Text).Runes + blockOverhead
	case persist.ToolResultBlock:
		return metrics.CountFeatures(v.Content).Runes + blockOverhead
	default:
		return blockOverhead
	}
}
