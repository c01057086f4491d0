package windowing

import (
	"fmt"
	"os"

	"github.com/codelet-dev/codelet/internal/persist"
	"github.com/codelet-dev/codelet/internal/session"
)

// Stats summarizes the result of window preparation.
//
// Fields:
// - Total: estimated tokens for included turns only.
// - Budget: the input token budget used.
// - IncludedTurns: number of turns included.
// - SkippedTurns: total turns minus IncludedTurns.
// - OverBudgetNewest: true when the newest turn alone exceeds Budget.
type Stats struct {
	Total            int
	Budget           int
	IncludedTurns    int
	SkippedTurns     int
	OverBudgetNewest bool
}

// PrepareSendWindow returns a suffix of envs (oldest to newest) that fits
// within budget using the TokenCounter, without splitting turns. Turns are
// the atomic unit: a turn carries its tool exchanges, so tool_use and
// tool_result always travel together.
//
// Rules:
//   - Include whole turns scanning newest to oldest while total stays
//     within budget.
//   - If the newest turn alone exceeds budget, return an empty window and
//     set OverBudgetNewest.
//   - If budget <= 0, return an empty window (OverBudgetNewest set when any
//     turns exist).
func PrepareSendWindow(envs []persist.MessageEnvelope, turns []session.Turn, budget int, c TokenCounter) ([]persist.MessageEnvelope, Stats) {
	if len(envs) == 0 || len(turns) == 0 {
		return nil, Stats{Budget: budget}
	}

	if budget <= 0 {
		return nil, Stats{Budget: budget, SkippedTurns: len(turns), OverBudgetNewest: true}
	}

	total := 0
	included := 0
	startIdx := len(turns) // exclusive sentinel; lowered when a turn is included

	for ti := len(turns) - 1; ti >= 0; ti-- {
		cost := c.CountTurn(turns[ti], envs)
		if included == 0 && cost > budget {
			vlogf("reason=over_budget_newest_turn budget=%d cost=%d", budget, cost)
			return nil, Stats{
				Budget:           budget,
				SkippedTurns:     len(turns),
				OverBudgetNewest: true,
			}
		}
		if total+cost > budget {
			break
		}
		total += cost
		included++
		startIdx = ti
	}

	if included == 0 {
		return nil, Stats{Budget: budget, SkippedTurns: len(turns)}
	}

	window := envs[turns[startIdx].Start:]
	return window, Stats{
		Total:         total,
		Budget:        budget,
		IncludedTurns: included,
		SkippedTurns:  len(turns) - included,
	}
}

// minimal verbose logging when CODELET_VERBOSE_WINDOW_LOGS=1
var verbose = os.Getenv("CODELET_VERBOSE_WINDOW_LOGS") == "1"

func vlogf(format string, args ...any) {
	if verbose {
		fmt.Printf("[windowing] "+format+"\n", args...)
	}
}
