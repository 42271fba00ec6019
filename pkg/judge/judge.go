// Package judge implements bounded critique-and-revise loops over generated
// artifacts. A strategy drafts a candidate, grades it, and feeds the grading
// feedback into the next draft until it passes or the revision budget runs
// out.
package judge

import (
	"context"

	"github.com/edgy-raven/helper-chatbot/pkg/logger"
)

// Strategy is one concrete judge: it knows how to produce the next draft and
// how to grade it. The first Rewrite call receives the zero candidate and
// empty feedback.
type Strategy[C any] interface {
	Name() string
	MaxRevisions() int
	Rewrite(ctx context.Context, candidate C, turnContext map[string]interface{}, feedback string) (C, error)
	Evaluate(ctx context.Context, candidate C, turnContext map[string]interface{}) (ok bool, feedback string, err error)
}

// Revise runs draft/evaluate/revise rounds up to the strategy's bound. When
// the bound is exhausted without a passing grade the last candidate is
// returned as a best effort, not an error; callers must treat it as possibly
// failing some gates. Query errors propagate immediately.
func Revise[C any](ctx context.Context, strategy Strategy[C], candidate C, turnContext map[string]interface{}) (C, error) {
	feedback := ""
	for round := 1; round <= strategy.MaxRevisions(); round++ {
		var err error
		candidate, err = strategy.Rewrite(ctx, candidate, turnContext, feedback)
		if err != nil {
			return candidate, err
		}
		ok, fb, err := strategy.Evaluate(ctx, candidate, turnContext)
		if err != nil {
			return candidate, err
		}
		if ok {
			logger.DebugCF("judge", "candidate accepted", map[string]interface{}{
				"judge": strategy.Name(),
				"round": round,
			})
			return candidate, nil
		}
		feedback = fb
		logger.InfoCF("judge", "candidate rejected", map[string]interface{}{
			"judge":    strategy.Name(),
			"round":    round,
			"feedback": feedback,
		})
	}
	logger.WarnCF("judge", "revision budget exhausted, returning last candidate", map[string]interface{}{
		"judge": strategy.Name(),
	})
	return candidate, nil
}

func boolArg(args map[string]interface{}, key string) bool {
	v, ok := args[key].(bool)
	return ok && v
}

func stringArg(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

// clampScore coerces a rubric value into [1,5], defaulting to 1 when the
// model supplied something unusable.
func clampScore(args map[string]interface{}, key string) int {
	var score int
	switch v := args[key].(type) {
	case float64:
		score = int(v)
	case int:
		score = v
	default:
		score = 1
	}
	if score < 1 {
		return 1
	}
	if score > 5 {
		return 5
	}
	return score
}
