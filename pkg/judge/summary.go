package judge

import (
	"context"

	"github.com/edgy-raven/helper-chatbot/pkg/providers"
	"github.com/edgy-raven/helper-chatbot/pkg/query"
)

// SummaryUpdate is the structured conversation-state delta produced by the
// summary judge. Summary and GlobalMemory replace prior values only when
// non-empty; ProfileUpdates are shallow-merged by the caller.
type SummaryUpdate struct {
	Summary        string
	ProfileUpdates map[string]interface{}
	GlobalMemory   string
}

var gradeSummaryQuerier = &query.Querier{
	Instructions: "Set ok=true only if all gates pass. " +
		"1) Summary captures the important updates from this turn. " +
		"2) No contradictions with prior_summary, prior_profile, prior_global_memory, or turn_text. " +
		"3) Summary is <100 words and global_memory is <60 words. " +
		"4) Statements are attributed to the correct speaker in summary/global_memory/profile_updates. " +
		"5) Summary and global_memory evolve with recency: keep durable high-value context, " +
		"add this turn's durable updates, and remove stale low-value details even if not contradicted. " +
		"Do not reset to only this turn. " +
		"6) profile_updates include only explicit user-stated facts from this turn. " +
		"If any gate fails: set ok=false and give concise actionable feedback (1-3 sentences) to fix the first failed gate.",
	Tool: &providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionDefinition{
			Name:        "grade_summary_update",
			Description: "Grade whether summarize_and_profile arguments are valid.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"ok":       map[string]interface{}{"type": "boolean"},
					"feedback": map[string]interface{}{"type": "string"},
				},
				"required": []string{"ok", "feedback"},
			},
		},
	},
	Temperature: 0.0,
}

var summarizeQuerier = &query.Querier{
	Instructions: "Produce summarize_and_profile arguments that pass all summary gates. " +
		"Make summary complete, consistent, concise, correctly attributed by speaker, and cumulative. " +
		"Keep summary <100 words. Keep global_memory cumulative and <60 words. " +
		"Update from prior_summary and prior_global_memory without replacing them with turn-only content, " +
		"carry forward only durable high-value facts, and remove stale low-value details that are no longer useful, " +
		"even if not contradicted by turn_text. " +
		"Keep profile_updates limited to explicit user-stated facts from this turn. " +
		"If a candidate is provided, refine it rather than discarding useful parts. " +
		"Apply feedback if provided. Return only summarize_and_profile tool arguments.",
	Tool: &providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionDefinition{
			Name:        "summarize_and_profile",
			Description: "Update conversation summary, user profile updates, and global_memory.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"summary": map[string]interface{}{"type": "string"},
					"profile_updates": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"name":       map[string]interface{}{"type": "string"},
							"gender":     map[string]interface{}{"type": "string"},
							"height":     map[string]interface{}{"type": "string"},
							"sexuality":  map[string]interface{}{"type": "string"},
							"occupation": map[string]interface{}{"type": "string"},
							"likes": map[string]interface{}{
								"type":  "array",
								"items": map[string]interface{}{"type": "string"},
							},
							"dislikes": map[string]interface{}{
								"type":  "array",
								"items": map[string]interface{}{"type": "string"},
							},
						},
					},
					"global_memory": map[string]interface{}{"type": "string"},
				},
				"required": []string{"summary", "profile_updates", "global_memory"},
			},
		},
	},
	Temperature: 0.0,
}

const defaultSummaryRevisions = 3

// SummaryJudge refines the conversation summary, profile updates, and shared
// memory for a finished turn. Revisions overrides the cap when positive.
type SummaryJudge struct {
	Provider  providers.LLMProvider
	Revisions int
}

func (j *SummaryJudge) Name() string { return "summary_judge" }

func (j *SummaryJudge) MaxRevisions() int {
	if j.Revisions > 0 {
		return j.Revisions
	}
	return defaultSummaryRevisions
}

func (j *SummaryJudge) Rewrite(ctx context.Context, candidate map[string]interface{}, turnContext map[string]interface{}, feedback string) (map[string]interface{}, error) {
	turnText, _ := turnContext["turn_text"].(string)
	result, err := summarizeQuerier.Run(ctx, j.Provider, turnText, map[string]interface{}{
		"context":   turnContext,
		"candidate": candidate,
		"feedback":  feedback,
	}, nil)
	if err != nil {
		return candidate, err
	}
	return result.Arguments, nil
}

func (j *SummaryJudge) Evaluate(ctx context.Context, candidate map[string]interface{}, turnContext map[string]interface{}) (bool, string, error) {
	result, err := gradeSummaryQuerier.Run(ctx, j.Provider, "Grade summarize_and_profile candidate arguments.", map[string]interface{}{
		"context":   turnContext,
		"candidate": candidate,
	}, nil)
	if err != nil {
		return false, "", err
	}
	return boolArg(result.Arguments, "ok"), stringArg(result.Arguments, "feedback"), nil
}

// Run drives the full revise loop and parses the accepted (or best-effort)
// arguments into a typed update.
func (j *SummaryJudge) Run(ctx context.Context, turnContext map[string]interface{}) (*SummaryUpdate, error) {
	args, err := Revise[map[string]interface{}](ctx, j, nil, turnContext)
	if err != nil {
		return nil, err
	}
	update := &SummaryUpdate{
		Summary:      stringArg(args, "summary"),
		GlobalMemory: stringArg(args, "global_memory"),
	}
	if profile, ok := args["profile_updates"].(map[string]interface{}); ok {
		update.ProfileUpdates = profile
	}
	return update, nil
}
