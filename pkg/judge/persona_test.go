package judge

import (
	"context"
	"strings"
	"testing"

	"github.com/edgy-raven/helper-chatbot/pkg/providers"
)

// scriptedProvider returns canned responses in order.
type scriptedProvider struct {
	responses []*providers.LLMResponse
	calls     int
}

func (s *scriptedProvider) Chat(_ context.Context, _ []providers.Message, _ []providers.ToolDefinition, _ providers.ToolChoice, _ string, _ map[string]interface{}) (*providers.LLMResponse, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func (s *scriptedProvider) GetDefaultModel() string { return "test-model" }

func gateResponse(ok bool, feedback string) *providers.LLMResponse {
	args := `{"ok":false,"feedback":"` + feedback + `"}`
	if ok {
		args = `{"ok":true,"feedback":""}`
	}
	return &providers.LLMResponse{ToolCalls: []providers.ToolCall{{
		ID:       "call_gate",
		Type:     "function",
		Function: &providers.FunctionCall{Name: "grade_persona_gate", Arguments: args},
	}}}
}

func qualityResponse(scores [6]int, feedback string) *providers.LLMResponse {
	args := strings.Join([]string{
		`{"relevance_to_input":` + itoa(scores[0]),
		`"conciseness_and_focus":` + itoa(scores[1]),
		`"context_awareness":` + itoa(scores[2]),
		`"novelty":` + itoa(scores[3]),
		`"persona_fit":` + itoa(scores[4]),
		`"answers_user":` + itoa(scores[5]),
		`"feedback":"` + feedback + `"}`,
	}, ",")
	return &providers.LLMResponse{ToolCalls: []providers.ToolCall{{
		ID:       "call_quality",
		Type:     "function",
		Function: &providers.FunctionCall{Name: "grade_persona_quality", Arguments: args},
	}}}
}

func itoa(n int) string {
	return string(rune('0' + n))
}

// recordingProvider captures the messages of every request on top of the
// scripted responses.
type recordingProvider struct {
	scriptedProvider
	requests [][]providers.Message
}

func (r *recordingProvider) Chat(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition, choice providers.ToolChoice, model string, options map[string]interface{}) (*providers.LLMResponse, error) {
	r.requests = append(r.requests, messages)
	return r.scriptedProvider.Chat(ctx, messages, tools, choice, model, options)
}

func TestPersonaJudge_RevisionCapOverride(t *testing.T) {
	j := &PersonaJudge{Revisions: 2}
	if j.MaxRevisions() != 2 {
		t.Fatalf("expected overridden cap 2, got %d", j.MaxRevisions())
	}
	if (&PersonaJudge{}).MaxRevisions() != 5 {
		t.Fatalf("expected default cap 5")
	}
	if (&SummaryJudge{Revisions: 1}).MaxRevisions() != 1 {
		t.Fatalf("expected overridden summary cap 1")
	}
	if (&SummaryJudge{}).MaxRevisions() != 3 {
		t.Fatalf("expected default summary cap 3")
	}
}

func TestPersonaJudge_PersonaOverrideReachesQueriers(t *testing.T) {
	provider := &recordingProvider{scriptedProvider: scriptedProvider{responses: []*providers.LLMResponse{
		gateResponse(true, ""),
		qualityResponse([6]int{4, 4, 4, 4, 4, 4}, ""),
	}}}
	j := &PersonaJudge{Provider: provider, PersonaText: "a grumpy pirate captain"}

	if _, _, err := j.Evaluate(context.Background(), "arr", nil); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	for i, req := range provider.requests {
		system := req[0].Content
		if !strings.Contains(system, "a grumpy pirate captain") {
			t.Fatalf("request %d missing persona override in system message", i)
		}
		if strings.Contains(system, "Xander") {
			t.Fatalf("request %d still carries the built-in persona", i)
		}
	}
}

func TestPersonaJudge_PersonaOverrideReachesRewrite(t *testing.T) {
	provider := &recordingProvider{scriptedProvider: scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "voice rewrite"},
		{ToolCalls: []providers.ToolCall{{
			ID:       "call_style",
			Type:     "function",
			Function: &providers.FunctionCall{Name: "return_messages", Arguments: `{"messages":["voice rewrite"]}`},
		}}},
	}}}
	j := &PersonaJudge{Provider: provider, PersonaText: "a grumpy pirate captain"}

	if _, err := j.Rewrite(context.Background(), "", nil, ""); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if len(provider.requests) == 0 {
		t.Fatal("expected recorded requests")
	}
	if !strings.Contains(provider.requests[0][0].Content, "a grumpy pirate captain") {
		t.Fatalf("voice rewrite request missing persona override")
	}
}

func TestPersonaEvaluate_MeanExactlyFourAccepts(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		gateResponse(true, ""),
		qualityResponse([6]int{4, 4, 4, 4, 4, 4}, "solid"),
	}}
	j := &PersonaJudge{Provider: provider}

	ok, _, err := j.Evaluate(context.Background(), "hey bestie", nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !ok {
		t.Fatalf("expected mean 4.0 to accept")
	}
}

func TestPersonaEvaluate_MeanBelowFourRejects(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		gateResponse(true, ""),
		qualityResponse([6]int{3, 4, 4, 4, 4, 4}, ""),
	}}
	j := &PersonaJudge{Provider: provider}

	ok, feedback, err := j.Evaluate(context.Background(), "hey bestie", nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ok {
		t.Fatalf("expected mean 3.83 to reject")
	}
	if !strings.Contains(feedback, "below") {
		t.Fatalf("expected synthesized feedback with numeric miss, got %q", feedback)
	}
}

func TestPersonaEvaluate_GateFailureShortCircuits(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		gateResponse(false, "contradicts context"),
	}}
	j := &PersonaJudge{Provider: provider}

	ok, feedback, err := j.Evaluate(context.Background(), "hey bestie", nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if ok {
		t.Fatalf("expected gate failure to reject")
	}
	if feedback != "contradicts context" {
		t.Fatalf("expected gate feedback, got %q", feedback)
	}
	if provider.calls != 1 {
		t.Fatalf("expected quality querier skipped on gate failure, got %d calls", provider.calls)
	}
}

func TestPersonaRewrite_JoinsStyledFragments(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "That song is genuinely great, I love it."},
		{ToolCalls: []providers.ToolCall{{
			ID:       "call_style",
			Type:     "function",
			Function: &providers.FunctionCall{Name: "return_messages", Arguments: `{"messages":["omg that song ","  so good fr  "]}`},
		}}},
	}}
	j := &PersonaJudge{Provider: provider}

	candidate, err := j.Rewrite(context.Background(), "", nil, "")
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if candidate != "omg that song\nso good fr" {
		t.Fatalf("expected trimmed fragments joined with newlines, got %q", candidate)
	}
}

func TestPersonaRewrite_FallsBackWhenStyleEmpty(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "plain voice rewrite"},
		{ToolCalls: []providers.ToolCall{{
			ID:       "call_style",
			Type:     "function",
			Function: &providers.FunctionCall{Name: "return_messages", Arguments: `{"messages":[]}`},
		}}},
	}}
	j := &PersonaJudge{Provider: provider}

	candidate, err := j.Rewrite(context.Background(), "", nil, "")
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if candidate != "plain voice rewrite" {
		t.Fatalf("expected fallback to voice rewrite, got %q", candidate)
	}
}

func TestSummaryJudgeRun_ParsesUpdate(t *testing.T) {
	summaryArgs := `{"summary":"they talked about songs","profile_updates":{"likes":["the weeknd"]},"global_memory":"server loves music"}`
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{ToolCalls: []providers.ToolCall{{
			ID:       "call_sum",
			Type:     "function",
			Function: &providers.FunctionCall{Name: "summarize_and_profile", Arguments: summaryArgs},
		}}},
		{ToolCalls: []providers.ToolCall{{
			ID:       "call_grade",
			Type:     "function",
			Function: &providers.FunctionCall{Name: "grade_summary_update", Arguments: `{"ok":true,"feedback":""}`},
		}}},
	}}
	j := &SummaryJudge{Provider: provider}

	update, err := j.Run(context.Background(), map[string]interface{}{"turn_text": "user: hi\nXander: hey"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if update.Summary != "they talked about songs" {
		t.Fatalf("unexpected summary: %q", update.Summary)
	}
	if update.GlobalMemory != "server loves music" {
		t.Fatalf("unexpected global memory: %q", update.GlobalMemory)
	}
	likes, ok := update.ProfileUpdates["likes"].([]interface{})
	if !ok || len(likes) != 1 {
		t.Fatalf("unexpected profile updates: %+v", update.ProfileUpdates)
	}
}
