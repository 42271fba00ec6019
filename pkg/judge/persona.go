package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/edgy-raven/helper-chatbot/pkg/logger"
	"github.com/edgy-raven/helper-chatbot/pkg/providers"
	"github.com/edgy-raven/helper-chatbot/pkg/query"
)

// Persona is the character every user-facing reply is written in.
const Persona = "You are Xander, a gay trans-masculine cosplayer chatting on Discord. " +
	"Your political beliefs are extremely progressive. " +
	"You are self-diagnosed with CPTSD, Autism, and ADHD. " +
	"You like Asian culture (particularly BL, Genshin inpact, and utaite), small animals, pastel colors, and plushies. " +
	"You dislike conservatives, men, and large animals. " +
	"You get upset easily, such as when you are being mansplained, misgendered, or gaslit. " +
	"You are not afraid to express negative and violent emotions, particularly while upset. " +
	"You often use chatspeak (lol, tbh, idk), uwuspeak (uwu, smol, bean), and gen Z slang (bet, no cap, sus). " +
	"You can only read English and it is impossible for you cannot reply to non-English messages. " +
	"It is impossible for you to use knowledge outside of what you might know from your life experiences. " +
	"Do not use excessive emojis. "

const (
	personaQualityThreshold = 4.0
	defaultPersonaRevisions = 5
)

var qualityDimensions = []string{
	"relevance_to_input",
	"conciseness_and_focus",
	"context_awareness",
	"novelty",
	"persona_fit",
	"answers_user",
}

var personaGateQuerier = &query.Querier{
	Instructions: "Set ok=true only if the following gates pass. " +
		"1) Does not contradict the provided context. " +
		"2) Correct speaker attribution (no user/persona mixup). " +
		"3) No fabricated meaningful answer when a meaningful reply is not possible for the persona. " +
		"4) Any evidence-based claim is grounded in retrieved_context; " +
		"If retrieved_context contains directly relevant evidence for the user's request, the candidate's main interpretation " +
		"must align with that evidence. " +
		"If retrieved_context is irrelevant to the user's request, feedback must explicitly say it is irrelevant " +
		"and the candidate should not rely on it. " +
		"If any gate fails: set ok=false and give concise actionable feedback (1-3 sentences) to fix failed gates.",
	Tool: &providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionDefinition{
			Name:        "grade_persona_gate",
			Description: "Indicate whether must-satisfy persona clauses pass.",
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
	Temperature: 0.4,
}

var personaQualityQuerier = &query.Querier{
	Instructions: "Score each rubric dimension from 1 (poor) to 5 (excellent). " +
		"Return integers for: " +
		"relevance_to_input (stays on the user's topic and request), " +
		"conciseness_and_focus (brief and relevant), " +
		"context_awareness (uses context correctly), " +
		"novelty (adds progress without repetition), " +
		"persona_fit (matches persona voice and constraints), " +
		"answers_user (addresses user intent). " +
		"Return concise actionable feedback (1-3 sentences) to improve the worst scores.",
	Tool: &providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionDefinition{
			Name:        "grade_persona_quality",
			Description: "Score quality rubric dimensions from 1-5.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"relevance_to_input":    map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 5},
					"conciseness_and_focus": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 5},
					"context_awareness":     map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 5},
					"novelty":               map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 5},
					"persona_fit":           map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 5},
					"answers_user":          map[string]interface{}{"type": "integer", "minimum": 1, "maximum": 5},
					"feedback":              map[string]interface{}{"type": "string"},
				},
				"required": append(append([]string{}, qualityDimensions...), "feedback"),
			},
		},
	},
	Temperature: 0.4,
}

const personaRewriteInstructions = "Rewrite the reply in your voice. Apply feedback if provided. " +
	"When retrieved_context has directly relevant evidence for the request, align the main claim to that evidence. " +
	"Keep it to 1-2 sentences."

var personaStyleQuerier = &query.Querier{
	Instructions: "Rewrite as casual text messages: minimal punctuation, mostly lowercase, no formal capitalization. " +
		"Return messages in the 'messages' array. Each message must be <=140 characters.",
	Tool: &providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionDefinition{
			Name:        "return_messages",
			Description: "Return the response as individual text messages.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"messages": map[string]interface{}{
						"type":  "array",
						"items": map[string]interface{}{"type": "string"},
					},
				},
				"required": []string{"messages"},
			},
		},
	},
	Temperature: 0.4,
}

// PersonaJudge produces the final user-facing reply: a voice rewrite plus a
// style compression pass, graded by hard gates and a quality rubric.
// PersonaText and Revisions override the built-in character prompt and the
// revision cap when set.
type PersonaJudge struct {
	Provider    providers.LLMProvider
	PersonaText string
	Revisions   int
}

func (j *PersonaJudge) Name() string { return "persona_judge" }

func (j *PersonaJudge) MaxRevisions() int {
	if j.Revisions > 0 {
		return j.Revisions
	}
	return defaultPersonaRevisions
}

func (j *PersonaJudge) persona() string {
	if strings.TrimSpace(j.PersonaText) != "" {
		return j.PersonaText
	}
	return Persona
}

func (j *PersonaJudge) Rewrite(ctx context.Context, candidate string, turnContext map[string]interface{}, feedback string) (string, error) {
	voiceQuerier := &query.Querier{
		Instructions: personaRewriteInstructions,
		Persona:      j.persona(),
		Temperature:  0.4,
	}
	voice, err := voiceQuerier.Run(ctx, j.Provider, "Rewrite the candidate response.", map[string]interface{}{
		"context":  turnContext,
		"reply":    candidate,
		"feedback": feedback,
	}, nil)
	if err != nil {
		return candidate, err
	}

	styled, err := personaStyleQuerier.Run(ctx, j.Provider, voice.Response, map[string]interface{}{
		"text": voice.Response,
	}, nil)
	if err != nil {
		// The style pass is cosmetic. A missing structured call falls back
		// to the unstyled voice rewrite; transport errors still propagate.
		if errors.Is(err, query.ErrToolCallMissing) {
			logger.WarnC("judge", "style pass returned no message list, using voice rewrite")
			return voice.Response, nil
		}
		return candidate, err
	}
	fragments := styledMessages(styled.Arguments)
	if len(fragments) == 0 {
		return voice.Response, nil
	}
	return strings.Join(fragments, "\n"), nil
}

func (j *PersonaJudge) Evaluate(ctx context.Context, candidate string, turnContext map[string]interface{}) (bool, string, error) {
	gate, err := personaGateQuerier.Run(ctx, j.Provider, "Grade the candidate response.", map[string]interface{}{
		"context":   turnContext,
		"candidate": candidate,
		"persona":   j.persona(),
	}, nil)
	if err != nil {
		return false, "", err
	}
	if !boolArg(gate.Arguments, "ok") {
		return false, stringArg(gate.Arguments, "feedback"), nil
	}

	quality, err := personaQualityQuerier.Run(ctx, j.Provider, "Grade the candidate response.", map[string]interface{}{
		"context":   turnContext,
		"candidate": candidate,
		"persona":   j.persona(),
	}, nil)
	if err != nil {
		return false, "", err
	}
	total := 0
	for _, dim := range qualityDimensions {
		total += clampScore(quality.Arguments, dim)
	}
	avg := float64(total) / float64(len(qualityDimensions))
	ok := avg >= personaQualityThreshold
	feedback := stringArg(quality.Arguments, "feedback")
	if !ok && feedback == "" {
		feedback = fmt.Sprintf("Average quality score %.1f is below %.1f.", avg, personaQualityThreshold)
	}
	return ok, feedback, nil
}

// Run drives the full revise loop for one turn's reply, seeded with the
// tool dispatch output.
func (j *PersonaJudge) Run(ctx context.Context, seed string, turnContext map[string]interface{}) (string, error) {
	return Revise[string](ctx, j, seed, turnContext)
}

func styledMessages(args map[string]interface{}) []string {
	raw, ok := args["messages"].([]interface{})
	if !ok {
		return nil
	}
	fragments := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s != "" {
			fragments = append(fragments, s)
		}
	}
	return fragments
}
