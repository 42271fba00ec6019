// Package agent sequences one conversational turn: evidence retrieval, tool
// dispatch, persona judging, and summary judging.
package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/edgy-raven/helper-chatbot/pkg/judge"
	"github.com/edgy-raven/helper-chatbot/pkg/logger"
	"github.com/edgy-raven/helper-chatbot/pkg/providers"
	"github.com/edgy-raven/helper-chatbot/pkg/retrieval"
	"github.com/edgy-raven/helper-chatbot/pkg/tools"
)

// BotName is how the persona is attributed in turn transcripts.
const BotName = "Xander"

type Orchestrator struct {
	Retrieval  *retrieval.Service
	Dispatcher *tools.Dispatcher[*TurnContext]
	Persona    *judge.PersonaJudge
	Summary    *judge.SummaryJudge
}

// Options carries the configurable knobs for a turn pipeline. Zero values
// fall back to the built-in persona, temperature, and revision caps.
type Options struct {
	Persona          string
	Temperature      float64
	SummaryRevisions int
	PersonaRevisions int
}

func NewOrchestrator(provider providers.LLMProvider, retrievalService *retrieval.Service, registry *tools.Registry[*TurnContext], opts Options) *Orchestrator {
	return &Orchestrator{
		Retrieval:  retrievalService,
		Dispatcher: &tools.Dispatcher[*TurnContext]{Registry: registry, Provider: provider},
		Persona: &judge.PersonaJudge{
			Provider:    provider,
			PersonaText: opts.Persona,
			Revisions:   opts.PersonaRevisions,
		},
		Summary: &judge.SummaryJudge{
			Provider:  provider,
			Revisions: opts.SummaryRevisions,
		},
	}
}

// ProcessTurn runs the full pipeline for one inbound message and returns
// the reply plus the state deltas to persist. A missing required tool call
// fails the turn; retrieval failures never do.
func (o *Orchestrator) ProcessTurn(ctx context.Context, turn *TurnContext) (*TurnResult, error) {
	turnID := uuid.NewString()
	logger.InfoCF("agent", "processing turn", map[string]interface{}{
		"turn_id":  turnID,
		"identity": turn.Identity,
	})

	turn.RetrievedContext = o.Retrieval.LookupKeyTextContext(ctx, turn.SystemContext())
	logger.DebugCF("agent", "retrieved context ready", map[string]interface{}{
		"turn_id": turnID,
		"titles":  len(turn.RetrievedContext),
	})

	contextPayload := turn.SystemContext()
	actions, err := o.Dispatcher.Dispatch(ctx, turn, contextPayload, turn.InputText)
	if err != nil {
		return nil, fmt.Errorf("turn %s: %w", turnID, err)
	}

	reply, err := o.Persona.Run(ctx, actions, contextPayload)
	if err != nil {
		return nil, fmt.Errorf("turn %s: %w", turnID, err)
	}

	turnText := fmt.Sprintf("%s: %s\n%s: %s", turn.DisplayName, turn.InputText, BotName, reply)
	update, err := o.Summary.Run(ctx, map[string]interface{}{
		"prior_summary":       turn.User["conversation_summary"],
		"prior_profile":       turn.User["profile"],
		"prior_global_memory": turn.GlobalMemory,
		"turn_text":           turnText,
	})
	if err != nil {
		return nil, fmt.Errorf("turn %s: %w", turnID, err)
	}

	result := &TurnResult{
		TurnID:         turnID,
		Reply:          reply,
		Summary:        update.Summary,
		ProfileUpdates: update.ProfileUpdates,
		GlobalMemory:   update.GlobalMemory,
	}
	logger.InfoCF("agent", "turn complete", map[string]interface{}{
		"turn_id":         turnID,
		"reply_length":    len(reply),
		"summary_changed": result.Summary != "",
		"memory_changed":  result.GlobalMemory != "",
	})
	return result, nil
}
