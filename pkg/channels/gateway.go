package channels

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/edgy-raven/helper-chatbot/pkg/agent"
	"github.com/edgy-raven/helper-chatbot/pkg/bus"
	"github.com/edgy-raven/helper-chatbot/pkg/logger"
	"github.com/edgy-raven/helper-chatbot/pkg/query"
	"github.com/edgy-raven/helper-chatbot/pkg/store"
)

// dmMemoryKey scopes shared memory: guild messages share a per-guild
// memory, DMs get none.
const dmMemoryKey = "dm_global"

const fallbackReply = "ugh my brain just glitched, say that again?"

// TurnProcessor runs one conversational turn. Satisfied by
// agent.Orchestrator.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, turn *agent.TurnContext) (*agent.TurnResult, error)
}

// Gateway consumes inbound messages from the bus, loads the user's stored
// context, runs the turn pipeline, persists the resulting deltas, and
// publishes the reply.
type Gateway struct {
	Bus       *bus.MessageBus
	Store     *store.Store
	Processor TurnProcessor
}

// Run consumes inbound messages until the context is cancelled. Each turn
// runs on its own goroutine so a slow pipeline never blocks intake.
func (g *Gateway) Run(ctx context.Context) {
	for {
		msg, ok := g.Bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		go g.handleTurn(ctx, msg)
	}
}

func (g *Gateway) handleTurn(ctx context.Context, msg bus.InboundMessage) {
	turn, err := g.buildTurnContext(ctx, msg)
	if err != nil {
		logger.ErrorCF("gateway", "failed to build turn context", map[string]interface{}{
			"sender": msg.SenderID,
			"error":  err.Error(),
		})
		return
	}

	result, err := g.Processor.ProcessTurn(ctx, turn)
	if err != nil {
		logger.ErrorCF("gateway", "turn failed", map[string]interface{}{
			"sender": msg.SenderID,
			"error":  err.Error(),
		})
		if errors.Is(err, query.ErrToolCallMissing) {
			g.Bus.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: fallbackReply,
			})
		}
		return
	}

	g.persistDeltas(ctx, turn, result)

	g.Bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: result.Reply,
	})
}

func (g *Gateway) buildTurnContext(ctx context.Context, msg bus.InboundMessage) (*agent.TurnContext, error) {
	identity, err := strconv.ParseInt(msg.SenderID, 10, 64)
	if err != nil {
		return nil, err
	}
	if err := g.Store.EnsureUser(ctx, identity, msg.DisplayName); err != nil {
		return nil, err
	}
	user, err := g.Store.GetUser(ctx, identity)
	if err != nil {
		return nil, err
	}

	memoryKey := MemoryKey(msg.GuildID)
	globalMemory := ""
	if memoryKey != dmMemoryKey {
		globalMemory, err = g.Store.GlobalMemory(ctx, memoryKey)
		if err != nil {
			return nil, err
		}
	}

	receivedAt := msg.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	return &agent.TurnContext{
		CurrentTime:    receivedAt.Format(time.RFC3339),
		User:           user.ToContext(),
		DisplayName:    msg.DisplayName,
		InputText:      msg.Content,
		Identity:       identity,
		GlobalMemory:   globalMemory,
		MemoryKey:      memoryKey,
		RecentMessages: msg.RecentMessages,
	}, nil
}

func (g *Gateway) persistDeltas(ctx context.Context, turn *agent.TurnContext, result *agent.TurnResult) {
	if result.Summary != "" {
		if err := g.Store.SetConversationSummary(ctx, turn.Identity, result.Summary); err != nil {
			logger.ErrorCF("gateway", "failed to persist summary", map[string]interface{}{"error": err.Error()})
		}
	}
	if len(result.ProfileUpdates) > 0 {
		if err := g.Store.ApplyProfile(ctx, turn.Identity, result.ProfileUpdates); err != nil {
			logger.ErrorCF("gateway", "failed to persist profile updates", map[string]interface{}{"error": err.Error()})
		}
	}
	if result.GlobalMemory != "" && turn.MemoryKey != dmMemoryKey {
		if err := g.Store.SetGlobalMemory(ctx, turn.MemoryKey, result.GlobalMemory); err != nil {
			logger.ErrorCF("gateway", "failed to persist global memory", map[string]interface{}{"error": err.Error()})
		}
	}
}

// MemoryKey returns the shared-memory scope for a message origin.
func MemoryKey(guildID string) string {
	if guildID == "" {
		return dmMemoryKey
	}
	return guildID
}
