// Package channels connects chat surfaces to the message bus and drives
// turn processing for each inbound message.
package channels

import (
	"context"
	"fmt"

	"github.com/edgy-raven/helper-chatbot/pkg/bus"
	"github.com/edgy-raven/helper-chatbot/pkg/config"
	"github.com/edgy-raven/helper-chatbot/pkg/logger"
)

// Manager owns the set of configured channels and delivers outbound
// replies from the bus back to the channel they came from.
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	config   *config.Config
}

func NewManager(cfg *config.Config, messageBus *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      messageBus,
		config:   cfg,
	}
	if err := m.initChannels(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initChannels() error {
	discordCfg := m.config.Channels.Discord
	if discordCfg.Token == "" {
		return fmt.Errorf("discord token not configured")
	}
	m.channels["discord"] = NewDiscordChannel(discordCfg, m.bus)
	return nil
}

// StartAll starts every channel, stopping any that already started when
// one fails.
func (m *Manager) StartAll(ctx context.Context) error {
	started := make([]Channel, 0, len(m.channels))
	for name, channel := range m.channels {
		logger.InfoCF("channels", "starting channel", map[string]interface{}{"channel": name})
		if err := channel.Start(ctx); err != nil {
			for _, c := range started {
				_ = c.Stop(ctx)
			}
			return fmt.Errorf("failed to start channel %s: %w", name, err)
		}
		started = append(started, channel)
	}

	go m.dispatchOutbound(ctx)
	return nil
}

func (m *Manager) StopAll(ctx context.Context) {
	for name, channel := range m.channels {
		if !channel.IsRunning() {
			continue
		}
		if err := channel.Stop(ctx); err != nil {
			logger.WarnCF("channels", "error stopping channel", map[string]interface{}{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			return
		}
		channel, found := m.channels[msg.Channel]
		if !found {
			logger.WarnCF("channels", "outbound message for unknown channel", map[string]interface{}{"channel": msg.Channel})
			continue
		}
		if err := channel.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "failed to deliver reply", map[string]interface{}{
				"channel": msg.Channel,
				"chat_id": msg.ChatID,
				"error":   err.Error(),
			})
		}
	}
}

// GetStatus reports which channels are currently running.
func (m *Manager) GetStatus() map[string]bool {
	status := make(map[string]bool, len(m.channels))
	for name, channel := range m.channels {
		status[name] = channel.IsRunning()
	}
	return status
}
