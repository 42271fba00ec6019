// Package reminder nudges users about their open tasks on a cron schedule.
package reminder

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/edgy-raven/helper-chatbot/pkg/bus"
	"github.com/edgy-raven/helper-chatbot/pkg/config"
	"github.com/edgy-raven/helper-chatbot/pkg/logger"
	"github.com/edgy-raven/helper-chatbot/pkg/store"
)

type Reminder struct {
	schedule string
	store    *store.Store
	bus      *bus.MessageBus
	gron     *gronx.Gronx
}

func New(cfg config.ReminderConfig, st *store.Store, messageBus *bus.MessageBus) (*Reminder, error) {
	g := gronx.New()
	if !g.IsValid(cfg.Schedule) {
		return nil, fmt.Errorf("invalid reminder schedule %q", cfg.Schedule)
	}
	return &Reminder{
		schedule: cfg.Schedule,
		store:    st,
		bus:      messageBus,
		gron:     g,
	}, nil
}

// Run wakes once a minute and fires digests when the schedule is due.
func (r *Reminder) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	logger.InfoCF("reminder", "scheduler started", map[string]interface{}{"schedule": r.schedule})
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := r.gron.IsDue(r.schedule, now)
			if err != nil || !due {
				continue
			}
			r.sendDigests(ctx)
		}
	}
}

func (r *Reminder) sendDigests(ctx context.Context) {
	users, err := r.store.UsersWithOpenTasks(ctx)
	if err != nil {
		logger.ErrorCF("reminder", "failed to list users with open tasks", map[string]interface{}{"error": err.Error()})
		return
	}
	for _, discordID := range users {
		tasks, err := r.store.OpenTasks(ctx, discordID)
		if err != nil {
			logger.ErrorCF("reminder", "failed to load open tasks", map[string]interface{}{
				"discord_id": discordID,
				"error":      err.Error(),
			})
			continue
		}
		if len(tasks) == 0 {
			continue
		}
		r.bus.PublishOutbound(bus.OutboundMessage{
			Channel: "discord",
			ChatID:  "dm:" + strconv.FormatInt(discordID, 10),
			Content: Digest(tasks),
		})
	}
}

// Digest formats the open task list as a short checkin message.
func Digest(tasks []store.Task) string {
	lines := make([]string, 0, len(tasks)+1)
	lines = append(lines, "hey bestie, checking in on your tasks:")
	for _, task := range tasks {
		line := fmt.Sprintf("- [%d] %s (%s)", task.ID, task.Description, task.Type)
		if task.DueText != "" {
			line += " due " + task.DueText
		}
		if task.Progress != "" {
			line += ", last progress: " + task.Progress
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
