package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/spec-kit/ticketbot/internal/domain"
	"github.com/spec-kit/ticketbot/internal/events"
	"github.com/spec-kit/ticketbot/internal/platform"
)

func welcomeMessage(t *domain.Ticket, creator domain.Actor, settings domain.Settings, now time.Time) platform.Message {
	name := creator.Name
	if name == "" {
		name = creator.ID
	}
	return platform.Message{
		Kind:  platform.KindTicket,
		Color: settings.PanelColor,
		Fields: []platform.Field{
			{Name: name, Value: "Hi there.\nThanks for opening a ticket. Please type your message here and a member of staff will be with you as soon as possible."},
			{Name: "Important Notice", Value: "Please do not ping our staff as they are volunteers and are very busy."},
			{Name: "What is this ticket regarding?", Value: t.Reason},
		},
		Footer:       fmt.Sprintf("Ticket #%d • Created at", t.ID),
		Mentions:     []string{creator.ID},
		MentionRoles: nonEmpty(settings.SupportRole, settings.TraineeRole),
		Timestamp:    now,
	}
}

func offHoursMessage(startHour, hoursUntil int, now time.Time) platform.Message {
	return platform.Message{
		Kind: platform.KindOffHours,
		Description: fmt.Sprintf("🕗 We're not working at the moment\nYou may receive a response before, but we don't start working until %02d:00 (in %d hours).",
			startHour, hoursUntil),
		Timestamp: now,
	}
}

func warningMessage(t *domain.Ticket, settings domain.Settings, now time.Time) platform.Message {
	return platform.Message{
		Kind:  platform.KindWarning,
		Title: "⚠️ INACTIVITY WARNING",
		Description: fmt.Sprintf("No response in %d minutes will result in ticket closure.\nPlease respond to keep this ticket open.",
			settings.AutoCloseMinutes),
		Mentions:  []string{t.CreatorID},
		Timestamp: now,
	}
}

// closingMessage is the single notice posted when a ticket closes. The copy
// depends on why it closed and whether the channel is archived or deleted.
func closingMessage(reason string, actor domain.Actor, settings domain.Settings, archived bool, grace time.Duration, now time.Time) platform.Message {
	msg := platform.Message{Kind: platform.KindError, Timestamp: now}
	var tail string
	if archived {
		tail = "\nThe channel has been moved to archives."
	} else {
		tail = fmt.Sprintf("\nChannel will be deleted in %d seconds.", int(grace/time.Second))
	}

	switch reason {
	case events.CloseReasonStale:
		msg.Title = "🔒 TICKET AUTO-CLOSED"
		msg.Description = fmt.Sprintf("This ticket has been automatically closed due to no response from the user for %d day(s).",
			settings.AutoCloseDays) + tail
	case events.CloseReasonForced:
		msg.Title = "🔒 TICKET FORCE CLOSED"
		msg.Description = "This ticket has been force closed by " + platform.Mention(actor.ID) + "." + tail
	default:
		msg.Title = "🔒 Ticket Closed"
		if archived {
			msg.Title = "🔒 Ticket Archived"
		}
		msg.Description = "This ticket has been closed by " + platform.Mention(actor.ID) + "." + tail
	}
	return msg
}

func transcriptMessage(t *domain.Ticket, closedBy domain.Actor, now time.Time) platform.Message {
	fields := []platform.Field{
		{Name: "Created by", Value: platform.Mention(t.CreatorID), Inline: true},
		{Name: "Reason", Value: truncate(t.Reason, 50), Inline: true},
		{Name: "Status", Value: titleCase(string(t.Status)), Inline: true},
	}
	if c := t.Claimant(); c != "" {
		fields = append(fields, platform.Field{Name: "Claimed by", Value: platform.Mention(c), Inline: true})
	}
	closedAt := now
	if t.ClosedAt != nil {
		closedAt = *t.ClosedAt
	}
	fields = append(fields,
		platform.Field{Name: "Created at", Value: t.CreatedAt.Format("2006-01-02 15:04:05"), Inline: true},
		platform.Field{Name: "Closed at", Value: closedAt.Format("2006-01-02 15:04:05"), Inline: true},
		platform.Field{Name: "Closed by", Value: closedByLabel(closedBy), Inline: true},
	)
	return platform.Message{
		Kind:      platform.KindInfo,
		Title:     fmt.Sprintf("📜 Transcript - Ticket #%d", t.ID),
		Fields:    fields,
		Timestamp: now,
	}
}

func closedByLabel(a domain.Actor) string {
	if a.ID == domain.SystemActorID {
		return "system"
	}
	return platform.Mention(a.ID)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
