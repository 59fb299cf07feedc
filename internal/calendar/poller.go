// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     calendar
// Description: ICS feed poller materializing upcoming events as reminders
// License:     MIT
// ============================================================================

package calendar

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/emersion/go-ical"

	"github.com/weirdtangent/pulse-os/internal/schedule"
	"github.com/weirdtangent/pulse-os/pkg/core/config"
	"github.com/weirdtangent/pulse-os/pkg/core/logging"
)

// ReminderCreator is the slice of the schedule service the poller needs
type ReminderCreator interface {
	CreateReminder(message string, at time.Time, label string) (*schedule.Event, error)
}

// upcoming is one parsed calendar entry within the lookahead window
type upcoming struct {
	UID     string
	Summary string
	Start   time.Time
}

// Poller fetches an ICS feed on an interval and creates a reminder for every
// upcoming event not yet materialized. Created reminders are deduplicated by
// calendar UID across poll cycles.
type Poller struct {
	mu     sync.Mutex
	logger *logging.Logger

	cfg        config.CalendarConfig
	creator    ReminderCreator
	httpClient *http.Client

	created map[string]bool // calendar UID -> reminder already created
	now     func() time.Time
}

// NewPoller creates a calendar poller
func NewPoller(cfg config.CalendarConfig, creator ReminderCreator) *Poller {
	return &Poller{
		logger:     logging.New("calendar"),
		cfg:        cfg,
		creator:    creator,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		created:    make(map[string]bool),
		now:        time.Now,
	}
}

// Run polls the feed until ctx is cancelled. The first poll happens
// immediately.
func (p *Poller) Run(ctx context.Context) {
	if !p.cfg.Enabled || p.cfg.URL == "" {
		p.logger.Info("Calendar polling disabled")
		return
	}

	interval := time.Duration(p.cfg.PollIntervalMin) * time.Minute
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	p.logger.Info("Calendar polling started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.poll(ctx); err != nil {
			p.logger.Warn("Calendar poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll fetches the feed once and creates reminders for new upcoming events
func (p *Poller) poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build feed request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	cal, err := ical.NewDecoder(resp.Body).Decode()
	if err != nil {
		return fmt.Errorf("failed to parse feed: %w", err)
	}

	events := p.upcomingEvents(cal)
	p.materialize(events)
	return nil
}

// upcomingEvents extracts events starting within the lookahead window
func (p *Poller) upcomingEvents(cal *ical.Calendar) []upcoming {
	now := p.now()
	horizon := now.Add(time.Duration(p.cfg.LookaheadHours) * time.Hour)

	var out []upcoming
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}

		ev := parseComponent(comp)
		if ev.UID == "" || ev.Start.IsZero() {
			continue
		}
		if !ev.Start.After(now) || ev.Start.After(horizon) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func parseComponent(comp *ical.Component) upcoming {
	var ev upcoming

	if prop := comp.Props.Get(ical.PropUID); prop != nil {
		ev.UID = prop.Value
	}
	if prop := comp.Props.Get(ical.PropSummary); prop != nil {
		ev.Summary = prop.Value
	}
	if prop := comp.Props.Get(ical.PropStatus); prop != nil && prop.Value == "CANCELLED" {
		return upcoming{}
	}
	if prop := comp.Props.Get(ical.PropDateTimeStart); prop != nil {
		if t, err := prop.DateTime(time.Local); err == nil {
			ev.Start = t.In(time.Local)
		}
	}
	return ev
}

// materialize creates one reminder per not-yet-seen event
func (p *Poller) materialize(events []upcoming) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ev := range events {
		if p.created[ev.UID] {
			continue
		}

		message := ev.Summary
		if message == "" {
			message = "Calendar event"
		}

		if _, err := p.creator.CreateReminder(message, ev.Start, "CALENDAR"); err != nil {
			p.logger.Warn("Failed to create calendar reminder",
				"uid", ev.UID, "summary", ev.Summary, "error", err)
			continue
		}

		p.created[ev.UID] = true
		p.logger.Info("Calendar reminder created", "summary", ev.Summary, "at", ev.Start)
	}
}
