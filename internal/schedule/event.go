// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     schedule
// Description: Scheduled event model, recurrence math and serialization
// License:     MIT
// ============================================================================

package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventType identifies the kind of scheduled event
type EventType string

const (
	TypeAlarm    EventType = "alarm"
	TypeTimer    EventType = "timer"
	TypeReminder EventType = "reminder"
)

// PlaybackMode selects how a firing event is signalled
type PlaybackMode string

const (
	PlaybackBeep  PlaybackMode = "beep"
	PlaybackMusic PlaybackMode = "music"
)

// MusicConfig holds the media playback target for music-mode events
type MusicConfig struct {
	Entity      string `json:"entity"`
	Source      string `json:"source"`
	ContentType string `json:"content_type"`
	Provider    string `json:"provider,omitempty"`
	Description string `json:"description,omitempty"`
}

// PlaybackConfig is a tagged variant: Music is set only when Mode is music
type PlaybackConfig struct {
	Mode  PlaybackMode `json:"mode"`
	Music *MusicConfig `json:"music,omitempty"`
}

// DefaultPlayback returns the beep playback configuration
func DefaultPlayback() PlaybackConfig {
	return PlaybackConfig{Mode: PlaybackBeep}
}

// Event is one tracked alarm, timer or reminder
type Event struct {
	ID              string            `json:"event_id"`
	Type            EventType         `json:"event_type"`
	Label           string            `json:"label,omitempty"`
	TimeOfDay       string            `json:"time_of_day,omitempty"`
	RepeatDays      []int             `json:"repeat_days,omitempty"`
	SingleShot      bool              `json:"single_shot"`
	DurationSeconds int               `json:"duration_seconds,omitempty"`
	TargetTime      time.Time         `json:"target_time,omitempty"`
	NextFire        time.Time         `json:"next_fire"`
	Playback        PlaybackConfig    `json:"playback"`
	CreatedAt       time.Time         `json:"created_at"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy so snapshots handed to callers cannot alias
// service-owned state
func (e *Event) Clone() *Event {
	clone := *e
	if e.RepeatDays != nil {
		clone.RepeatDays = append([]int(nil), e.RepeatDays...)
	}
	if e.Metadata != nil {
		clone.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			clone.Metadata[k] = v
		}
	}
	if e.Playback.Music != nil {
		music := *e.Playback.Music
		clone.Playback.Music = &music
	}
	return &clone
}

// Repeats reports whether the event reschedules itself after firing
func (e *Event) Repeats() bool {
	return e.Type == TypeAlarm && !e.SingleShot && len(e.RepeatDays) > 0
}

// parseTimeOfDay parses an "HH:MM" string into hour and minute
func parseTimeOfDay(s string) (int, int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// weekdayIndex maps time.Weekday to the 0=Monday indexing used by repeat days
func weekdayIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// nextAlarmFire computes the next instant strictly after now at which an
// alarm with the given time of day and repeat days should fire. With no
// repeat days the result is today at timeOfDay if still ahead, else tomorrow.
func nextAlarmFire(now time.Time, timeOfDay string, days []int) (time.Time, error) {
	hour, minute, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	if len(days) == 0 {
		if today.After(now) {
			return today, nil
		}
		return today.AddDate(0, 0, 1), nil
	}

	wanted := make(map[int]bool, len(days))
	for _, d := range days {
		if d < 0 || d > 6 {
			return time.Time{}, fmt.Errorf("invalid repeat day %d, want 0-6", d)
		}
		wanted[d] = true
	}

	for offset := 0; offset <= 7; offset++ {
		candidate := today.AddDate(0, 0, offset)
		if !candidate.After(now) {
			continue
		}
		if wanted[weekdayIndex(candidate.Weekday())] {
			return candidate, nil
		}
	}

	return time.Time{}, fmt.Errorf("no valid fire time for %q on days %v", timeOfDay, days)
}

// timerLabel synthesizes a display label from a timer duration
func timerLabel(d time.Duration) string {
	secs := int(d.Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("%d SEC TIMER", secs)
	case secs < 3600:
		return fmt.Sprintf("%d MIN TIMER", secs/60)
	default:
		hours := secs / 3600
		minutes := (secs % 3600) / 60
		if minutes == 0 {
			return fmt.Sprintf("%d HR TIMER", hours)
		}
		return fmt.Sprintf("%d HR %d MIN TIMER", hours, minutes)
	}
}
