// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     schedule
// Description: Schedule service - alarm/timer/reminder lifecycle engine
// License:     MIT
// ============================================================================

package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/weirdtangent/pulse-os/pkg/core/logging"
)

const (
	// autoStopDelay force-stops a ringing event that is never acknowledged
	autoStopDelay = 60 * time.Second

	// minTimerDuration clamps timer requests from below
	minTimerDuration = 1 * time.Second
)

// Stop reasons passed through the active-event callback
const (
	ReasonVoice       = "voice"
	ReasonAutoTimeout = "auto_timeout"
	ReasonSnoozed     = "snoozed"
	ReasonDeleted     = "deleted"
	ReasonCancelled   = "cancelled"
	ReasonShutdown    = "shutdown"
)

// EventStatus annotates list snapshots
type EventStatus string

const (
	StatusScheduled EventStatus = "scheduled"
	StatusActive    EventStatus = "active"
)

// EventSnapshot is a point-in-time copy of one event with its status
type EventSnapshot struct {
	Event  *Event
	Status EventStatus
}

// StateSnapshot is pushed to the state-changed callback after every mutation
type StateSnapshot struct {
	Alarms    []EventSnapshot
	Timers    []EventSnapshot
	Reminders []EventSnapshot
	UpdatedAt time.Time
}

// ActivePayload describes a ringing or just-stopped event. A nil payload on
// the callback means no event of that type is active anymore.
type ActivePayload struct {
	State  string // "ringing" or "stopped"
	Reason string // set when State is "stopped"
	Event  *Event
}

// StateCallback receives the full state snapshot after mutations
type StateCallback func(StateSnapshot)

// ActiveCallback receives active-event transitions
type ActiveCallback func(EventType, *ActivePayload)

// HistoryRecorder receives one row per firing/stop, optional
type HistoryRecorder interface {
	Record(ctx context.Context, eventID string, eventType, label, state, reason string, at time.Time)
}

// AlarmOptions holds the optional arguments to CreateAlarm
type AlarmOptions struct {
	Label      string
	Days       []int
	Playback   *PlaybackConfig
	SingleShot *bool
}

// AlarmUpdate holds the fields UpdateAlarm may change; nil means unchanged
type AlarmUpdate struct {
	TimeOfDay *string
	Days      *[]int
	Label     *string
	Playback  *PlaybackConfig
}

// activeEntry tracks one currently-ringing event
type activeEntry struct {
	handle         *Handle
	watchdogCancel context.CancelFunc
}

// Service is the single authority for all scheduled event state. All state
// mutation is serialized through one mutex; exactly one waiter goroutine
// drives each tracked event's next firing.
type Service struct {
	mu     sync.Mutex
	logger *logging.Logger

	store   *Store
	sound   SoundPlayer
	device  DeviceController
	history HistoryRecorder

	events  map[string]*Event
	waiters map[string]context.CancelFunc
	active  map[string]*activeEntry

	onState  StateCallback
	onActive ActiveCallback

	started bool
	ctx     context.Context
	cancel  context.CancelFunc

	// now is the clock, injectable for tests
	now func() time.Time

	// autoStop is the unacknowledged-ring ceiling, shortened in tests
	autoStop time.Duration
}

// NewService creates the schedule service. device and history may be nil.
func NewService(store *Store, sound SoundPlayer, device DeviceController, history HistoryRecorder) *Service {
	return &Service{
		logger:   logging.New("schedule"),
		store:    store,
		sound:    sound,
		device:   device,
		history:  history,
		events:   make(map[string]*Event),
		waiters:  make(map[string]context.CancelFunc),
		active:   make(map[string]*activeEntry),
		now:      time.Now,
		autoStop: autoStopDelay,
	}
}

// SetOnStateChanged registers the state snapshot callback
func (s *Service) SetOnStateChanged(cb StateCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = cb
}

// SetOnActiveChanged registers the active-event callback
func (s *Service) SetOnActiveChanged(cb ActiveCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onActive = cb
}

// Start loads persisted events and spawns one waiter per event. Timers whose
// target already passed are dropped; alarm next-fire instants are recomputed
// to account for process downtime. Idempotent.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	now := s.now()
	loaded := s.store.Load()
	for _, ev := range loaded {
		switch ev.Type {
		case TypeTimer:
			if !ev.TargetTime.After(now) {
				s.logger.Info("Dropping expired timer from store", "id", ev.ID, "label", ev.Label)
				continue
			}
			ev.NextFire = ev.TargetTime
		case TypeAlarm:
			next, err := nextAlarmFire(now, ev.TimeOfDay, ev.RepeatDays)
			if err != nil {
				s.logger.Warn("Dropping alarm with invalid time of day", "id", ev.ID, "error", err)
				continue
			}
			ev.NextFire = next
		case TypeReminder:
			if !ev.NextFire.After(now) {
				s.logger.Info("Dropping expired reminder from store", "id", ev.ID, "label", ev.Label)
				continue
			}
		default:
			s.logger.Warn("Dropping event with unknown type", "id", ev.ID, "type", ev.Type)
			continue
		}
		s.events[ev.ID] = ev
		s.spawnWaiterLocked(ev)
	}

	s.logger.Info("Schedule service started", "events", len(s.events))
	notify := s.stateNotificationLocked()
	s.mu.Unlock()

	notify()
	return nil
}

// Stop cancels all waiters and tears down every ringing event through the
// regular stop path, then marks the service stopped so Start can run again.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	activeIDs := make([]string, 0, len(s.active))
	for id := range s.active {
		activeIDs = append(activeIDs, id)
	}
	s.mu.Unlock()

	cancel()

	for _, id := range activeIDs {
		s.StopEvent(ctx, id, ReasonShutdown)
	}

	s.mu.Lock()
	for id, cancelWaiter := range s.waiters {
		cancelWaiter()
		delete(s.waiters, id)
	}
	s.started = false
	s.mu.Unlock()

	s.logger.Info("Schedule service stopped")
}

// PauseActiveAudio pauses every ringing playback handle concurrently. A
// failure on one handle does not prevent pausing the others.
func (s *Service) PauseActiveAudio(ctx context.Context) {
	s.broadcastActive(ctx, func(ctx context.Context, h *Handle) error { return h.Pause(ctx) })
}

// ResumeActiveAudio resumes every paused playback handle concurrently
func (s *Service) ResumeActiveAudio(ctx context.Context) {
	s.broadcastActive(ctx, func(ctx context.Context, h *Handle) error { return h.Resume(ctx) })
}

func (s *Service) broadcastActive(ctx context.Context, op func(context.Context, *Handle) error) {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.active))
	for _, entry := range s.active {
		handles = append(handles, entry.handle)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *Handle) {
			defer wg.Done()
			if err := op(ctx, h); err != nil {
				s.logger.Debug("Active audio broadcast failed for one handle", "error", err)
			}
		}(h)
	}
	wg.Wait()
}

// CreateAlarm creates a new alarm firing at timeOfDay. With repeat days the
// next occurrence on one of those weekdays is chosen; without, today if the
// instant is still ahead, else tomorrow. SingleShot defaults to "no repeat
// days given".
func (s *Service) CreateAlarm(timeOfDay string, opts AlarmOptions) (*Event, error) {
	s.mu.Lock()

	now := s.now()
	next, err := nextAlarmFire(now, timeOfDay, opts.Days)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	singleShot := len(opts.Days) == 0
	if opts.SingleShot != nil {
		singleShot = *opts.SingleShot
	}

	playback := DefaultPlayback()
	if opts.Playback != nil {
		playback = *opts.Playback
	}

	ev := &Event{
		ID:         uuid.NewString(),
		Type:       TypeAlarm,
		Label:      opts.Label,
		TimeOfDay:  timeOfDay,
		RepeatDays: append([]int(nil), opts.Days...),
		SingleShot: singleShot,
		NextFire:   next,
		Playback:   playback,
		CreatedAt:  now,
	}

	s.events[ev.ID] = ev
	s.spawnWaiterLocked(ev)
	s.persistLocked()
	notify := s.stateNotificationLocked()

	clone := ev.Clone()
	s.logger.Info("Alarm created", "id", ev.ID, "time", timeOfDay, "days", opts.Days, "next", next)
	s.mu.Unlock()

	notify()
	return clone, nil
}

// CreateTimer creates a single-shot timer. Duration is clamped to a minimum
// of one second; without a label one is synthesized from the duration.
func (s *Service) CreateTimer(duration time.Duration, label string, playback *PlaybackConfig) (*Event, error) {
	if duration < minTimerDuration {
		duration = minTimerDuration
	}

	s.mu.Lock()

	now := s.now()
	if label == "" {
		label = timerLabel(duration)
	}

	pb := DefaultPlayback()
	if playback != nil {
		pb = *playback
	}

	target := now.Add(duration)
	ev := &Event{
		ID:              uuid.NewString(),
		Type:            TypeTimer,
		Label:           label,
		SingleShot:      true,
		DurationSeconds: int(duration.Seconds()),
		TargetTime:      target,
		NextFire:        target,
		Playback:        pb,
		CreatedAt:       now,
	}

	s.events[ev.ID] = ev
	s.spawnWaiterLocked(ev)
	s.persistLocked()
	notify := s.stateNotificationLocked()

	clone := ev.Clone()
	s.logger.Info("Timer created", "id", ev.ID, "label", label, "duration", duration)
	s.mu.Unlock()

	notify()
	return clone, nil
}

// CreateReminder creates a single-shot reminder firing at the given instant,
// carrying the message in the event metadata.
func (s *Service) CreateReminder(message string, at time.Time, label string) (*Event, error) {
	s.mu.Lock()

	now := s.now()
	if !at.After(now) {
		s.mu.Unlock()
		return nil, fmt.Errorf("reminder time %s is not in the future", at)
	}
	if label == "" {
		label = "REMINDER"
	}

	ev := &Event{
		ID:         uuid.NewString(),
		Type:       TypeReminder,
		Label:      label,
		SingleShot: true,
		NextFire:   at,
		Playback:   DefaultPlayback(),
		CreatedAt:  now,
		Metadata:   map[string]string{"message": message},
	}

	s.events[ev.ID] = ev
	s.spawnWaiterLocked(ev)
	s.persistLocked()
	notify := s.stateNotificationLocked()

	clone := ev.Clone()
	s.logger.Info("Reminder created", "id", ev.ID, "at", at)
	s.mu.Unlock()

	notify()
	return clone, nil
}

// UpdateAlarm mutates the supplied fields of an alarm in place, preserving
// its identity, and reschedules its waiter atomically with the mutation.
// Supplying Days (even empty) recomputes SingleShot as "no days". Returns
// false for an unknown id or a non-alarm event.
func (s *Service) UpdateAlarm(id string, upd AlarmUpdate) bool {
	s.mu.Lock()

	ev, ok := s.events[id]
	if !ok || ev.Type != TypeAlarm {
		s.mu.Unlock()
		return false
	}

	if upd.TimeOfDay != nil {
		if _, _, err := parseTimeOfDay(*upd.TimeOfDay); err != nil {
			s.mu.Unlock()
			return false
		}
		ev.TimeOfDay = *upd.TimeOfDay
	}
	if upd.Days != nil {
		ev.RepeatDays = append([]int(nil), (*upd.Days)...)
		ev.SingleShot = len(ev.RepeatDays) == 0
	}
	if upd.Label != nil {
		ev.Label = *upd.Label
	}
	if upd.Playback != nil {
		ev.Playback = *upd.Playback
	}

	if ev.TimeOfDay != "" {
		next, err := nextAlarmFire(s.now(), ev.TimeOfDay, ev.RepeatDays)
		if err == nil {
			ev.NextFire = next
		}
	}

	s.spawnWaiterLocked(ev)
	s.persistLocked()
	notify := s.stateNotificationLocked()

	s.logger.Info("Alarm updated", "id", id, "next", ev.NextFire)
	s.mu.Unlock()

	notify()
	return true
}

// DeleteEvent stops the event if it is ringing, then removes it entirely
func (s *Service) DeleteEvent(ctx context.Context, id string) bool {
	s.mu.Lock()
	_, isActive := s.active[id]
	_, tracked := s.events[id]
	s.mu.Unlock()

	if !isActive && !tracked {
		return false
	}

	if isActive {
		// Tears down playback and notifies "stopped"; a repeating alarm
		// reschedules here and is removed just below.
		s.StopEvent(ctx, id, ReasonDeleted)
	}

	s.mu.Lock()
	if _, still := s.events[id]; !still {
		notify := s.stateNotificationLocked()
		s.mu.Unlock()
		notify()
		return true
	}
	if cancelWaiter, ok := s.waiters[id]; ok {
		cancelWaiter()
		delete(s.waiters, id)
	}
	delete(s.events, id)
	s.persistLocked()
	notify := s.stateNotificationLocked()
	s.logger.Info("Event deleted", "id", id)
	s.mu.Unlock()

	notify()
	return true
}

// StopEvent acknowledges a ringing event (or cancels a scheduled one). A
// repeating alarm recomputes its next fire and reschedules; anything else is
// removed. The active-event callback fires twice: once with the "stopped"
// payload and reason, then with nil to signal idle. Returns false if the id
// is neither active nor tracked.
func (s *Service) StopEvent(ctx context.Context, id string, reason string) bool {
	s.mu.Lock()

	entry, wasActive := s.active[id]
	ev, tracked := s.events[id]
	if !wasActive && !tracked {
		s.mu.Unlock()
		return false
	}

	var handle *Handle
	if wasActive {
		entry.watchdogCancel()
		handle = entry.handle
		delete(s.active, id)
	}

	var stoppedSnapshot *Event
	var eventType EventType
	if tracked {
		eventType = ev.Type
		stoppedSnapshot = ev.Clone()

		if cancelWaiter, ok := s.waiters[id]; ok {
			cancelWaiter()
			delete(s.waiters, id)
		}

		if ev.Repeats() {
			next, err := nextAlarmFire(s.now(), ev.TimeOfDay, ev.RepeatDays)
			if err != nil {
				s.logger.Error("Failed to reschedule repeating alarm, removing", "id", id, "error", err)
				delete(s.events, id)
			} else {
				ev.NextFire = next
				s.spawnWaiterLocked(ev)
			}
		} else {
			delete(s.events, id)
		}
	}

	s.persistLocked()
	onActive := s.onActive
	notify := s.stateNotificationLocked()
	s.mu.Unlock()

	// Playback teardown happens outside the lock; the event is already out
	// of the active set so a racing StopEvent returns false.
	if handle != nil {
		if err := handle.Stop(ctx); err != nil {
			s.logger.Warn("Playback teardown failed", "id", id, "error", err)
		}
	}

	if wasActive && onActive != nil && stoppedSnapshot != nil {
		onActive(eventType, &ActivePayload{State: "stopped", Reason: reason, Event: stoppedSnapshot})
		onActive(eventType, nil)
	}
	notify()

	if wasActive {
		s.recordHistory(id, eventType, stoppedSnapshot, "stopped", reason)
	}

	s.logger.Info("Event stopped", "id", id, "reason", reason, "was_active", wasActive)
	return true
}

// SnoozeAlarm stops a ringing alarm and reschedules it for now+minutes,
// preserving its identity, even for single-shot alarms.
func (s *Service) SnoozeAlarm(ctx context.Context, id string, minutes int) bool {
	if minutes <= 0 {
		minutes = 5
	}

	s.mu.Lock()
	ev, tracked := s.events[id]
	if !tracked || ev.Type != TypeAlarm {
		s.mu.Unlock()
		return false
	}

	entry, wasActive := s.active[id]
	var handle *Handle
	if wasActive {
		entry.watchdogCancel()
		handle = entry.handle
		delete(s.active, id)
	}

	snapshot := ev.Clone()
	ev.NextFire = s.now().Add(time.Duration(minutes) * time.Minute)
	s.spawnWaiterLocked(ev)
	s.persistLocked()
	onActive := s.onActive
	notify := s.stateNotificationLocked()
	s.mu.Unlock()

	if handle != nil {
		if err := handle.Stop(ctx); err != nil {
			s.logger.Warn("Playback teardown failed on snooze", "id", id, "error", err)
		}
	}
	if wasActive && onActive != nil {
		onActive(TypeAlarm, &ActivePayload{State: "stopped", Reason: ReasonSnoozed, Event: snapshot})
		onActive(TypeAlarm, nil)
	}
	notify()

	if wasActive {
		s.recordHistory(id, TypeAlarm, snapshot, "stopped", ReasonSnoozed)
	}

	s.logger.Info("Alarm snoozed", "id", id, "minutes", minutes)
	return true
}

// ExtendTimer adds seconds to a timer's target and reschedules its waiter.
// A currently-ringing timer keeps ringing; the extension applies to the
// stored target only.
func (s *Service) ExtendTimer(id string, seconds int) bool {
	if seconds <= 0 {
		return false
	}

	s.mu.Lock()
	ev, ok := s.events[id]
	if !ok || ev.Type != TypeTimer {
		s.mu.Unlock()
		return false
	}

	delta := time.Duration(seconds) * time.Second
	ev.TargetTime = ev.TargetTime.Add(delta)
	ev.NextFire = ev.NextFire.Add(delta)

	if _, ringing := s.active[id]; !ringing {
		s.spawnWaiterLocked(ev)
	}

	s.persistLocked()
	notify := s.stateNotificationLocked()
	s.logger.Info("Timer extended", "id", id, "seconds", seconds, "target", ev.TargetTime)
	s.mu.Unlock()

	notify()
	return true
}

// CancelAllTimers stops every tracked timer and returns how many were stopped
func (s *Service) CancelAllTimers(ctx context.Context) int {
	s.mu.Lock()
	ids := make([]string, 0)
	for id, ev := range s.events {
		if ev.Type == TypeTimer {
			ids = append(ids, id)
		}
	}
	s.mu.Unlock()

	count := 0
	for _, id := range ids {
		if s.StopEvent(ctx, id, ReasonCancelled) {
			count++
		}
	}
	return count
}

// ListEvents returns snapshots of all tracked events, optionally filtered by
// type, sorted by next fire time ascending.
func (s *Service) ListEvents(filter EventType) []EventSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(filter)
}

func (s *Service) listLocked(filter EventType) []EventSnapshot {
	out := make([]EventSnapshot, 0, len(s.events))
	for id, ev := range s.events {
		if filter != "" && ev.Type != filter {
			continue
		}
		status := StatusScheduled
		if _, ringing := s.active[id]; ringing {
			status = StatusActive
		}
		out = append(out, EventSnapshot{Event: ev.Clone(), Status: status})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Event.NextFire.Before(out[j].Event.NextFire)
	})
	return out
}

// NextAlarm returns the alarm with the soonest next fire, or nil
func (s *Service) NextAlarm() *EventSnapshot {
	alarms := s.ListEvents(TypeAlarm)
	if len(alarms) == 0 {
		return nil
	}
	return &alarms[0]
}

// ActiveEvent returns the currently-ringing event of the given type, if any.
// When two events of one type ring at once this returns the first match;
// simultaneous same-type firings are not deduplicated.
func (s *Service) ActiveEvent(eventType EventType) *EventSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.active {
		ev, ok := s.events[id]
		if ok && ev.Type == eventType {
			return &EventSnapshot{Event: ev.Clone(), Status: StatusActive}
		}
	}
	return nil
}

// spawnWaiterLocked cancels any prior waiter for the event and starts a new
// one sleeping until NextFire. Caller must hold s.mu. The delay is computed
// from the current clock at spawn time, so a waiter is never scheduled for a
// past instant.
func (s *Service) spawnWaiterLocked(ev *Event) {
	if cancelPrev, ok := s.waiters[ev.ID]; ok {
		cancelPrev()
		delete(s.waiters, ev.ID)
	}

	if s.ctx == nil {
		// Service not started: waiter spawns are deferred to Start
		return
	}

	delay := ev.NextFire.Sub(s.now())
	if delay < 0 {
		delay = 0
	}

	waitCtx, cancel := context.WithCancel(s.ctx)
	s.waiters[ev.ID] = cancel

	id := ev.ID
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-waitCtx.Done():
			return
		case <-timer.C:
			s.fire(id)
		}
	}()
}

// fire transitions an event from scheduled to active: starts its playback
// handle and arms the auto-stop watchdog.
func (s *Service) fire(id string) {
	s.mu.Lock()

	ev, ok := s.events[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, already := s.active[id]; already {
		s.mu.Unlock()
		return
	}

	delete(s.waiters, id)

	handle := NewHandle(ev.ID, ev.Playback, s.sound, s.device)

	watchdogCtx, watchdogCancel := context.WithCancel(s.ctx)
	s.active[id] = &activeEntry{handle: handle, watchdogCancel: watchdogCancel}

	snapshot := ev.Clone()
	eventType := ev.Type
	onActive := s.onActive
	autoStop := s.autoStop
	s.mu.Unlock()

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := handle.Start(startCtx); err != nil {
		s.logger.Warn("Playback start failed", "id", id, "error", err)
	}
	cancel()

	go func() {
		timer := time.NewTimer(autoStop)
		defer timer.Stop()
		select {
		case <-watchdogCtx.Done():
			return
		case <-timer.C:
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s.StopEvent(stopCtx, id, ReasonAutoTimeout)
		}
	}()

	if onActive != nil {
		onActive(eventType, &ActivePayload{State: "ringing", Event: snapshot})
	}

	s.recordHistory(id, eventType, snapshot, "fired", "")
	s.logger.Info("Event fired", "id", id, "type", eventType, "label", snapshot.Label)
}

// persistLocked writes the full event set to the store. Caller holds s.mu,
// so a reader racing a mutating call always observes persisted-consistent
// state once that call returns.
func (s *Service) persistLocked() {
	events := make([]*Event, 0, len(s.events))
	for _, ev := range s.events {
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })
	if err := s.store.Save(events); err != nil {
		s.logger.Error("Failed to persist events", "error", err)
	}
}

// stateNotificationLocked captures the snapshot under the lock and returns a
// closure invoking the callback outside it
func (s *Service) stateNotificationLocked() func() {
	cb := s.onState
	if cb == nil {
		return func() {}
	}
	snap := StateSnapshot{
		Alarms:    s.listLocked(TypeAlarm),
		Timers:    s.listLocked(TypeTimer),
		Reminders: s.listLocked(TypeReminder),
		UpdatedAt: s.now(),
	}
	return func() { cb(snap) }
}

func (s *Service) recordHistory(id string, eventType EventType, ev *Event, state, reason string) {
	if s.history == nil || ev == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.history.Record(ctx, id, string(eventType), ev.Label, state, reason, s.now())
	}()
}
