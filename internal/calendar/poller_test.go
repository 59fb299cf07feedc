package calendar

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/weirdtangent/pulse-os/internal/schedule"
	"github.com/weirdtangent/pulse-os/pkg/core/config"
)

type createdReminder struct {
	message string
	at      time.Time
}

type fakeCreator struct {
	mu      sync.Mutex
	created []createdReminder
	err     error
}

func (f *fakeCreator) CreateReminder(message string, at time.Time, label string) (*schedule.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, createdReminder{message: message, at: at})
	return &schedule.Event{ID: "r", Type: schedule.TypeReminder}, nil
}

func (f *fakeCreator) snapshot() []createdReminder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]createdReminder(nil), f.created...)
}

func icsFeed(events ...string) string {
	feed := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//test//EN\r\n"
	for _, ev := range events {
		feed += ev
	}
	return feed + "END:VCALENDAR\r\n"
}

func icsEvent(uid, summary string, start time.Time, status string) string {
	ev := fmt.Sprintf("BEGIN:VEVENT\r\nUID:%s\r\nSUMMARY:%s\r\nDTSTAMP:%s\r\nDTSTART:%s\r\n",
		uid, summary,
		start.UTC().Format("20060102T150405Z"),
		start.UTC().Format("20060102T150405Z"))
	if status != "" {
		ev += "STATUS:" + status + "\r\n"
	}
	return ev + "END:VEVENT\r\n"
}

func feedServer(t *testing.T, feed string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		fmt.Fprint(w, feed)
	}))
}

func testConfig(url string) config.CalendarConfig {
	return config.CalendarConfig{
		Enabled:         true,
		URL:             url,
		PollIntervalMin: 15,
		LookaheadHours:  24,
	}
}

func TestPoller_CreatesRemindersForUpcomingEvents(t *testing.T) {
	soon := time.Now().Add(2 * time.Hour)
	farOut := time.Now().Add(72 * time.Hour)
	past := time.Now().Add(-time.Hour)

	server := feedServer(t, icsFeed(
		icsEvent("uid-1", "Dentist", soon, ""),
		icsEvent("uid-2", "Next week", farOut, ""),
		icsEvent("uid-3", "Yesterday", past, ""),
	))
	defer server.Close()

	creator := &fakeCreator{}
	p := NewPoller(testConfig(server.URL), creator)

	if err := p.poll(context.Background()); err != nil {
		t.Fatalf("poll() error = %v", err)
	}

	created := creator.snapshot()
	if len(created) != 1 {
		t.Fatalf("created %d reminders, want 1 (window filter): %+v", len(created), created)
	}
	if created[0].message != "Dentist" {
		t.Errorf("reminder message = %q", created[0].message)
	}
}

func TestPoller_DedupesByUID(t *testing.T) {
	soon := time.Now().Add(2 * time.Hour)
	server := feedServer(t, icsFeed(icsEvent("uid-1", "Dentist", soon, "")))
	defer server.Close()

	creator := &fakeCreator{}
	p := NewPoller(testConfig(server.URL), creator)

	for i := 0; i < 3; i++ {
		if err := p.poll(context.Background()); err != nil {
			t.Fatalf("poll() error = %v", err)
		}
	}

	if got := len(creator.snapshot()); got != 1 {
		t.Errorf("created %d reminders across polls, want 1", got)
	}
}

func TestPoller_SkipsCancelledEvents(t *testing.T) {
	soon := time.Now().Add(2 * time.Hour)
	server := feedServer(t, icsFeed(icsEvent("uid-1", "Cancelled thing", soon, "CANCELLED")))
	defer server.Close()

	creator := &fakeCreator{}
	p := NewPoller(testConfig(server.URL), creator)

	if err := p.poll(context.Background()); err != nil {
		t.Fatalf("poll() error = %v", err)
	}
	if got := len(creator.snapshot()); got != 0 {
		t.Errorf("created %d reminders for a cancelled event", got)
	}
}

func TestPoller_FeedErrorPropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	p := NewPoller(testConfig(server.URL), &fakeCreator{})
	if err := p.poll(context.Background()); err == nil {
		t.Error("poll() should fail on a non-200 feed response")
	}
}

func TestPoller_FailedCreateRetriesNextPoll(t *testing.T) {
	soon := time.Now().Add(2 * time.Hour)
	server := feedServer(t, icsFeed(icsEvent("uid-1", "Dentist", soon, "")))
	defer server.Close()

	creator := &fakeCreator{err: fmt.Errorf("store full")}
	p := NewPoller(testConfig(server.URL), creator)

	if err := p.poll(context.Background()); err != nil {
		t.Fatalf("poll() error = %v", err)
	}

	// Creation failed, so the UID must not be marked as materialized
	creator.mu.Lock()
	creator.err = nil
	creator.mu.Unlock()

	if err := p.poll(context.Background()); err != nil {
		t.Fatalf("second poll() error = %v", err)
	}
	if got := len(creator.snapshot()); got != 1 {
		t.Errorf("created %d reminders after retry, want 1", got)
	}
}
