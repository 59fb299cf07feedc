package schedule

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	store := NewStore(path)

	events := []*Event{
		{
			ID:        "a1",
			Type:      TypeAlarm,
			TimeOfDay: "07:30",
			NextFire:  time.Date(2026, 3, 3, 7, 30, 0, 0, time.UTC),
			Playback:  DefaultPlayback(),
			CreatedAt: time.Now().UTC(),
		},
		{
			ID:         "t1",
			Type:       TypeTimer,
			Label:      "5 MIN TIMER",
			SingleShot: true,
			TargetTime: time.Now().Add(5 * time.Minute).UTC(),
			Playback: PlaybackConfig{
				Mode:  PlaybackMusic,
				Music: &MusicConfig{Entity: "media_player.kitchen", Source: "radio", ContentType: "music"},
			},
			CreatedAt: time.Now().UTC(),
		},
	}

	if err := store.Save(events); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded := store.Load()
	if len(loaded) != 2 {
		t.Fatalf("Load() returned %d events, want 2", len(loaded))
	}
	if loaded[0].ID != "a1" || loaded[0].TimeOfDay != "07:30" {
		t.Errorf("alarm round-trip mismatch: %+v", loaded[0])
	}
	if loaded[1].Playback.Mode != PlaybackMusic || loaded[1].Playback.Music == nil {
		t.Errorf("music playback config lost: %+v", loaded[1].Playback)
	}
}

func TestStore_MissingFile(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "nope", "events.json"))
	if got := store.Load(); got != nil {
		t.Errorf("Load() on missing file = %v, want nil", got)
	}
}

func TestStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(path)
	if got := store.Load(); got != nil {
		t.Errorf("Load() on corrupt file = %v, want nil", got)
	}
}

func TestStore_SkipsMalformedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.json")
	doc := `{"events": [
		{"event_id": "good", "event_type": "timer", "playback": {"mode": "beep"}},
		{"event_id": "", "event_type": "timer"},
		{"event_id": "noType"}
	]}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(path)
	loaded := store.Load()
	if len(loaded) != 1 || loaded[0].ID != "good" {
		t.Errorf("Load() = %+v, want only the well-formed record", loaded)
	}
}

func TestStore_SaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deep", "nested", "events.json")
	store := NewStore(path)

	if err := store.Save(nil); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("store file not created: %v", err)
	}
}

func TestStore_AtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.json")
	store := NewStore(path)

	if err := store.Save([]*Event{{ID: "one", Type: TypeTimer}}); err != nil {
		t.Fatalf("first Save() error = %v", err)
	}
	if err := store.Save([]*Event{{ID: "two", Type: TypeTimer}}); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	// No temp files left behind
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the store file in %s, found %d entries", dir, len(entries))
	}

	loaded := store.Load()
	if len(loaded) != 1 || loaded[0].ID != "two" {
		t.Errorf("Load() after replace = %+v", loaded)
	}
}
