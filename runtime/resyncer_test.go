package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"

	"github.com/aschepis/backscratcher/lifebook/story"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct{}

func (fakeSource) UID() string { return "u1" }

func (fakeSource) Snapshot() story.Snapshot {
	return story.Snapshot{Profile: &story.Profile{UID: "u1", BirthYear: 1974}}
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls int
	err   error
	fired chan struct{}
}

func (f *fakeSyncer) Resync(_ context.Context, uid string, snap story.Snapshot) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fired != nil {
		select {
		case f.fired <- struct{}{}:
		default:
		}
	}
	if uid != "u1" || snap.Profile == nil {
		return errors.New("unexpected arguments")
	}
	return f.err
}

type everyFewMillis struct{}

func (everyFewMillis) Next(t time.Time) time.Time { return t.Add(2 * time.Millisecond) }

func TestParseSchedule(t *testing.T) {
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"*/15 * * * *", base.Add(15 * time.Minute)},
		{"@hourly", base.Add(time.Hour)},
		{"@every 15m", base.Add(15 * time.Minute)},
		{"90s", base.Add(90 * time.Second)},
	}
	for _, tt := range tests {
		s, err := ParseSchedule(tt.in)
		if err != nil {
			t.Fatalf("ParseSchedule(%q): %v", tt.in, err)
		}
		if got := s.Next(base); !got.Equal(tt.want) {
			t.Errorf("ParseSchedule(%q).Next = %s, want %s", tt.in, got, tt.want)
		}
	}
	for _, bad := range []string{"", "soon", "-5m"} {
		if _, err := ParseSchedule(bad); err == nil {
			t.Errorf("ParseSchedule(%q) should fail", bad)
		}
	}
}

func TestRunOnce(t *testing.T) {
	syncer := &fakeSyncer{}
	r := NewResyncer(fakeSource{}, syncer, everyFewMillis{}, zerolog.Nop())
	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	syncer.err = errors.New("mirror down")
	if err := r.RunOnce(context.Background()); err == nil {
		t.Fatal("expected the syncer error")
	}
}

func TestStartRunsUntilCancelled(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("mirror down"), fired: make(chan struct{}, 1)}
	r := NewResyncer(fakeSource{}, syncer, everyFewMillis{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-syncer.fired:
		case <-time.After(5 * time.Second):
			t.Fatal("resync never ran")
		}
	}
	cancel()
	<-done
}
