package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/timmy/webpmigrate/internal/logger"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTickSnapshots(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	var out bytes.Buffer
	r := New(4, WithOutput(&out), WithLive(true), WithClock(clock.now), WithWidth(4))

	clock.advance(2 * time.Second)
	s := r.Tick()
	if s.Processed != 1 || s.Percent != 25 {
		t.Fatalf("snapshot = %+v", s)
	}
	if s.ETA != 6*time.Second {
		t.Errorf("ETA = %v, want 6s", s.ETA)
	}
	if !strings.Contains(out.String(), "\r[█░░░]  25.0%  1/4  ETA   6.0s") {
		t.Errorf("unexpected line %q", out.String())
	}

	for i := 0; i < 3; i++ {
		clock.advance(time.Second)
		s = r.Tick()
	}
	if s.Percent != 100 || s.ETA != 0 {
		t.Errorf("final snapshot = %+v", s)
	}
	if !strings.HasSuffix(out.String(), "ETA   0.0s\n") {
		t.Errorf("final line not terminated: %q", out.String())
	}
}

func TestNotLiveWritesNothing(t *testing.T) {
	var out bytes.Buffer
	r := New(3, WithOutput(&out))
	r.Tick()
	r.Finish()
	if out.Len() != 0 {
		t.Errorf("non-terminal output received %q", out.String())
	}
}

func TestZeroTotal(t *testing.T) {
	var out bytes.Buffer
	r := New(0, WithOutput(&out), WithLive(true))
	s := r.Tick()
	if s.Percent != 0 || out.Len() != 0 {
		t.Errorf("zero total rendered %q, snapshot %+v", out.String(), s)
	}
}

func TestOverrunClamps(t *testing.T) {
	var out bytes.Buffer
	r := New(1, WithOutput(&out), WithLive(true), WithWidth(2))
	r.Tick()
	s := r.Tick()
	if s.Percent != 100 || s.ETA != 0 {
		t.Errorf("overrun snapshot = %+v", s)
	}
	if strings.Contains(out.String(), "░░░") {
		t.Errorf("bar exceeded width: %q", out.String())
	}
}

func TestFinishTerminatesPartialLine(t *testing.T) {
	var out bytes.Buffer
	r := New(5, WithOutput(&out), WithLive(true))
	r.Tick()
	r.Finish()
	r.Finish()
	if !strings.HasSuffix(out.String(), "\n") || strings.Count(out.String(), "\n") != 1 {
		t.Errorf("output = %q", out.String())
	}
}

func TestCheckpointLogging(t *testing.T) {
	var logs bytes.Buffer
	cfg := logger.DefaultConfig()
	cfg.Output = &logs
	cfg.Format = "json"
	cfg.Level = "info"
	cfg.File = ""
	log := logger.New(cfg)

	r := New(7, WithOutput(&bytes.Buffer{}), WithLogger(log), WithCheckpointEvery(3))
	for i := 0; i < 7; i++ {
		r.Tick()
	}
	// ticks 1, 3, 6 and 7
	if got := strings.Count(logs.String(), `"message":"Progress"`); got != 4 {
		t.Errorf("checkpoint count = %d, want 4\n%s", got, logs.String())
	}
}
