// Package progress renders a single-line terminal progress bar with an ETA and
// mirrors periodic checkpoints into the structured log.
package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/timmy/webpmigrate/internal/logger"
)

const (
	defaultWidth           = 30
	defaultCheckpointEvery = 50
)

// Snapshot is the reporter state after a tick.
type Snapshot struct {
	Processed int
	Total     int
	Percent   float64
	Elapsed   time.Duration
	ETA       time.Duration
}

// Reporter tracks processed units against a known total.
// It is not safe for concurrent use.
type Reporter struct {
	total           int
	processed       int
	width           int
	checkpointEvery int
	live            bool
	out             io.Writer
	log             *logger.Logger
	now             func() time.Time
	start           time.Time
	finished        bool
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithOutput sets the terminal writer. Live rendering defaults to whether w is a TTY.
func WithOutput(w io.Writer) Option {
	return func(r *Reporter) {
		r.out = w
		r.live = isTerminal(w)
	}
}

// WithLive forces live rendering on or off.
func WithLive(live bool) Option {
	return func(r *Reporter) { r.live = live }
}

// WithLogger sets the logger receiving checkpoint lines.
func WithLogger(log *logger.Logger) Option {
	return func(r *Reporter) { r.log = log }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) { r.now = now }
}

// WithCheckpointEvery sets how many ticks pass between log checkpoints.
func WithCheckpointEvery(n int) Option {
	return func(r *Reporter) {
		if n > 0 {
			r.checkpointEvery = n
		}
	}
}

// WithWidth sets the bar width in cells.
func WithWidth(n int) Option {
	return func(r *Reporter) {
		if n > 0 {
			r.width = n
		}
	}
}

// New creates a reporter for total units. The clock starts immediately.
func New(total int, opts ...Option) *Reporter {
	r := &Reporter{
		total:           total,
		width:           defaultWidth,
		checkpointEvery: defaultCheckpointEvery,
		out:             os.Stdout,
		now:             time.Now,
	}
	r.live = isTerminal(r.out)
	for _, opt := range opts {
		opt(r)
	}
	r.start = r.now()
	return r
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Processed returns the number of ticks so far.
func (r *Reporter) Processed() int { return r.processed }

// Total returns the expected number of ticks.
func (r *Reporter) Total() int { return r.total }

// Tick records one processed unit and redraws the bar.
func (r *Reporter) Tick() Snapshot {
	r.processed++
	s := r.snapshot()
	if r.total <= 0 {
		return s
	}
	if r.live {
		r.render(s)
	}
	if r.log != nil && (r.processed == 1 || r.processed%r.checkpointEvery == 0 || r.processed == r.total) {
		r.log.WithFields(logger.Fields{
			logger.FieldCount: s.Processed,
			"total":           s.Total,
			"percent":         fmt.Sprintf("%.1f", s.Percent),
			"eta_s":           fmt.Sprintf("%.1f", s.ETA.Seconds()),
		}).Info("Progress")
	}
	return s
}

// Finish terminates the live line when the run stopped short of the total.
func (r *Reporter) Finish() {
	if r.finished {
		return
	}
	r.finished = true
	if r.live && r.total > 0 && r.processed > 0 && r.processed < r.total {
		fmt.Fprintln(r.out)
	}
}

func (r *Reporter) snapshot() Snapshot {
	elapsed := r.now().Sub(r.start)
	s := Snapshot{Processed: r.processed, Total: r.total, Elapsed: elapsed}
	if r.total <= 0 {
		return s
	}
	done := r.processed
	if done > r.total {
		done = r.total
	}
	s.Percent = float64(done) / float64(r.total) * 100
	if done > 0 {
		perItem := elapsed / time.Duration(done)
		s.ETA = perItem * time.Duration(r.total-done)
	}
	return s
}

func (r *Reporter) render(s Snapshot) {
	filled := int(s.Percent / 100 * float64(r.width))
	if filled > r.width {
		filled = r.width
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", r.width-filled)
	fmt.Fprintf(r.out, "\r[%s] %5.1f%%  %d/%d  ETA %5.1fs", bar, s.Percent, s.Processed, s.Total, s.ETA.Seconds())
	if s.Processed == s.Total {
		fmt.Fprintln(r.out)
	}
}
