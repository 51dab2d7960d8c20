// Package supervisor stops the application server, runs the conversion job as
// a child process and starts the server again.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/timmy/webpmigrate/internal/config"
	"github.com/timmy/webpmigrate/internal/domain"
	"github.com/timmy/webpmigrate/internal/logger"
	"github.com/timmy/webpmigrate/internal/procman"
)

const border = "=================================================="

// ProcessManager is the subset of OS process control the supervisor needs.
type ProcessManager interface {
	FindByToken(ctx context.Context, token string) ([]int, error)
	Terminate(pid int) error
	Run(ctx context.Context, cmd procman.Command, out io.Writer) (int, error)
	StartDetached(cmd procman.Command) (int, error)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Options configures one supervised migration.
type Options struct {
	ServerIdentity string
	ServerCommand  []string
	JobCommand     []string
	GracePeriod    time.Duration
	RunConfig      domain.RunConfig
	// ConfigFile is handed to the job so it opens the same store.
	ConfigFile string
}

// JobOutcome classifies the job's exit code.
type JobOutcome string

const (
	JobDone            JobOutcome = "done"
	JobConfigError     JobOutcome = "config_error"
	JobCommitError     JobOutcome = "commit_error"
	JobCompactionError JobOutcome = "compaction_error"
	JobFailed          JobOutcome = "failed"
	JobNotStarted      JobOutcome = "not_started"
)

// Classify maps a conversion job exit code to its outcome.
func Classify(code int) JobOutcome {
	switch code {
	case 0:
		return JobDone
	case 2:
		return JobConfigError
	case 3:
		return JobCommitError
	case 4:
		return JobCompactionError
	default:
		return JobFailed
	}
}

// Report describes what a supervised run did.
type Report struct {
	WasRunning    bool
	SignalledPIDs []int
	JobExitCode   int
	JobOutcome    JobOutcome
	RestartPID    int
	Errors        []error
	StartTime     time.Time
	EndTime       time.Time
}

// ExitCode returns the status the supervisor process should exit with: the
// job's own code when it failed, 1 when the server could not be restarted.
func (r *Report) ExitCode() int {
	switch {
	case r.JobOutcome == JobNotStarted:
		return 1
	case r.JobExitCode != 0:
		return r.JobExitCode
	case r.RestartPID == 0:
		return 1
	default:
		return 0
	}
}

// Supervisor runs the stop, convert, restart sequence.
type Supervisor struct {
	pm    ProcessManager
	sleep Sleeper
	log   *logger.Logger
	out   io.Writer
	now   func() time.Time
}

// New creates a supervisor. Job output is copied to out.
func New(pm ProcessManager, log *logger.Logger, out io.Writer) *Supervisor {
	if log == nil {
		log = logger.GetDefault()
	}
	if out == nil {
		out = log.Writer()
	}
	return &Supervisor{pm: pm, sleep: SleepContext, log: log, out: out, now: time.Now}
}

// WithSleeper replaces the grace period sleeper.
func (s *Supervisor) WithSleeper(sleep Sleeper) *Supervisor {
	s.sleep = sleep
	return s
}

// SleepContext sleeps for d unless ctx is cancelled first.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run stops the server, runs the job and restarts the server. The restart is
// attempted whatever happened before it. The returned error is non-nil only
// when the server could not be restarted.
func (s *Supervisor) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{StartTime: s.now(), JobExitCode: -1}
	log := s.log.WithField(logger.FieldComponent, "supervisor")

	log.Info(border)
	log.Infof("WebP migration started at %s", report.StartTime.Format(time.RFC3339))
	log.Infof("QUALITY=%d DRY_RUN=%t SITE_ID=%s", opts.RunConfig.Quality, opts.RunConfig.DryRun, opts.RunConfig.SiteID)
	log.Infof("SERVER=%s GRACE=%s", opts.ServerIdentity, opts.GracePeriod)
	log.Info(border)

	s.stop(ctx, log, opts, report)
	s.runJob(ctx, log, opts, report)
	err := s.restart(log, opts, report)

	report.EndTime = s.now()
	log.Info(border)
	log.WithFields(logger.Fields{
		logger.FieldStatus:     string(report.JobOutcome),
		logger.FieldDurationMs: report.EndTime.Sub(report.StartTime).Milliseconds(),
	}).Infof("WebP migration finished at %s", report.EndTime.Format(time.RFC3339))
	log.Info(border)
	return report, err
}

type signalResult struct {
	signalled []int
	errs      []error
}

func (s *Supervisor) stop(ctx context.Context, log *logger.Logger, opts Options, report *Report) {
	log = log.WithField(logger.FieldPhase, "stopping")
	log.Info("Step 1: stopping server")

	pids, err := s.pm.FindByToken(ctx, opts.ServerIdentity)
	if err != nil {
		report.Errors = append(report.Errors, err)
		log.WithError(err).Warn("Could not look up server process, continuing")
		return
	}
	if len(pids) == 0 {
		log.Info("server not running")
		return
	}
	report.WasRunning = true
	log.Infof("Server running (pid %s), sending SIGTERM", joinPIDs(pids))

	done := make(chan signalResult, 1)
	go func() {
		var res signalResult
		for _, pid := range pids {
			if err := s.pm.Terminate(pid); err != nil {
				res.errs = append(res.errs, err)
				continue
			}
			res.signalled = append(res.signalled, pid)
		}
		done <- res
	}()

	if err := s.sleep(ctx, opts.GracePeriod); err != nil {
		log.WithError(err).Warn("Grace period interrupted")
	}

	select {
	case res := <-done:
		report.SignalledPIDs = res.signalled
		for _, err := range res.errs {
			report.Errors = append(report.Errors, err)
			log.WithError(err).Warn("Signal failed, continuing")
		}
	case <-time.After(time.Second):
		err := fmt.Errorf("%w: signal delivery still pending after grace period", domain.ErrProcessControl)
		report.Errors = append(report.Errors, err)
		log.WithError(err).Warn("Continuing without confirmation")
	}
}

func (s *Supervisor) runJob(ctx context.Context, log *logger.Logger, opts Options, report *Report) {
	log = log.WithField(logger.FieldPhase, "running")
	env := opts.RunConfig.Environ()
	if opts.ConfigFile != "" {
		env = append(env, config.FileEnv+"="+opts.ConfigFile)
	}
	cmd, err := procman.FromArgv(opts.JobCommand, env...)
	if err != nil {
		report.JobOutcome = JobNotStarted
		report.Errors = append(report.Errors, fmt.Errorf("%w: job command: %v", domain.ErrConfig, err))
		log.WithError(err).Error("Step 2: no conversion job command configured")
		return
	}

	log.Infof("Step 2: running conversion job: %s", cmd)
	code, err := s.pm.Run(ctx, cmd, s.out)
	if err != nil {
		report.JobOutcome = JobNotStarted
		report.Errors = append(report.Errors, err)
		log.WithError(err).Error("Conversion job could not be started")
		return
	}
	report.JobExitCode = code
	report.JobOutcome = Classify(code)

	entry := log.WithFields(logger.Fields{"exit_code": code, logger.FieldStatus: string(report.JobOutcome)})
	if code == 0 {
		entry.Info("Conversion job finished")
	} else {
		entry.Error("Conversion job failed")
	}
}

func (s *Supervisor) restart(log *logger.Logger, opts Options, report *Report) error {
	log = log.WithField(logger.FieldPhase, "starting")
	cmd, err := procman.FromArgv(opts.ServerCommand)
	if err != nil {
		err = fmt.Errorf("%w: server command: %v", domain.ErrConfig, err)
		report.Errors = append(report.Errors, err)
		log.WithError(err).Error("Step 3: cannot start server")
		return err
	}

	log.Infof("Step 3: starting server: %s", cmd)
	pid, err := s.pm.StartDetached(cmd)
	if err != nil {
		report.Errors = append(report.Errors, err)
		log.WithError(err).Error("Server could not be started")
		return err
	}
	report.RestartPID = pid
	log.Infof("Server started (pid %d)", pid)
	return nil
}

func joinPIDs(pids []int) string {
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = fmt.Sprint(pid)
	}
	return strings.Join(parts, ",")
}
