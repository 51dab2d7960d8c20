package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/timmy/webpmigrate/internal/config"
	"github.com/timmy/webpmigrate/internal/domain"
	"github.com/timmy/webpmigrate/internal/logger"
	"github.com/timmy/webpmigrate/internal/procman"
	"github.com/timmy/webpmigrate/internal/supervisor"
)

// exitCodeError carries the conversion job's status out of cobra.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("migration finished with exit code %d", e.code)
}

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "webpmigrate-supervise",
		Short:         "Stop the server, convert images to WebP and start the server again",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSupervise(cmd.Context(), configFlag, cmd.Flags())
		},
	}
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", domain.ErrConfig, err)
	})

	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	config.RegisterConvertFlags(rootCmd.Flags())
	config.RegisterSupervisorFlags(rootCmd.Flags())

	return rootCmd
}

func runSupervise(ctx context.Context, configPath string, flags *pflag.FlagSet) error {
	cfg, err := config.Load(configPath, flags)
	if err != nil {
		return err
	}
	runCfg := cfg.Convert.RunConfig()
	if err := runCfg.Validate(); err != nil {
		return err
	}

	lock, err := supervisor.AcquireLock(cfg.Supervisor.LockFile)
	if err != nil {
		return err
	}
	defer lock.Unlock() //nolint:errcheck

	logFile := logger.OpenFile(cfg.Supervisor.LogFile, cfg.Log.MaxSize, 0, false)
	defer logFile.Close()
	out := io.MultiWriter(os.Stdout, logFile)

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      out,
		ServiceName: "webpmigrate-supervise",
	})
	logger.SetDefaultLogger(appLogger)

	sup := supervisor.New(procman.OS{}, appLogger, out)
	report, err := sup.Run(ctx, supervisor.Options{
		ServerIdentity: cfg.Supervisor.ServerIdentity,
		ServerCommand:  cfg.Supervisor.ServerCommand,
		JobCommand:     cfg.Supervisor.JobCommand,
		GracePeriod:    cfg.Supervisor.GracePeriod,
		RunConfig:      runCfg,
		ConfigFile:     cfg.File,
	})
	if err != nil {
		return err
	}
	if code := report.ExitCode(); code != 0 {
		return &exitCodeError{code: code}
	}
	return nil
}
