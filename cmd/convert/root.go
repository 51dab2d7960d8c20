package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/timmy/webpmigrate/internal/config"
	"github.com/timmy/webpmigrate/internal/convert"
	"github.com/timmy/webpmigrate/internal/domain"
	"github.com/timmy/webpmigrate/internal/logger"
	"github.com/timmy/webpmigrate/internal/repository"
	"github.com/timmy/webpmigrate/internal/storage"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "webpmigrate-convert",
		Short:         "Convert stored image fields to WebP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd.Context(), configFlag, cmd.Flags())
		},
	}
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", domain.ErrConfig, err)
	})

	rootCmd.Flags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	config.RegisterConvertFlags(rootCmd.Flags())
	config.RegisterDatabaseFlags(rootCmd.Flags())
	rootCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")

	return rootCmd
}

func runConvert(ctx context.Context, configPath string, flags *pflag.FlagSet) error {
	cfg, err := config.Load(configPath, flags)
	if err != nil {
		return err
	}

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      os.Stdout,
		ServiceName: "webpmigrate-convert",
		File:        cfg.Log.File,
		MaxSize:     cfg.Log.MaxSize,
		MaxBackups:  3,
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync() //nolint:errcheck

	db, err := repository.InitDB(&cfg.Database, appLogger)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	blobs, err := storage.NewStorage(&storage.Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Root:      cfg.Storage.Root,
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}
	if s3, ok := blobs.(*storage.S3Storage); ok {
		if err := s3.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrConfig, err)
		}
	}

	repo := repository.NewContentRepository(db, blobs)
	job := convert.NewJob(cfg.Convert.RunConfig(), repo,
		convert.WithLogger(appLogger),
		convert.WithScanBatch(cfg.Convert.ScanBatch),
	)
	_, err = job.Run(ctx)
	return err
}
