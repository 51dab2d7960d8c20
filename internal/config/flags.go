package config

import (
	"time"

	"github.com/spf13/pflag"

	"github.com/timmy/webpmigrate/internal/domain"
)

// RegisterConvertFlags adds the run configuration flags shared by both binaries.
func RegisterConvertFlags(fs *pflag.FlagSet) {
	fs.Int("quality", domain.DefaultQuality, "WebP quality (0-100)")
	fs.Bool("dry-run", false, "Report what would be converted without writing")
	fs.String("site", domain.DefaultSiteID, "Site ID to convert")
	fs.Int("commit-every", domain.DefaultCommitEvery, "Conversions per committed transaction")
	fs.Bool("pack", true, "Compact the database after a successful run")
	fs.Bool("no-pack", false, "Skip compaction after the run")
	fs.StringSlice("content-type", domain.DefaultContentTypes(), "Content types to scan (repeatable)")
	fs.StringSlice("field", domain.DefaultFieldNames(), "Image field names to examine (repeatable)")
}

// RegisterDatabaseFlags adds database selection flags.
func RegisterDatabaseFlags(fs *pflag.FlagSet) {
	fs.String("db-driver", "sqlite", "Database driver (sqlite, postgres)")
	fs.String("db-path", "./data/content.db", "SQLite database path")
	fs.Int("scan-batch", 100, "Objects loaded per enumeration page")
}

// RegisterSupervisorFlags adds the supervisor-only flags.
func RegisterSupervisorFlags(fs *pflag.FlagSet) {
	fs.Duration("grace-period", 10*time.Second, "Wait after signalling the server before running the job")
	fs.String("log-file", "./logs/webp-migration.log", "Append-only migration log")
}
