package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// TargetContentType is the single encoding every eligible field is converted to.
const TargetContentType = "image/webp"

// Defaults for a run.
const (
	DefaultQuality     = 85
	DefaultCommitEvery = 100
	DefaultSiteID      = "Plone"
)

// DefaultContentTypes returns the content types scanned when none are configured.
func DefaultContentTypes() []string {
	return []string{"Image", "News Item", "Event", "File", "Document"}
}

// DefaultFieldNames returns the image field names examined when none are configured.
func DefaultFieldNames() []string {
	return []string{"image", "event_image", "lead_image"}
}

// RunConfig holds the immutable settings of one conversion run.
// It is passed by value into the job; nothing in the core reads ambient state.
type RunConfig struct {
	Quality      int
	DryRun       bool
	SiteID       string
	CommitEvery  int
	Pack         bool
	ContentTypes []string
	FieldNames   []string
}

// DefaultRunConfig returns a RunConfig populated with the documented defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Quality:      DefaultQuality,
		SiteID:       DefaultSiteID,
		CommitEvery:  DefaultCommitEvery,
		Pack:         true,
		ContentTypes: DefaultContentTypes(),
		FieldNames:   DefaultFieldNames(),
	}
}

// Normalized returns a copy with trimmed, de-duplicated type and field lists.
// Order of first appearance is kept.
func (c RunConfig) Normalized() RunConfig {
	c.SiteID = strings.TrimSpace(c.SiteID)
	c.ContentTypes = orderedSet(c.ContentTypes)
	c.FieldNames = orderedSet(c.FieldNames)
	return c
}

// Validate checks the run configuration. All failures wrap ErrConfig.
func (c RunConfig) Validate() error {
	if c.Quality < 0 || c.Quality > 100 {
		return fmt.Errorf("%w: quality must be between 0 and 100, got %d", ErrConfig, c.Quality)
	}
	if c.CommitEvery <= 0 {
		return fmt.Errorf("%w: commit_every must be positive, got %d", ErrConfig, c.CommitEvery)
	}
	if strings.TrimSpace(c.SiteID) == "" {
		return fmt.Errorf("%w: site id is required", ErrConfig)
	}
	if len(orderedSet(c.ContentTypes)) == 0 {
		return fmt.Errorf("%w: at least one content type is required", ErrConfig)
	}
	if len(orderedSet(c.FieldNames)) == 0 {
		return fmt.Errorf("%w: at least one field name is required", ErrConfig)
	}
	return nil
}

// Query returns the field query this run scans.
func (c RunConfig) Query() FieldQuery {
	return FieldQuery{
		SiteID:       c.SiteID,
		ContentTypes: c.ContentTypes,
		FieldNames:   c.FieldNames,
	}
}

// Environ renders the configuration as environment variables for a child job process.
func (c RunConfig) Environ() []string {
	return []string{
		"QUALITY=" + strconv.Itoa(c.Quality),
		"DRY_RUN=" + boolEnv(c.DryRun),
		"SITE_ID=" + c.SiteID,
		"COMMIT_EVERY=" + strconv.Itoa(c.CommitEvery),
		"PACK=" + boolEnv(c.Pack),
		"CONTENT_TYPES=" + strings.Join(c.ContentTypes, ","),
		"FIELD_NAMES=" + strings.Join(c.FieldNames, ","),
	}
}

func boolEnv(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func orderedSet(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
