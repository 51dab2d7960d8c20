package domain

import (
	"errors"
	"reflect"
	"testing"
)

func TestRunConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RunConfig)
		wantErr bool
	}{
		{"defaults", func(c *RunConfig) {}, false},
		{"quality zero", func(c *RunConfig) { c.Quality = 0 }, false},
		{"quality hundred", func(c *RunConfig) { c.Quality = 100 }, false},
		{"quality negative", func(c *RunConfig) { c.Quality = -1 }, true},
		{"quality too high", func(c *RunConfig) { c.Quality = 101 }, true},
		{"commit every zero", func(c *RunConfig) { c.CommitEvery = 0 }, true},
		{"empty site", func(c *RunConfig) { c.SiteID = "  " }, true},
		{"no content types", func(c *RunConfig) { c.ContentTypes = []string{" "} }, true},
		{"no field names", func(c *RunConfig) { c.FieldNames = nil }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRunConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrConfig) {
					t.Fatalf("Validate() = %v, want ErrConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
		})
	}
}

func TestRunConfigNormalized(t *testing.T) {
	cfg := RunConfig{
		SiteID:       " Plone ",
		ContentTypes: []string{"Image", " News Item", "Image", ""},
		FieldNames:   []string{"image", "lead_image", "image"},
	}
	got := cfg.Normalized()
	if got.SiteID != "Plone" {
		t.Errorf("SiteID = %q, want Plone", got.SiteID)
	}
	if want := []string{"Image", "News Item"}; !reflect.DeepEqual(got.ContentTypes, want) {
		t.Errorf("ContentTypes = %v, want %v", got.ContentTypes, want)
	}
	if want := []string{"image", "lead_image"}; !reflect.DeepEqual(got.FieldNames, want) {
		t.Errorf("FieldNames = %v, want %v", got.FieldNames, want)
	}
}

func TestRunConfigEnviron(t *testing.T) {
	cfg := DefaultRunConfig()
	cfg.DryRun = true
	cfg.Pack = false
	env := cfg.Environ()
	want := []string{
		"QUALITY=85",
		"DRY_RUN=1",
		"SITE_ID=Plone",
		"COMMIT_EVERY=100",
		"PACK=0",
		"CONTENT_TYPES=Image,News Item,Event,File,Document",
		"FIELD_NAMES=image,event_image,lead_image",
	}
	if !reflect.DeepEqual(env, want) {
		t.Errorf("Environ() = %v, want %v", env, want)
	}
}

func TestIsTargetContentType(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"image/webp", true},
		{"IMAGE/WEBP", true},
		{"image/webp; charset=binary", true},
		{"image/png", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsTargetContentType(tt.in); got != tt.want {
			t.Errorf("IsTargetContentType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
