package repository

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/timmy/webpmigrate/internal/config"
	"github.com/timmy/webpmigrate/internal/domain"
	"github.com/timmy/webpmigrate/internal/storage"
)

func newTestRepo(t *testing.T, blobs storage.ObjectStorage) *ContentRepository {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "content.db"),
		AutoMigrate: true,
	}
	db, err := InitDB(cfg, nil)
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	repo := NewContentRepository(db, blobs)
	if err := repo.CreateSite(context.Background(), &domain.Site{ID: "Plone", Title: "Site"}); err != nil {
		t.Fatalf("CreateSite: %v", err)
	}
	return repo
}

func seedObject(t *testing.T, repo *ContentRepository, path, portalType string, fields ...domain.ImageField) *domain.ContentObject {
	t.Helper()
	obj := &domain.ContentObject{SiteID: "Plone", PortalType: portalType, Path: path, Fields: fields}
	if err := repo.CreateObject(context.Background(), obj); err != nil {
		t.Fatalf("CreateObject(%s): %v", path, err)
	}
	return obj
}

func defaultQuery() domain.FieldQuery {
	return domain.FieldQuery{
		SiteID:       "Plone",
		ContentTypes: domain.DefaultContentTypes(),
		FieldNames:   domain.DefaultFieldNames(),
	}
}

func TestCountAndEnumerate(t *testing.T) {
	repo := newTestRepo(t, nil)
	ctx := context.Background()

	seedObject(t, repo, "/a", "Image", domain.ImageField{Name: "image", ContentType: "image/png", Data: []byte("a")})
	seedObject(t, repo, "/b", "News Item",
		domain.ImageField{Name: "image", ContentType: "image/jpeg", Data: []byte("b")},
		domain.ImageField{Name: "lead_image", ContentType: "image/png", Data: []byte("c")},
		domain.ImageField{Name: "attachment", ContentType: "application/pdf", Data: []byte("d")},
	)
	seedObject(t, repo, "/c", "Folder", domain.ImageField{Name: "image", ContentType: "image/png", Data: []byte("e")})
	seedObject(t, repo, "/d", "Document")

	total, err := repo.CountImageFields(ctx, defaultQuery())
	if err != nil {
		t.Fatalf("CountImageFields: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}

	var paths []string
	var fields int
	err = repo.EachObject(ctx, defaultQuery(), 1, func(obj *domain.ContentObject) error {
		paths = append(paths, obj.Path)
		for _, f := range obj.Fields {
			fields++
			if len(f.Data) != 0 {
				t.Errorf("field %s on %s loaded its bytes", f.Name, obj.Path)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("EachObject: %v", err)
	}
	if strings.Join(paths, ",") != "/a,/b" {
		t.Errorf("paths = %v, want [/a /b]", paths)
	}
	if fields != total {
		t.Errorf("enumerated %d fields, counted %d", fields, total)
	}
}

func TestCommitBatchInline(t *testing.T) {
	repo := newTestRepo(t, nil)
	ctx := context.Background()
	obj := seedObject(t, repo, "/img", "Image", domain.ImageField{Name: "image", Filename: "x.png", ContentType: "image/png", Data: []byte("png")})
	field := obj.Field("image")

	err := repo.CommitBatch(ctx, []domain.Mutation{{
		ObjectID: obj.ID, FieldID: field.ID, FieldName: "image", Path: obj.Path,
		Data: []byte("webp"), Filename: "x.webp", ContentType: domain.TargetContentType, Width: 2, Height: 3,
	}})
	if err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}

	var got domain.ImageField
	if err := repo.DB().First(&got, field.ID).Error; err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != "webp" || got.Filename != "x.webp" || got.ContentType != domain.TargetContentType || got.Size != 4 {
		t.Errorf("field after commit = %+v", got)
	}

	var entry domain.CatalogEntry
	if err := repo.DB().First(&entry, "object_id = ?", obj.ID).Error; err != nil {
		t.Fatalf("catalog entry missing: %v", err)
	}
	if entry.ImageTypes != "image=image/webp" {
		t.Errorf("ImageTypes = %q", entry.ImageTypes)
	}
}

func TestCommitBatchIsAtomic(t *testing.T) {
	repo := newTestRepo(t, nil)
	ctx := context.Background()
	obj := seedObject(t, repo, "/img", "Image", domain.ImageField{Name: "image", ContentType: "image/png", Data: []byte("png")})
	field := obj.Field("image")

	err := repo.CommitBatch(ctx, []domain.Mutation{
		{ObjectID: obj.ID, FieldID: field.ID, Data: []byte("webp"), ContentType: domain.TargetContentType},
		{ObjectID: obj.ID, FieldID: 9999, Data: []byte("webp"), ContentType: domain.TargetContentType},
	})
	if err == nil {
		t.Fatal("expected error for missing field")
	}

	var got domain.ImageField
	if err := repo.DB().First(&got, field.ID).Error; err != nil {
		t.Fatal(err)
	}
	if got.ContentType != "image/png" || string(got.Data) != "png" {
		t.Errorf("partial batch applied: %+v", got)
	}
	var entries int64
	repo.DB().Model(&domain.CatalogEntry{}).Count(&entries)
	if entries != 0 {
		t.Errorf("catalog entries = %d, want 0", entries)
	}
}

func TestBlobCommitAndCompact(t *testing.T) {
	fs := afero.NewMemMapFs()
	blobs := storage.NewFilesystemStorage(fs, "/blobs")
	repo := newTestRepo(t, blobs)
	ctx := context.Background()

	oldData := []byte("old png bytes")
	oldKey := storage.BlobKey(oldData, "png")
	if err := blobs.Upload(ctx, oldKey, strings.NewReader(string(oldData)), int64(len(oldData)), "image/png"); err != nil {
		t.Fatal(err)
	}
	obj := seedObject(t, repo, "/img", "Image", domain.ImageField{Name: "image", ContentType: "image/png", BlobKey: oldKey, Size: int64(len(oldData))})
	field := obj.Field("image")

	data, err := repo.ReadField(ctx, field)
	if err != nil || string(data) != string(oldData) {
		t.Fatalf("ReadField = %q, %v", data, err)
	}

	newData := []byte("new webp bytes")
	err = repo.CommitBatch(ctx, []domain.Mutation{{
		ObjectID: obj.ID, FieldID: field.ID, Data: newData, ContentType: domain.TargetContentType, Filename: "a.webp",
	}})
	if err != nil {
		t.Fatalf("CommitBatch: %v", err)
	}

	var got domain.ImageField
	repo.DB().First(&got, field.ID)
	if got.BlobKey != storage.BlobKey(newData, "webp") || len(got.Data) != 0 {
		t.Errorf("field after commit = %+v", got)
	}
	var superseded int64
	repo.DB().Model(&domain.SupersededBlob{}).Count(&superseded)
	if superseded != 1 {
		t.Fatalf("superseded rows = %d, want 1", superseded)
	}

	stats, err := repo.Compact(ctx)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if stats.BlobsDeleted != 1 || !stats.Vacuumed {
		t.Errorf("stats = %+v", stats)
	}
	if ok, _ := blobs.Exists(ctx, oldKey); ok {
		t.Error("old blob still present after compaction")
	}
	if ok, _ := blobs.Exists(ctx, got.BlobKey); !ok {
		t.Error("new blob missing after compaction")
	}
	repo.DB().Model(&domain.SupersededBlob{}).Count(&superseded)
	if superseded != 0 {
		t.Errorf("superseded rows after compaction = %d", superseded)
	}
}

func TestSiteExists(t *testing.T) {
	repo := newTestRepo(t, nil)
	ok, err := repo.SiteExists(context.Background(), "Plone")
	if err != nil || !ok {
		t.Errorf("SiteExists(Plone) = %v, %v", ok, err)
	}
	ok, err = repo.SiteExists(context.Background(), "Other")
	if err != nil || ok {
		t.Errorf("SiteExists(Other) = %v, %v", ok, err)
	}
}
