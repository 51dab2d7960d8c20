package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/timmy/webpmigrate/internal/domain"
	"github.com/timmy/webpmigrate/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContentRepository reads image fields and applies converted replacements.
type ContentRepository struct {
	db    *gorm.DB
	blobs storage.ObjectStorage
}

// NewContentRepository creates a new ContentRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//   - blobs: blob store for field bytes; nil keeps bytes inline in the field row.
// Returns:
//   - *ContentRepository: repository instance bound to db.
func NewContentRepository(db *gorm.DB, blobs storage.ObjectStorage) *ContentRepository {
	return &ContentRepository{db: db, blobs: blobs}
}

// DB returns the underlying database handle.
func (r *ContentRepository) DB() *gorm.DB {
	return r.db
}

// CreateSite inserts a site row.
func (r *ContentRepository) CreateSite(ctx context.Context, site *domain.Site) error {
	return r.db.WithContext(ctx).Create(site).Error
}

// CreateObject inserts a content object together with its fields.
func (r *ContentRepository) CreateObject(ctx context.Context, obj *domain.ContentObject) error {
	return r.db.WithContext(ctx).Create(obj).Error
}

// SiteExists checks whether a site row with the given ID exists.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - siteID: site identifier.
// Returns:
//   - bool: true if the site exists.
//   - error: non-nil if the lookup fails.
func (r *ContentRepository) SiteExists(ctx context.Context, siteID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Site{}).Where("id = ?", siteID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountImageFields counts the fields a run will examine.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - q: site, content types and field names to match.
// Returns:
//   - int: number of matching fields.
//   - error: non-nil if the query fails.
func (r *ContentRepository) CountImageFields(ctx context.Context, q domain.FieldQuery) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.ImageField{}).
		Joins("JOIN content_objects ON content_objects.id = image_fields.object_id").
		Where("content_objects.site_id = ?", q.SiteID).
		Where("content_objects.portal_type IN ?", q.ContentTypes).
		Where("image_fields.name IN ?", q.FieldNames).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// EachObject walks matching objects in ID order, one page of batch objects at
// a time. Fields are loaded without their bytes; use ReadField for those.
// Iteration stops at the first error returned by fn or by the context.
func (r *ContentRepository) EachObject(ctx context.Context, q domain.FieldQuery, batch int, fn func(*domain.ContentObject) error) error {
	if batch <= 0 {
		batch = 100
	}
	var lastID uint
	for {
		var objects []domain.ContentObject
		err := r.db.WithContext(ctx).
			Preload("Fields", func(db *gorm.DB) *gorm.DB {
				return db.Omit("data").Where("name IN ?", q.FieldNames).Order("id")
			}).
			Where("site_id = ? AND portal_type IN ? AND id > ?", q.SiteID, q.ContentTypes, lastID).
			Where("EXISTS (SELECT 1 FROM image_fields f WHERE f.object_id = content_objects.id AND f.name IN ?)", q.FieldNames).
			Order("id").
			Limit(batch).
			Find(&objects).Error
		if err != nil {
			return fmt.Errorf("enumerate objects after id %d: %w", lastID, err)
		}

		for i := range objects {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(&objects[i]); err != nil {
				return err
			}
		}
		if len(objects) < batch {
			return nil
		}
		lastID = objects[len(objects)-1].ID
	}
}

// ReadField returns the stored bytes of a field, from the blob store when the
// field references one and from the row otherwise.
func (r *ContentRepository) ReadField(ctx context.Context, field *domain.ImageField) ([]byte, error) {
	if field.BlobKey != "" {
		if r.blobs == nil {
			return nil, fmt.Errorf("field %d references blob %q but no blob store is configured", field.ID, field.BlobKey)
		}
		rc, err := r.blobs.Download(ctx, field.BlobKey)
		if err != nil {
			return nil, fmt.Errorf("download blob %s: %w", field.BlobKey, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}

	var row domain.ImageField
	if err := r.db.WithContext(ctx).Select("id", "data").Where("id = ?", field.ID).Take(&row).Error; err != nil {
		return nil, err
	}
	return row.Data, nil
}

// CommitBatch applies mutations in one transaction: either every field is
// replaced and every touched object reindexed, or nothing is. New blobs are
// uploaded before the transaction opens; their keys are content-addressed, so
// a rolled back batch leaves only unreferenced copies behind.
func (r *ContentRepository) CommitBatch(ctx context.Context, mutations []domain.Mutation) error {
	if len(mutations) == 0 {
		return nil
	}

	keys := make([]string, len(mutations))
	if r.blobs != nil {
		for i, m := range mutations {
			ext := strings.TrimPrefix(m.ContentType, "image/")
			key := storage.BlobKey(m.Data, ext)
			if err := r.blobs.Upload(ctx, key, bytes.NewReader(m.Data), int64(len(m.Data)), m.ContentType); err != nil {
				return fmt.Errorf("upload %s: %w", key, err)
			}
			keys[i] = key
		}
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var touched []uint
		seen := make(map[uint]bool)
		now := time.Now()

		for i, m := range mutations {
			var current domain.ImageField
			if err := tx.Select("id", "blob_key").Where("id = ?", m.FieldID).Take(&current).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("field %d (%s on %s) no longer exists", m.FieldID, m.FieldName, m.Path)
				}
				return err
			}
			if current.BlobKey != "" && current.BlobKey != keys[i] {
				if err := tx.Create(&domain.SupersededBlob{Key: current.BlobKey}).Error; err != nil {
					return err
				}
			}

			updates := map[string]interface{}{
				"filename":     m.Filename,
				"content_type": m.ContentType,
				"size":         int64(len(m.Data)),
				"width":        m.Width,
				"height":       m.Height,
				"blob_key":     keys[i],
				"updated_at":   now,
			}
			if keys[i] != "" {
				updates["data"] = nil
			} else {
				updates["data"] = m.Data
			}
			res := tx.Model(&domain.ImageField{}).Where("id = ?", m.FieldID).Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("field %d was not updated", m.FieldID)
			}

			if !seen[m.ObjectID] {
				seen[m.ObjectID] = true
				touched = append(touched, m.ObjectID)
			}
		}

		for _, id := range touched {
			if err := reindex(tx, id, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reindex refreshes the catalog entry of one object.
func (r *ContentRepository) Reindex(ctx context.Context, objectID uint) error {
	return reindex(r.db.WithContext(ctx), objectID, time.Now())
}

func reindex(tx *gorm.DB, objectID uint, at time.Time) error {
	var obj domain.ContentObject
	err := tx.Preload("Fields", func(db *gorm.DB) *gorm.DB {
		return db.Select("id", "object_id", "name", "content_type")
	}).Where("id = ?", objectID).Take(&obj).Error
	if err != nil {
		return fmt.Errorf("reindex object %d: %w", objectID, err)
	}

	types := make([]string, 0, len(obj.Fields))
	for _, f := range obj.Fields {
		if f.ContentType != "" {
			types = append(types, f.Name+"="+f.ContentType)
		}
	}
	sort.Strings(types)

	entry := domain.CatalogEntry{
		ObjectID:   obj.ID,
		SiteID:     obj.SiteID,
		Path:       obj.Path,
		PortalType: obj.PortalType,
		ImageTypes: strings.Join(types, ","),
		IndexedAt:  at,
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "object_id"}},
		UpdateAll: true,
	}).Create(&entry).Error
}

// Compact deletes superseded blobs that no field references any more and
// reclaims free pages in the database file.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - domain.CompactStats: blobs deleted and whether the vacuum ran.
//   - error: non-nil if a deletion or the vacuum fails.
func (r *ContentRepository) Compact(ctx context.Context) (domain.CompactStats, error) {
	start := time.Now()
	var stats domain.CompactStats
	db := r.db.WithContext(ctx)

	if r.blobs != nil {
		var superseded []domain.SupersededBlob
		if err := db.Order("id").Find(&superseded).Error; err != nil {
			return stats, err
		}
		for _, sb := range superseded {
			var refs int64
			if err := db.Model(&domain.ImageField{}).Where("blob_key = ?", sb.Key).Count(&refs).Error; err != nil {
				return stats, err
			}
			if refs == 0 {
				if err := r.blobs.Delete(ctx, sb.Key); err != nil {
					return stats, fmt.Errorf("delete blob %s: %w", sb.Key, err)
				}
				stats.BlobsDeleted++
			}
			if err := db.Delete(&domain.SupersededBlob{}, sb.ID).Error; err != nil {
				return stats, err
			}
		}
	}

	switch r.db.Dialector.Name() {
	case "sqlite":
		if err := db.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
			return stats, fmt.Errorf("checkpoint: %w", err)
		}
		if err := db.Exec("VACUUM").Error; err != nil {
			return stats, fmt.Errorf("vacuum: %w", err)
		}
		stats.Vacuumed = true
	case "postgres":
		if err := db.Exec("VACUUM").Error; err != nil {
			return stats, fmt.Errorf("vacuum: %w", err)
		}
		stats.Vacuumed = true
	}

	stats.Duration = time.Since(start)
	return stats, nil
}
