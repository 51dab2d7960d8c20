package domain

import (
	"strings"
	"time"
)

// Site is the root a set of content objects belongs to.
type Site struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	Title     string    `gorm:"type:text" json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Site.
func (Site) TableName() string {
	return "sites"
}

// ContentObject is a content item of some portal type that may carry image fields.
type ContentObject struct {
	ID         uint         `gorm:"primaryKey" json:"id"`
	SiteID     string       `gorm:"type:text;not null;index:idx_objects_site_type" json:"site_id"`
	PortalType string       `gorm:"type:text;not null;index:idx_objects_site_type" json:"portal_type"`
	Path       string       `gorm:"type:text;not null;uniqueIndex" json:"path"`
	Title      string       `gorm:"type:text" json:"title"`
	Fields     []ImageField `gorm:"foreignKey:ObjectID" json:"fields,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// TableName returns the database table name for ContentObject.
func (ContentObject) TableName() string {
	return "content_objects"
}

// Field returns the named image field, or nil if the object has none.
func (o *ContentObject) Field(name string) *ImageField {
	for i := range o.Fields {
		if o.Fields[i].Name == name {
			return &o.Fields[i]
		}
	}
	return nil
}

// ImageField is a named media field on a content object.
// Bytes are stored inline in Data or in a blob store under BlobKey.
type ImageField struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ObjectID    uint      `gorm:"not null;uniqueIndex:idx_fields_object_name" json:"object_id"`
	Name        string    `gorm:"type:text;not null;uniqueIndex:idx_fields_object_name" json:"name"`
	Filename    string    `gorm:"type:text" json:"filename"`
	ContentType string    `gorm:"type:text" json:"content_type"`
	Size        int64     `json:"size"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Data        []byte    `json:"-"`
	BlobKey     string    `gorm:"type:text" json:"blob_key,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for ImageField.
func (ImageField) TableName() string {
	return "image_fields"
}

// IsTarget reports whether the declared content type is already the target encoding.
func (f *ImageField) IsTarget() bool {
	return IsTargetContentType(f.ContentType)
}

// IsTargetContentType compares a declared content type with the target encoding,
// ignoring case and parameters.
func IsTargetContentType(contentType string) bool {
	ct := contentType
	if idx := strings.Index(ct, ";"); idx != -1 {
		ct = ct[:idx]
	}
	return strings.EqualFold(strings.TrimSpace(ct), TargetContentType)
}

// CatalogEntry is the search index row refreshed when an object is reindexed.
type CatalogEntry struct {
	ObjectID   uint      `gorm:"primaryKey;autoIncrement:false" json:"object_id"`
	SiteID     string    `gorm:"type:text;index" json:"site_id"`
	Path       string    `gorm:"type:text" json:"path"`
	PortalType string    `gorm:"type:text" json:"portal_type"`
	ImageTypes string    `gorm:"type:text" json:"image_types"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// TableName returns the database table name for CatalogEntry.
func (CatalogEntry) TableName() string {
	return "catalog_entries"
}

// SupersededBlob records a blob key replaced by a committed write, reclaimed at compaction.
type SupersededBlob struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"type:text;not null" json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for SupersededBlob.
func (SupersededBlob) TableName() string {
	return "superseded_blobs"
}

// FieldQuery selects the image fields a run examines.
type FieldQuery struct {
	SiteID       string
	ContentTypes []string
	FieldNames   []string
}

// Mutation is one staged field replacement plus the reindex of its object.
type Mutation struct {
	ObjectID    uint
	FieldID     uint
	FieldName   string
	Path        string
	Data        []byte
	Filename    string
	ContentType string
	Width       int
	Height      int
}

// CompactStats describes what a compaction reclaimed.
type CompactStats struct {
	BlobsDeleted int
	Vacuumed     bool
	Duration     time.Duration
}
