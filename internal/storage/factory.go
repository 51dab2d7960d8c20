package storage

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// Config selects and configures a blob store.
type Config struct {
	Type      StorageType
	Root      string // filesystem root
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
}

// NewStorage creates an ObjectStorage instance based on the configuration.
// Inline storage returns a nil store: field bytes then live in the database row.
// Parameters:
//   - cfg: storage configuration.
// Returns:
//   - ObjectStorage: initialized storage, or nil for inline.
//   - error: non-nil if the storage client cannot be created.
func NewStorage(cfg *Config) (ObjectStorage, error) {
	switch cfg.Type {
	case "", StorageTypeInline:
		return nil, nil
	case StorageTypeFilesystem:
		return NewFilesystemStorage(afero.NewOsFs(), cfg.Root), nil
	case StorageTypeR2, StorageTypeS3, StorageTypeS3Compatible:
		return NewS3Storage(cfg)
	case StorageTypeAuto:
		cfg.Type = detectStorageType(cfg.Endpoint)
		return NewS3Storage(cfg)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// detectStorageType attempts to detect the storage type from the endpoint
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}

// BlobKey returns the content-addressed key for data, bucketed by MD5 prefix.
func BlobKey(data []byte, ext string) string {
	hash := md5.Sum(data)
	sum := hex.EncodeToString(hash[:])
	return path.Join(sum[:2], sum+"."+strings.TrimPrefix(ext, "."))
}
