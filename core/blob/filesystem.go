package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/webpods-org/webpods/core/logger"
)

// LocalFilesystem stores record content under a base directory on the
// local filesystem. Writes go to a temporary file first and are renamed
// into place, so readers of either path never observe partial content.
type LocalFilesystem struct {
	basePath  string
	publicURL string
}

// NewLocalFilesystem returns a new filesystem driver rooted at the
// configured base path.
func NewLocalFilesystem(config LocalConfiguration) (*LocalFilesystem, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("base path must not be empty")
	}
	if err := os.MkdirAll(config.BasePath, 0700); err != nil {
		return nil, fmt.Errorf("cannot create base path %s: %w", config.BasePath, err)
	}
	logger.Default().Debugln("blob storage: local filesystem enabled:", config.BasePath)
	return &LocalFilesystem{
		basePath:  config.BasePath,
		publicURL: strings.TrimSuffix(config.PublicURL, "/"),
	}, nil
}

func (f *LocalFilesystem) writeAtomic(key string, data []byte) error {
	target := filepath.Join(f.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return err
	}
	tmp := target + ".tmp." + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Store writes the by-hash and by-name objects.
func (f *LocalFilesystem) Store(ctx context.Context, pod, streamPath, recordName, contentHash string, data []byte, ext string) (string, error) {
	byHash := hashKey(pod, contentHash)
	byName := nameKey(pod, streamPath, recordName, ext)

	if err := f.writeAtomic(byHash, data); err != nil {
		return "", fmt.Errorf("cannot store %s: %w", byHash, err)
	}
	if err := f.writeAtomic(byName, data); err != nil {
		return "", fmt.Errorf("cannot store %s: %w", byName, err)
	}
	return byName, nil
}

// URL returns the public download URL for the by-name object.
func (f *LocalFilesystem) URL(storageID string) (string, error) {
	if f.publicURL == "" {
		return "", fmt.Errorf("no public URL configured")
	}
	return f.publicURL + "/" + storageID, nil
}

// Delete removes the by-name object and, when purge is set, also the
// permanent by-hash object.
func (f *LocalFilesystem) Delete(ctx context.Context, pod, streamPath, recordName, contentHash, ext string, purge bool) error {
	byName := filepath.Join(f.basePath, filepath.FromSlash(nameKey(pod, streamPath, recordName, ext)))
	if err := os.Remove(byName); err != nil && !os.IsNotExist(err) {
		return err
	}
	if purge {
		byHash := filepath.Join(f.basePath, filepath.FromSlash(hashKey(pod, contentHash)))
		if err := os.Remove(byHash); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Exists reports whether an object exists at the driver-relative key.
func (f *LocalFilesystem) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(filepath.Join(f.basePath, filepath.FromSlash(sanitizePath(key))))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
