// Package blob provides external storage for large or binary record
// content, outside of the webpods database. Content is stored twice: a
// permanent by-hash object under .storage/<hash> and an overwritable
// by-name object under <stream path>/<record name>.<ext>. There are two
// backends: a local filesystem and AWS S3.
package blob

import (
	"context"
	"regexp"
	"strings"
	"time"
)

// Driver defines the interface for external record storage.
type Driver interface {
	// Store writes both the by-hash and the by-name object and returns
	// the storage identifier recorded in the record row.
	Store(ctx context.Context, pod, streamPath, recordName, contentHash string, data []byte, ext string) (storageID string, err error)
	// URL returns a URL clients can GET for the by-name content.
	URL(storageID string) (string, error)
	// Delete removes the by-name object. The by-hash object is removed
	// only when purge is set.
	Delete(ctx context.Context, pod, streamPath, recordName, contentHash, ext string, purge bool) error
	// Exists reports whether an object exists at the driver-relative key.
	Exists(ctx context.Context, key string) (bool, error)
}

// DriverType represents the different types of storage drivers.
type DriverType string

// DriverTypeLocal is the local filesystem implementation.
const DriverTypeLocal DriverType = "local"

// DriverTypeAWSS3 is the AWS S3 implementation.
const DriverTypeAWSS3 DriverType = "s3"

// None is used when external storage is not configured.
const None DriverType = ""

// Configuration selects and configures the storage driver.
type Configuration struct {
	DriverType DriverType          `json:"driver"`
	Local      *LocalConfiguration `json:"local,omitempty"`
	S3         *S3Configuration    `json:"s3,omitempty"`
}

// LocalConfiguration configures the local filesystem driver.
type LocalConfiguration struct {
	BasePath string `json:"base_path"`
	// PublicURL is the external base URL under which the base path is
	// served, used to form download URLs.
	PublicURL string `json:"public_url"`
}

// S3Configuration configures the AWS S3 driver.
type S3Configuration struct {
	AWSRegion                string `json:"region"`
	AWSBucketName            string `json:"bucket"`
	AccessID                 string `json:"access_id"`
	AccessKey                string `json:"access_key"`
	KeyPrefix                string `json:"key_prefix"`
	PresignedValiditySeconds int    `json:"presigned_validity_seconds"`
}

func (c S3Configuration) presignedValidity() time.Duration {
	if c.PresignedValiditySeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.PresignedValiditySeconds) * time.Second
}

var (
	unsafeComponentChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	extensionChars       = regexp.MustCompile(`[^A-Za-z0-9]`)
)

// sanitizeComponent strips path traversal and unsafe characters from a
// single path component. "." and ".." collapse to the empty string.
func sanitizeComponent(component string) string {
	component = unsafeComponentChars.ReplaceAllString(component, "")
	component = strings.Trim(component, ".")
	return component
}

// sanitizePath sanitizes every segment of a slash-separated path and
// drops segments that sanitize away entirely.
func sanitizePath(path string) string {
	var clean []string
	for _, segment := range strings.Split(path, "/") {
		if s := sanitizeComponent(segment); s != "" {
			clean = append(clean, s)
		}
	}
	return strings.Join(clean, "/")
}

// sanitizeExtension restricts an extension to [A-Za-z0-9].
func sanitizeExtension(ext string) string {
	return extensionChars.ReplaceAllString(ext, "")
}

// hashKey returns the by-hash key for a pod's content hash.
func hashKey(pod, contentHash string) string {
	return sanitizeComponent(pod) + "/.storage/" + sanitizeComponent(contentHash)
}

// nameKey returns the by-name key for a record.
func nameKey(pod, streamPath, recordName, ext string) string {
	key := sanitizeComponent(pod) + "/" + sanitizePath(streamPath) + "/" + sanitizeComponent(recordName)
	if ext = sanitizeExtension(ext); ext != "" {
		key += "." + ext
	}
	return key
}
