// Package backend implements the webpods data engine and request
// pipeline: pods, hash-chained record streams, path resolution,
// permission evaluation, link routing and the HTTP surface serving
// {pod}.host subdomains.
package backend

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"

	"github.com/webpods-org/webpods/core/blob"
	"github.com/webpods-org/webpods/core/cache"
	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/logger"
	"github.com/webpods-org/webpods/core/ratelimit"
	"github.com/webpods-org/webpods/core/schema"
)

// Backend is the webpods data engine.
type Backend struct {
	config    backendConfiguration
	db        *csql.DB
	router    *mux.Router
	cache     cache.Cache
	limiter   ratelimit.Limiter
	storage   blob.Driver
	validator *schema.Validator
	notifier  Notifier
}

// backendConfiguration is the JSON service configuration of the engine.
type backendConfiguration struct {
	// Host is the main host; pods are served as {pod}.Host subdomains.
	Host string `json:"host"`
	// AllowedHeaders are the custom request headers persisted with a
	// record and echoed on read.
	AllowedHeaders []string `json:"allowed_headers"`
	// DefaultListLimit is the list page size when the request does not
	// pass one. Zero means 100.
	DefaultListLimit int `json:"default_list_limit"`
	// MaxListLimit caps the requested list page size. Zero means 1000.
	MaxListLimit int `json:"max_list_limit"`
	// MaxRecordSize caps the accepted record content size in bytes.
	// Zero means 10 MiB.
	MaxRecordSize int64 `json:"max_record_size"`
}

func (c backendConfiguration) defaultListLimit() int {
	if c.DefaultListLimit <= 0 {
		return 100
	}
	return c.DefaultListLimit
}

func (c backendConfiguration) maxListLimit() int {
	if c.MaxListLimit <= 0 {
		return 1000
	}
	return c.MaxListLimit
}

func (c backendConfiguration) maxRecordSize() int64 {
	if c.MaxRecordSize <= 0 {
		return 10 * 1024 * 1024
	}
	return c.MaxRecordSize
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON service configuration. This is mandatory.
	Config string
	// DB is a postgres database. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Cache guards the database. This is mandatory; tests pass an
	// in-memory cache.
	Cache cache.Cache
	// Limiter is the rate limiter. This is mandatory.
	Limiter ratelimit.Limiter
	// Storage is the external blob storage driver. Optional; without it,
	// all content is embedded in the database.
	Storage blob.Driver
	// Notifier receives append/delete events. Optional.
	Notifier Notifier
}

// New realizes the actual backend. It creates the sql relations (if they
// do not exist) and adds the pod and management routes to the router.
func New(bb *Builder) *Backend {
	var config backendConfiguration
	err := json.Unmarshal([]byte(bb.Config), &config)
	if err != nil {
		panic(fmt.Errorf("parse error in backend configuration: %s", err))
	}
	if config.Host == "" {
		panic("host is missing in backend configuration")
	}
	if bb.DB == nil {
		panic("DB is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}
	if bb.Cache == nil {
		panic("Cache is missing")
	}
	if bb.Limiter == nil {
		panic("Limiter is missing")
	}

	b := &Backend{
		config:    config,
		db:        bb.DB,
		router:    bb.Router,
		cache:     bb.Cache,
		limiter:   bb.Limiter,
		storage:   bb.Storage,
		validator: schema.New(),
		notifier:  bb.Notifier,
	}
	b.createRelations()
	b.handleRoutes(bb.Router)
	return b
}

// Shutdown releases the cache, the rate limiter and the notifier.
func (b *Backend) Shutdown() {
	b.cache.Shutdown()
	b.limiter.Shutdown()
	if b.notifier != nil {
		b.notifier.Close()
	}
}

func (b *Backend) createRelations() {
	schema := b.db.Schema
	createQuery := fmt.Sprintf(`CREATE table IF NOT EXISTS %[1]s.pod (
name varchar NOT NULL PRIMARY KEY,
owner_user_id varchar NOT NULL DEFAULT '',
metadata json NOT NULL DEFAULT '{}',
created_at bigint NOT NULL,
updated_at bigint NOT NULL
);
CREATE table IF NOT EXISTS %[1]s.stream (
id bigserial PRIMARY KEY,
pod_name varchar NOT NULL REFERENCES %[1]s.pod (name) ON DELETE CASCADE,
name varchar NOT NULL,
path varchar NOT NULL,
parent_id bigint REFERENCES %[1]s.stream (id) ON DELETE CASCADE,
user_id varchar NOT NULL,
access_permission varchar NOT NULL DEFAULT '',
metadata json NOT NULL DEFAULT '{}',
has_schema boolean NOT NULL DEFAULT false,
created_at bigint NOT NULL,
updated_at bigint NOT NULL,
UNIQUE (pod_name, path)
);
CREATE index IF NOT EXISTS stream_parent_index ON %[1]s.stream (pod_name, parent_id);
CREATE table IF NOT EXISTS %[1]s.record (
id bigserial PRIMARY KEY,
stream_id bigint NOT NULL REFERENCES %[1]s.stream (id) ON DELETE CASCADE,
idx integer NOT NULL,
content text NOT NULL DEFAULT '',
content_type varchar NOT NULL DEFAULT 'text/plain',
is_binary boolean NOT NULL DEFAULT false,
size bigint NOT NULL DEFAULT 0,
name varchar NOT NULL,
path varchar NOT NULL,
content_hash varchar NOT NULL,
hash varchar NOT NULL,
previous_hash varchar,
user_id varchar NOT NULL,
storage varchar,
headers json NOT NULL DEFAULT '{}',
deleted boolean NOT NULL DEFAULT false,
purged boolean NOT NULL DEFAULT false,
created_at bigint NOT NULL,
UNIQUE (stream_id, idx)
);
CREATE index IF NOT EXISTS record_name_index ON %[1]s.record (stream_id, name);
CREATE index IF NOT EXISTS record_created_index ON %[1]s.record (created_at);
`, schema)

	_, err := b.db.Exec(createQuery)
	if err != nil {
		logger.Default().WithError(err).Errorf("error while creating relations: %s", createQuery)
		panic(fmt.Sprintf("cannot create relations: %v", err))
	}
}

// recordColumns is the column list of the record relation, in scan order.
const recordColumns = "id, stream_id, idx, content, content_type, is_binary, size, name, path, content_hash, hash, previous_hash, user_id, storage, headers, deleted, purged, created_at"

// streamColumns is the column list of the stream relation, in scan order.
const streamColumns = "id, pod_name, name, path, parent_id, user_id, access_permission, metadata, has_schema, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var headers json.RawMessage
	err := row.Scan(&record.ID, &record.StreamID, &record.Index, &record.Content,
		&record.ContentType, &record.IsBinary, &record.Size, &record.Name, &record.Path,
		&record.ContentHash, &record.Hash, &record.PreviousHash, &record.UserID,
		&record.Storage, &headers, &record.Deleted, &record.Purged, &record.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		json.Unmarshal(headers, &record.Headers)
	}
	return &record, nil
}

func scanStream(row rowScanner) (*Stream, error) {
	var stream Stream
	err := row.Scan(&stream.ID, &stream.Pod, &stream.Name, &stream.Path, &stream.ParentID,
		&stream.UserID, &stream.AccessPermission, &stream.Metadata, &stream.HasSchema,
		&stream.CreatedAt, &stream.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &stream, nil
}
