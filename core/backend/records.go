package backend

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/webpods-org/webpods/core"
	"github.com/webpods-org/webpods/core/cache"
	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/logger"
	"github.com/webpods-org/webpods/core/schema"
)

// AppendRequest describes one record append.
type AppendRequest struct {
	Stream      *Stream
	Name        string
	Content     []byte
	ContentType string
	// External forces the content into the external storage driver.
	External bool
	// Headers are allow-listed custom headers persisted with the record.
	Headers map[string]string
	UserID  string

	// skipValidation bypasses schema validation for internally generated
	// records such as tombstones.
	skipValidation bool
}

// isTextual reports whether the content type stores as text in the
// database row. Everything else is binary and gets base64 encoded for
// in-row storage.
func isTextual(contentType string) bool {
	if strings.HasPrefix(contentType, "text/") {
		return true
	}
	return strings.Contains(contentType, "json") || strings.Contains(contentType, "xml") ||
		strings.Contains(contentType, "javascript") || strings.Contains(contentType, "x-www-form-urlencoded")
}

// normalizeContent converts raw request content into its stored form.
// JSON values serialize canonically, binary buffers encode base64 for
// in-row storage. The returned size is the byte size of the original
// content.
func normalizeContent(content []byte, contentType string) (stored string, isBinary bool, size int64, err error) {
	size = int64(len(content))
	if strings.Contains(contentType, "json") {
		var value interface{}
		if err := json.Unmarshal(content, &value); err != nil {
			return "", false, 0, core.NewError(core.KindInvalidInput, "content is not valid JSON").WithCause(err)
		}
		canonical, err := json.Marshal(value)
		if err != nil {
			return "", false, 0, core.NewError(core.KindInvalidInput, "cannot serialize JSON content").WithCause(err)
		}
		return string(canonical), false, size, nil
	}
	if isTextual(contentType) {
		return string(content), false, size, nil
	}
	return base64.StdEncoding.EncodeToString(content), true, size, nil
}

// Append appends a record to the stream. Appends to the same stream
// serialize on a row lock of the stream itself, which keeps the index
// dense and the hash chain unbroken under concurrency. Locking the
// latest record would not do: an empty stream has no row to lock, and
// under read committed a waiter re-reads the locked row instead of
// seeing the competitor's insert.
func (b *Backend) Append(ctx context.Context, request AppendRequest) (*Record, error) {
	stream := request.Stream
	if !core.ValidRecordName(request.Name) {
		return nil, core.NewError(core.KindInvalidInput, "invalid record name "+request.Name)
	}
	if request.ContentType == "" {
		request.ContentType = "text/plain"
	}

	stored, isBinary, size, err := normalizeContent(request.Content, request.ContentType)
	if err != nil {
		return nil, err
	}
	if !request.skipValidation {
		if err := b.validateAgainstStreamSchema(ctx, stream, request.Content, request.ContentType); err != nil {
			return nil, err
		}
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "cannot begin transaction").WithCause(err)
	}
	defer tx.Rollback()

	// serialize concurrent appenders on the stream row
	var lockedID int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id FROM %s.stream WHERE id = $1 FOR UPDATE;", b.db.Schema),
		stream.ID).Scan(&lockedID)
	if err == csql.ErrNoRows {
		return nil, core.NewError(core.KindStreamNotFound, "stream "+stream.Path+" no longer exists")
	}
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "cannot lock stream").WithCause(err)
	}

	// a record and a stream of the same name cannot coexist as siblings
	var childID int64
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id FROM %s.stream WHERE pod_name = $1 AND parent_id = $2 AND name = $3;", b.db.Schema),
		stream.Pod, stream.ID, request.Name).Scan(&childID)
	if err == nil {
		return nil, core.NewError(core.KindNameConflict, "a stream named "+request.Name+" already exists")
	}
	if err != csql.ErrNoRows {
		return nil, core.NewError(core.KindDatabaseError, "cannot check sibling streams").WithCause(err)
	}

	var index int
	var previousHash *string
	var latestIndex int
	var latestHash string
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT idx, hash FROM %s.record WHERE stream_id = $1 ORDER BY idx DESC LIMIT 1;", b.db.Schema),
		stream.ID).Scan(&latestIndex, &latestHash)
	switch err {
	case nil:
		index = latestIndex + 1
		previousHash = &latestHash
	case csql.ErrNoRows:
		index = 0
	default:
		return nil, core.NewError(core.KindDatabaseError, "cannot read latest record").WithCause(err)
	}

	createdAt := time.Now().UnixMilli()
	storedBytes := []byte(stored)
	hashOfContent := contentHash(storedBytes)

	var storageID *string
	if b.storage != nil && (request.External || isBinary) {
		// external content keeps its raw bytes out of the database
		ext := extensionForContentType(request.ContentType)
		id, err := b.storage.Store(ctx, stream.Pod, stream.Path, request.Name, hashOfContent, request.Content, ext)
		if err != nil {
			return nil, core.NewError(core.KindStorageError, "cannot store external content").WithCause(err)
		}
		storageID = &id
		stored = ""
	}

	hash := recordHash(previousHash, hashOfContent, request.UserID, createdAt)

	headers := request.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, _ := json.Marshal(headers)

	record := &Record{
		StreamID:     stream.ID,
		Index:        index,
		Content:      stored,
		ContentType:  request.ContentType,
		IsBinary:     isBinary,
		Size:         size,
		Name:         request.Name,
		Path:         stream.Path + "/" + request.Name,
		ContentHash:  hashOfContent,
		Hash:         hash,
		PreviousHash: previousHash,
		UserID:       request.UserID,
		Storage:      storageID,
		Headers:      headers,
		CreatedAt:    createdAt,
	}

	insertQuery := fmt.Sprintf(`INSERT INTO %s.record
(stream_id, idx, content, content_type, is_binary, size, name, path, content_hash, hash, previous_hash, user_id, storage, headers, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15) RETURNING id;`, b.db.Schema)
	err = tx.QueryRowContext(ctx, insertQuery,
		record.StreamID, record.Index, record.Content, record.ContentType, record.IsBinary,
		record.Size, record.Name, record.Path, record.ContentHash, record.Hash,
		record.PreviousHash, record.UserID, record.Storage, headersJSON, record.CreatedAt).
		Scan(&record.ID)
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "cannot insert record").WithCause(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, core.NewError(core.KindDatabaseError, "cannot commit append").WithCause(err)
	}

	b.invalidateRecordCaches(ctx, stream, request.Name)
	b.applySystemSideEffects(ctx, stream, record)
	b.notify(ctx, Event{Pod: stream.Pod, Path: record.Path, Action: EventAppend, Index: record.Index})
	return record, nil
}

// applySystemSideEffects maintains derived state after writes to system
// streams: the denormalized pod owner, the routing cache and the schema
// flag of the governed stream.
func (b *Backend) applySystemSideEffects(ctx context.Context, stream *Stream, record *Record) {
	switch {
	case stream.Path == ownerStreamPath && record.Name == "owner":
		b.syncPodOwner(ctx, stream.Pod)

	case stream.Path == routingStreamPath && record.Name == "routes":
		b.cache.Delete(ctx, cache.PoolSingleRecords, routingCacheKey(stream.Pod))

	case stream.Name == core.SystemStreamPrefix && record.Name == "schema" && stream.ParentID != nil:
		var definition schema.Definition
		if err := json.Unmarshal([]byte(record.Content), &definition); err != nil {
			logger.FromContext(ctx).WithError(err).Errorln("malformed schema record in", stream.Pod, stream.Path)
			return
		}
		parent, err := b.parentStream(ctx, stream)
		if err != nil || parent == nil {
			return
		}
		if err := b.setHasSchema(ctx, parent, definition.Enabled()); err != nil {
			logger.FromContext(ctx).WithError(err).Errorln("cannot update schema flag of", parent.Path)
		}
		b.validator.Invalidate(stream.Pod, parent.Path)
	}
}

func recordCacheKey(pod, streamPath, name string) string {
	return pod + ":" + streamPath + ":" + name
}

func listCachePrefix(pod string, streamID int64) string {
	return fmt.Sprintf("%s:%d:", pod, streamID)
}

// invalidateRecordCaches drops the record's cache entry and the stream's
// cached list results.
func (b *Backend) invalidateRecordCaches(ctx context.Context, stream *Stream, name string) {
	b.cache.Delete(ctx, cache.PoolSingleRecords, recordCacheKey(stream.Pod, stream.Path, name))
	b.cache.Clear(ctx, cache.PoolRecordLists, listCachePrefix(stream.Pod, stream.ID)+"*")
}

// latestVisibleRecordByName returns the newest record with the given name
// that is neither deleted nor purged.
func (b *Backend) latestVisibleRecordByName(ctx context.Context, streamID int64, name string) (*Record, error) {
	query := fmt.Sprintf("SELECT %s FROM %s.record WHERE stream_id = $1 AND name = $2 AND NOT deleted AND NOT purged ORDER BY idx DESC LIMIT 1;",
		recordColumns, b.db.Schema)
	record, err := scanRecord(b.db.QueryRowContext(ctx, query, streamID, name))
	if err == csql.ErrNoRows {
		return nil, core.NewError(core.KindRecordNotFound, "record "+name+" not found")
	}
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "cannot read record").WithCause(err)
	}
	return record, nil
}

// GetRecord returns the latest visible record with the given name,
// consulting the record cache.
func (b *Backend) GetRecord(ctx context.Context, stream *Stream, name string) (*Record, error) {
	cacheKey := recordCacheKey(stream.Pod, stream.Path, name)
	if data, ok := b.cache.Get(ctx, cache.PoolSingleRecords, cacheKey); ok {
		var record Record
		if err := json.Unmarshal(data, &record); err == nil {
			return &record, nil
		}
	}

	record, err := b.latestVisibleRecordByName(ctx, stream.ID, name)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(record); err == nil {
		b.cache.Set(ctx, cache.PoolSingleRecords, cacheKey, data)
	}
	return record, nil
}

// countRecords returns the number of records in the stream.
func (b *Backend) countRecords(ctx context.Context, streamID int64) (int, error) {
	var count int
	err := b.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT count(*) FROM %s.record WHERE stream_id = $1;", b.db.Schema), streamID).
		Scan(&count)
	if err != nil {
		return 0, core.NewError(core.KindDatabaseError, "cannot count records").WithCause(err)
	}
	return count, nil
}

// GetRecordByIndex returns the record at index k. Negative indices count
// from the end, -1 being the last record.
func (b *Backend) GetRecordByIndex(ctx context.Context, stream *Stream, k int) (*Record, error) {
	if k < 0 {
		count, err := b.countRecords(ctx, stream.ID)
		if err != nil {
			return nil, err
		}
		k = count + k
	}
	if k < 0 {
		return nil, core.NewError(core.KindRecordNotFound, "record index out of range")
	}

	query := fmt.Sprintf("SELECT %s FROM %s.record WHERE stream_id = $1 AND idx = $2;", recordColumns, b.db.Schema)
	record, err := scanRecord(b.db.QueryRowContext(ctx, query, stream.ID, k))
	if err == csql.ErrNoRows {
		return nil, core.NewError(core.KindRecordNotFound, fmt.Sprintf("no record at index %d", k))
	}
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "cannot read record").WithCause(err)
	}
	return record, nil
}

// GetRecordRange returns the records with from <= index < to. Negative
// bounds are resolved against the record count first. An empty range
// yields an empty slice.
func (b *Backend) GetRecordRange(ctx context.Context, stream *Stream, from, to int) ([]*Record, error) {
	if from < 0 || to < 0 {
		count, err := b.countRecords(ctx, stream.ID)
		if err != nil {
			return nil, err
		}
		if from < 0 {
			from = count + from
		}
		if to < 0 {
			to = count + to
		}
	}
	if to <= from {
		return []*Record{}, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s.record WHERE stream_id = $1 AND idx >= $2 AND idx < $3 ORDER BY idx ASC;",
		recordColumns, b.db.Schema)
	rows, err := b.db.QueryContext(ctx, query, stream.ID, from, to)
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "cannot read record range").WithCause(err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows *sql.Rows) ([]*Record, error) {
	records := []*Record{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, core.NewError(core.KindDatabaseError, "cannot scan record").WithCause(err)
		}
		records = append(records, record)
	}
	return records, nil
}

// ListOptions parameterizes list queries.
type ListOptions struct {
	// Limit is the page size; zero means the configured default.
	Limit int
	// After filters to records with index greater than After. Negative
	// values address from the end: -|A| returns the last |A| records.
	// Nil means no lower bound.
	After *int
	// Unique collapses duplicate names, keeping the highest index.
	Unique bool
	// Fields projects the response to the named record fields.
	Fields []string
	// Truncate caps the content length of each returned record.
	Truncate int
}

func (b *Backend) normalizeListOptions(opts *ListOptions) {
	if opts.Limit <= 0 {
		opts.Limit = b.config.defaultListLimit()
	}
	if opts.Limit > b.config.maxListLimit() {
		opts.Limit = b.config.maxListLimit()
	}
}

// ListRecords returns a page of the stream's records in ascending index
// order.
func (b *Backend) ListRecords(ctx context.Context, stream *Stream, opts ListOptions) (*ListResult, error) {
	b.normalizeListOptions(&opts)

	total, err := b.countRecords(ctx, stream.ID)
	if err != nil {
		return nil, err
	}
	after := -1
	if opts.After != nil {
		after = *opts.After
		if after < 0 {
			after = total + after - 1
		}
	}

	cacheKey := fmt.Sprintf("%slist:%d:%d:%t", listCachePrefix(stream.Pod, stream.ID), opts.Limit, after, opts.Unique)
	if !opts.Unique {
		if result, ok := b.cachedListResult(ctx, cacheKey); ok {
			return projectListResult(result, opts), nil
		}
	}

	var records []*Record
	if opts.Unique {
		// fetch everything past the bound and collapse duplicate names
		query := fmt.Sprintf("SELECT %s FROM %s.record WHERE stream_id = $1 AND idx > $2 ORDER BY idx ASC;",
			recordColumns, b.db.Schema)
		rows, err := b.db.QueryContext(ctx, query, stream.ID, after)
		if err != nil {
			return nil, core.NewError(core.KindDatabaseError, "cannot list records").WithCause(err)
		}
		defer rows.Close()
		if records, err = collectRecords(rows); err != nil {
			return nil, err
		}
		records = collapseUnique(records)
		if len(records) > opts.Limit {
			records = records[:opts.Limit+1]
		}
	} else {
		query := fmt.Sprintf("SELECT %s FROM %s.record WHERE stream_id = $1 AND idx > $2 ORDER BY idx ASC LIMIT $3;",
			recordColumns, b.db.Schema)
		rows, err := b.db.QueryContext(ctx, query, stream.ID, after, opts.Limit+1)
		if err != nil {
			return nil, core.NewError(core.KindDatabaseError, "cannot list records").WithCause(err)
		}
		defer rows.Close()
		if records, err = collectRecords(rows); err != nil {
			return nil, err
		}
	}

	hasMore := len(records) > opts.Limit
	if hasMore {
		records = records[:opts.Limit]
	}
	result := &ListResult{Records: recordsToObjects(records), Total: total, HasMore: hasMore}
	if !opts.Unique {
		b.cacheListResult(ctx, cacheKey, result)
	}
	return projectListResult(result, opts), nil
}

// collapseUnique keeps, for every name, only the highest-index record,
// drops deleted names and restores index order.
func collapseUnique(records []*Record) []*Record {
	latest := map[string]*Record{}
	for _, record := range records {
		latest[record.Name] = record // ascending scan, last one wins
	}
	unique := records[:0]
	for _, record := range records {
		if latest[record.Name] != record {
			continue
		}
		if record.Deleted || record.Purged {
			continue
		}
		unique = append(unique, record)
	}
	return unique
}

// ListRecordsRecursive returns records of the stream and all its
// descendants the user may read, merged in created_at order. Streams the
// user cannot read are silently omitted. Deleted and purged records are
// excluded. After is denominated in rows of the merged sequence.
func (b *Backend) ListRecordsRecursive(ctx context.Context, stream *Stream, userID string, opts ListOptions) (*ListResult, error) {
	b.normalizeListOptions(&opts)

	streams, err := b.descendantStreams(ctx, stream)
	if err != nil {
		return nil, err
	}
	readable := []int64{}
	for _, s := range streams {
		if s.ID == stream.ID || b.CheckPermission(ctx, s, userID, core.ActionRead) == nil {
			readable = append(readable, s.ID)
		}
	}
	if len(readable) == 0 {
		return &ListResult{Records: []map[string]interface{}{}}, nil
	}

	var total int
	err = b.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT count(*) FROM %s.record WHERE stream_id = ANY($1) AND NOT deleted AND NOT purged;", b.db.Schema),
		pq.Array(readable)).Scan(&total)
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "cannot count records").WithCause(err)
	}

	after := -1
	if opts.After != nil {
		after = *opts.After
		if after < 0 {
			after = total + after - 1
		}
	}
	if after < -1 {
		after = -1
	}

	query := fmt.Sprintf(`SELECT %s FROM %s.record WHERE stream_id = ANY($1) AND NOT deleted AND NOT purged
ORDER BY created_at ASC, id ASC OFFSET $2 LIMIT $3;`, recordColumns, b.db.Schema)
	rows, err := b.db.QueryContext(ctx, query, pq.Array(readable), after+1, opts.Limit+1)
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "cannot list records recursively").WithCause(err)
	}
	defer rows.Close()
	records, err := collectRecords(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(records) > opts.Limit
	if hasMore {
		records = records[:opts.Limit]
	}
	result := &ListResult{Records: recordsToObjects(records), Total: total, HasMore: hasMore}
	return projectListResult(result, opts), nil
}

// SoftDelete appends a tombstone for the record name and marks all
// records of that name deleted. The underlying rows and the hash chain
// remain intact.
func (b *Backend) SoftDelete(ctx context.Context, stream *Stream, name, userID string) error {
	original, err := b.latestVisibleRecordByName(ctx, stream.ID, name)
	if err != nil {
		return err
	}

	deletedAt := time.Now().UnixMilli()
	content, _ := json.Marshal(map[string]interface{}{
		"deleted":      true,
		"originalName": original.Name,
		"deletedAt":    timestampISO(deletedAt),
		"deletedBy":    userID,
	})
	tombstoneName := fmt.Sprintf("%s.deleted.%d", name, deletedAt)
	if _, err := b.Append(ctx, AppendRequest{
		Stream:         stream,
		Name:           tombstoneName,
		Content:        content,
		ContentType:    "application/json",
		UserID:         userID,
		skipValidation: true,
	}); err != nil {
		return err
	}

	query := fmt.Sprintf("UPDATE %s.record SET deleted = true WHERE stream_id = $1 AND name = $2 AND NOT deleted;", b.db.Schema)
	if _, err := b.db.ExecContext(ctx, query, stream.ID, name); err != nil {
		return core.NewError(core.KindDatabaseError, "cannot mark record deleted").WithCause(err)
	}

	if original.Storage != nil {
		ext := extensionForContentType(original.ContentType)
		if err := b.storage.Delete(ctx, stream.Pod, stream.Path, name, original.ContentHash, ext, false); err != nil {
			logger.FromContext(ctx).WithError(err).Errorln("cannot delete external content of", original.Path)
		}
	}

	b.invalidateRecordCaches(ctx, stream, name)
	b.notify(ctx, Event{Pod: stream.Pod, Path: original.Path, Action: EventDelete, Index: original.Index})
	return nil
}

// Purge permanently destroys the content of every record with the given
// name: content and external artifacts are removed, the chain hash is
// preserved so link verification still succeeds.
func (b *Backend) Purge(ctx context.Context, stream *Stream, name, userID string) error {
	query := fmt.Sprintf("SELECT %s FROM %s.record WHERE stream_id = $1 AND name = $2 AND NOT purged;", recordColumns, b.db.Schema)
	rows, err := b.db.QueryContext(ctx, query, stream.ID, name)
	if err != nil {
		return core.NewError(core.KindDatabaseError, "cannot read records for purge").WithCause(err)
	}
	defer rows.Close()
	records, err := collectRecords(rows)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return core.NewError(core.KindRecordNotFound, "record "+name+" not found")
	}

	update := fmt.Sprintf(`UPDATE %s.record SET content = '', content_hash = $3, deleted = true, purged = true, storage = NULL, size = 0
WHERE stream_id = $1 AND name = $2;`, b.db.Schema)
	if _, err := b.db.ExecContext(ctx, update, stream.ID, name, purgedContentHash); err != nil {
		return core.NewError(core.KindDatabaseError, "cannot purge records").WithCause(err)
	}

	for _, record := range records {
		if record.Storage == nil {
			continue
		}
		ext := extensionForContentType(record.ContentType)
		if err := b.storage.Delete(ctx, stream.Pod, stream.Path, name, record.ContentHash, ext, true); err != nil {
			logger.FromContext(ctx).WithError(err).Errorln("cannot purge external content of", record.Path)
		}
	}

	b.invalidateRecordCaches(ctx, stream, name)
	b.notify(ctx, Event{Pod: stream.Pod, Path: stream.Path + "/" + name, Action: EventPurge})
	return nil
}

// recordsToObjects converts records into response objects.
func recordsToObjects(records []*Record) []map[string]interface{} {
	objects := make([]map[string]interface{}, 0, len(records))
	for _, record := range records {
		data, _ := json.Marshal(record)
		var object map[string]interface{}
		json.Unmarshal(data, &object)
		objects = append(objects, object)
	}
	return objects
}

// projectListResult applies field selection and content truncation. Both
// are projections over the already filtered result.
func projectListResult(result *ListResult, opts ListOptions) *ListResult {
	if len(opts.Fields) == 0 && opts.Truncate <= 0 {
		return result
	}
	projected := &ListResult{
		Records: make([]map[string]interface{}, 0, len(result.Records)),
		Total:   result.Total,
		HasMore: result.HasMore,
	}
	for _, object := range result.Records {
		if opts.Truncate > 0 {
			if content, ok := object["content"].(string); ok && len(content) > opts.Truncate {
				object = copyObject(object)
				object["content"] = content[:opts.Truncate]
			}
		}
		if len(opts.Fields) > 0 {
			selected := map[string]interface{}{}
			for _, field := range opts.Fields {
				if value, ok := object[field]; ok {
					selected[field] = value
				}
			}
			object = selected
		}
		projected.Records = append(projected.Records, object)
	}
	return projected
}

func copyObject(object map[string]interface{}) map[string]interface{} {
	clone := make(map[string]interface{}, len(object))
	for key, value := range object {
		clone[key] = value
	}
	return clone
}

func (b *Backend) cachedListResult(ctx context.Context, key string) (*ListResult, bool) {
	data, ok := b.cache.Get(ctx, cache.PoolRecordLists, key)
	if !ok {
		return nil, false
	}
	var result ListResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (b *Backend) cacheListResult(ctx context.Context, key string, result *ListResult) {
	if data, err := json.Marshal(result); err == nil {
		b.cache.Set(ctx, cache.PoolRecordLists, key, data)
	}
}

// extensionForContentType maps a content type to the file extension used
// for by-name external storage objects.
func extensionForContentType(contentType string) string {
	if i := strings.IndexRune(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	switch strings.TrimSpace(contentType) {
	case "application/json":
		return "json"
	case "text/plain":
		return "txt"
	case "text/html":
		return "html"
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "application/pdf":
		return "pdf"
	case "application/octet-stream":
		return "bin"
	}
	if i := strings.LastIndexByte(contentType, '/'); i >= 0 && i < len(contentType)-1 {
		return contentType[i+1:]
	}
	return "bin"
}
