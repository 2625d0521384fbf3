package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/webpods-org/webpods/core"
	"github.com/webpods-org/webpods/core/cache"
	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/logger"
)

func streamCacheKey(pod, path string) string {
	return "stream:" + pod + ":" + path
}

// GetStreamByPath returns the stream at path within the pod, consulting
// the stream cache.
func (b *Backend) GetStreamByPath(ctx context.Context, pod, path string) (*Stream, error) {
	cacheKey := streamCacheKey(pod, path)
	if data, ok := b.cache.Get(ctx, cache.PoolStreams, cacheKey); ok {
		var stream Stream
		if err := json.Unmarshal(data, &stream); err == nil {
			return &stream, nil
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s.stream WHERE pod_name = $1 AND path = $2;", streamColumns, b.db.Schema)
	stream, err := scanStream(b.db.QueryRowContext(ctx, query, pod, path))
	if err == csql.ErrNoRows {
		return nil, core.NewError(core.KindStreamNotFound, "stream "+path+" not found in pod "+pod)
	}
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "cannot read stream").WithCause(err)
	}

	if data, err := json.Marshal(stream); err == nil {
		b.cache.Set(ctx, cache.PoolStreams, cacheKey, data)
	}
	return stream, nil
}

// CreateStream creates a stream under the given parent (nil for a root
// stream). The name must be a valid segment and must not collide with a
// sibling stream or a sibling record.
func (b *Backend) CreateStream(ctx context.Context, pod string, parent *Stream, name, accessPermission, userID string) (*Stream, error) {
	if !core.ValidStreamName(name) {
		return nil, core.NewError(core.KindInvalidInput, "invalid stream name "+name)
	}
	if err := validAccessPermission(accessPermission); err != nil {
		return nil, err
	}

	path := name
	var parentID *int64
	if parent != nil {
		path = parent.Path + "/" + name
		parentID = &parent.ID

		// a stream and a record of the same name cannot coexist as siblings
		if _, err := b.latestVisibleRecordByName(ctx, parent.ID, name); err == nil {
			return nil, core.NewError(core.KindNameConflict, "a record named "+name+" already exists")
		} else if core.AsError(err).Kind != core.KindRecordNotFound {
			return nil, err
		}
	}

	now := time.Now().UnixMilli()
	query := fmt.Sprintf(`INSERT INTO %s.stream (pod_name, name, path, parent_id, user_id, access_permission, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, '{}', $7, $7) RETURNING %s;`, b.db.Schema, streamColumns)
	stream, err := scanStream(b.db.QueryRowContext(ctx, query, pod, name, path, parentID, userID, accessPermission, now))
	if err != nil {
		if pqError, ok := err.(*pq.Error); ok {
			switch pqError.Code.Name() {
			case "unique_violation":
				return nil, core.NewError(core.KindNameConflict, "stream "+path+" already exists")
			case "foreign_key_violation":
				return nil, core.NewError(core.KindPodNotFound, "pod "+pod+" not found")
			}
		}
		return nil, core.NewError(core.KindDatabaseError, "cannot create stream").WithCause(err)
	}

	b.invalidateStream(ctx, pod, stream)
	logger.FromContext(ctx).Debugln("created stream", pod, path)
	return stream, nil
}

// ensureStreamPath walks the slash-separated path and creates any missing
// streams, each inheriting the given access permission. It returns the
// stream at the full path. Permission checks against the nearest existing
// ancestor are the caller's responsibility.
func (b *Backend) ensureStreamPath(ctx context.Context, pod, path, userID, accessPermission string) (*Stream, error) {
	segments := strings.Split(path, "/")
	var parent *Stream
	current := ""
	for _, segment := range segments {
		if current == "" {
			current = segment
		} else {
			current += "/" + segment
		}
		stream, err := b.GetStreamByPath(ctx, pod, current)
		if err == nil {
			parent = stream
			continue
		}
		if core.AsError(err).Kind != core.KindStreamNotFound {
			return nil, err
		}
		inherited := accessPermission
		if parent != nil && parent.AccessPermission != "" {
			inherited = parent.AccessPermission
		}
		stream, err = b.CreateStream(ctx, pod, parent, segment, inherited, userID)
		if err != nil {
			// a concurrent creator may have won the race
			if core.AsError(err).Kind == core.KindNameConflict {
				if stream, err = b.GetStreamByPath(ctx, pod, current); err == nil {
					parent = stream
					continue
				}
			}
			return nil, err
		}
		parent = stream
	}
	return parent, nil
}

// ListChildStreams returns the direct child streams of parentID, or the
// root streams of the pod when parentID is nil.
func (b *Backend) ListChildStreams(ctx context.Context, pod string, parentID *int64) ([]*Stream, error) {
	cacheKey := "children:" + pod + ":root"
	if parentID != nil {
		cacheKey = fmt.Sprintf("children:%s:%d", pod, *parentID)
	}
	if data, ok := b.cache.Get(ctx, cache.PoolStreams, cacheKey); ok {
		var streams []*Stream
		if err := json.Unmarshal(data, &streams); err == nil {
			return streams, nil
		}
	}

	var query string
	var rows *sql.Rows
	var err error
	if parentID == nil {
		query = fmt.Sprintf("SELECT %s FROM %s.stream WHERE pod_name = $1 AND parent_id IS NULL ORDER BY name;", streamColumns, b.db.Schema)
		rows, err = b.db.QueryContext(ctx, query, pod)
	} else {
		query = fmt.Sprintf("SELECT %s FROM %s.stream WHERE pod_name = $1 AND parent_id = $2 ORDER BY name;", streamColumns, b.db.Schema)
		rows, err = b.db.QueryContext(ctx, query, pod, *parentID)
	}
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "cannot list child streams").WithCause(err)
	}
	defer rows.Close()

	streams := []*Stream{}
	for rows.Next() {
		stream, err := scanStream(rows)
		if err != nil {
			return nil, core.NewError(core.KindDatabaseError, "cannot scan stream").WithCause(err)
		}
		streams = append(streams, stream)
	}
	if data, err := json.Marshal(streams); err == nil {
		b.cache.Set(ctx, cache.PoolStreams, cacheKey, data)
	}
	return streams, nil
}

// listStreams returns all streams of the pod ordered by path. This backs
// the computed /.config/api/streams endpoint.
func (b *Backend) listStreams(ctx context.Context, pod string) ([]*Stream, error) {
	query := fmt.Sprintf("SELECT %s FROM %s.stream WHERE pod_name = $1 ORDER BY path;", streamColumns, b.db.Schema)
	rows, err := b.db.QueryContext(ctx, query, pod)
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "cannot list streams").WithCause(err)
	}
	defer rows.Close()

	streams := []*Stream{}
	for rows.Next() {
		stream, err := scanStream(rows)
		if err != nil {
			return nil, core.NewError(core.KindDatabaseError, "cannot scan stream").WithCause(err)
		}
		streams = append(streams, stream)
	}
	return streams, nil
}

// descendantStreams returns the stream and all its descendants, ordered
// by path.
func (b *Backend) descendantStreams(ctx context.Context, stream *Stream) ([]*Stream, error) {
	query := fmt.Sprintf("SELECT %s FROM %s.stream WHERE pod_name = $1 AND (path = $2 OR path LIKE $3) ORDER BY path;",
		streamColumns, b.db.Schema)
	rows, err := b.db.QueryContext(ctx, query, stream.Pod, stream.Path, stream.Path+"/%")
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "cannot list descendant streams").WithCause(err)
	}
	defer rows.Close()

	streams := []*Stream{}
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, core.NewError(core.KindDatabaseError, "cannot scan stream").WithCause(err)
		}
		streams = append(streams, s)
	}
	return streams, nil
}

// parentStream returns the parent of the stream, or nil for root streams.
func (b *Backend) parentStream(ctx context.Context, stream *Stream) (*Stream, error) {
	if stream.ParentID == nil {
		return nil, nil
	}
	i := strings.LastIndex(stream.Path, "/")
	if i < 0 {
		return nil, nil
	}
	return b.GetStreamByPath(ctx, stream.Pod, stream.Path[:i])
}

// DeleteStream deletes the stream and, through cascading, all its child
// streams and records. System streams under .config cannot be deleted.
func (b *Backend) DeleteStream(ctx context.Context, stream *Stream) error {
	if core.IsSystemStream(stream.Path) {
		return core.NewError(core.KindForbidden, "system stream "+stream.Path+" cannot be deleted")
	}

	query := fmt.Sprintf("DELETE FROM %s.stream WHERE id = $1;", b.db.Schema)
	if _, err := b.db.ExecContext(ctx, query, stream.ID); err != nil {
		return core.NewError(core.KindDatabaseError, "cannot delete stream").WithCause(err)
	}

	b.cache.Clear(ctx, cache.PoolStreams, streamCacheKey(stream.Pod, stream.Path)+"*")
	b.cache.Clear(ctx, cache.PoolStreams, "children:"+stream.Pod+":*")
	b.cache.Clear(ctx, cache.PoolSingleRecords, stream.Pod+":*")
	b.cache.Clear(ctx, cache.PoolRecordLists, stream.Pod+":*")
	logger.FromContext(ctx).Infoln("deleted stream", stream.Pod, stream.Path)
	return nil
}

// SetStreamPermission updates the stream's access permission. Ownership
// checks are the caller's responsibility.
func (b *Backend) SetStreamPermission(ctx context.Context, stream *Stream, permission string) error {
	if err := validAccessPermission(permission); err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s.stream SET access_permission = $2, updated_at = $3 WHERE id = $1;", b.db.Schema)
	if _, err := b.db.ExecContext(ctx, query, stream.ID, permission, time.Now().UnixMilli()); err != nil {
		return core.NewError(core.KindDatabaseError, "cannot update access permission").WithCause(err)
	}
	stream.AccessPermission = permission
	b.invalidateStream(ctx, stream.Pod, stream)
	logger.FromContext(ctx).Infoln("changed access permission of", stream.Pod, stream.Path, "to", permission)
	return nil
}

// setHasSchema maintains the stream's schema flag after a schema record
// write.
func (b *Backend) setHasSchema(ctx context.Context, stream *Stream, hasSchema bool) error {
	query := fmt.Sprintf("UPDATE %s.stream SET has_schema = $2, updated_at = $3 WHERE id = $1;", b.db.Schema)
	if _, err := b.db.ExecContext(ctx, query, stream.ID, hasSchema, time.Now().UnixMilli()); err != nil {
		return core.NewError(core.KindDatabaseError, "cannot update schema flag").WithCause(err)
	}
	b.cache.Delete(ctx, cache.PoolStreams, streamCacheKey(stream.Pod, stream.Path))
	return nil
}

// invalidateStream drops cache entries that depend on the stream row or
// the parent's child list.
func (b *Backend) invalidateStream(ctx context.Context, pod string, stream *Stream) {
	b.cache.Delete(ctx, cache.PoolStreams, streamCacheKey(pod, stream.Path))
	if stream.ParentID != nil {
		b.cache.Delete(ctx, cache.PoolStreams, fmt.Sprintf("children:%s:%d", pod, *stream.ParentID))
	} else {
		b.cache.Delete(ctx, cache.PoolStreams, "children:"+pod+":root")
	}
}

// validAccessPermission checks the access permission syntax: "public",
// "private", "" (inherit) or a slash-prefixed permission stream path.
func validAccessPermission(permission string) error {
	switch permission {
	case "", "public", "private":
		return nil
	}
	if strings.HasPrefix(permission, "/") && len(permission) > 1 {
		return nil
	}
	return core.NewError(core.KindInvalidInput, "invalid access permission "+permission)
}
