package backend

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/webpods-org/webpods/core"
)

// readTarget is the result of read path resolution: a stream, and the
// record name within it when the path addresses a single record. An empty
// record name means the path addresses the stream itself.
type readTarget struct {
	stream     *Stream
	recordName string
}

// resolveRead resolves a read path to a stream or a record within a
// stream. With an index query the whole path must name a stream. A path
// that exists as a stream lists that stream; otherwise the last segment
// is taken as a record name in the parent stream.
func (b *Backend) resolveRead(ctx context.Context, pod, path string, hasIndexQuery bool) (*readTarget, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		// the bare pod root serves nothing unless a route maps it away
		return nil, core.NewError(core.KindNotFound, "nothing found at /")
	}

	if hasIndexQuery {
		stream, err := b.GetStreamByPath(ctx, pod, path)
		if err != nil {
			return nil, err
		}
		return &readTarget{stream: stream}, nil
	}

	stream, err := b.GetStreamByPath(ctx, pod, path)
	if err == nil {
		return &readTarget{stream: stream}, nil
	}
	if core.AsError(err).Kind != core.KindStreamNotFound {
		return nil, err
	}

	i := strings.LastIndex(path, "/")
	if i < 0 {
		return nil, core.NewError(core.KindStreamNotFound, "stream "+path+" not found in pod "+pod)
	}
	stream, err = b.GetStreamByPath(ctx, pod, path[:i])
	if err != nil {
		if core.AsError(err).Kind == core.KindStreamNotFound {
			return nil, core.NewError(core.KindNotFound, "nothing found at /"+path)
		}
		return nil, err
	}
	return &readTarget{stream: stream, recordName: path[i+1:]}, nil
}

// splitWritePath splits a write path into the stream path and the record
// name, the last segment. A single-segment path addresses the stream
// itself and returns an empty record name; the caller generates one.
func splitWritePath(path string) (streamPath, recordName string, err error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", "", core.NewError(core.KindInvalidInput, "a write path needs at least a stream")
	}
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return path, "", nil
	}
	return path[:i], path[i+1:], nil
}

// resolveWrite resolves a write path, creating missing streams along the
// prefix. Write access is checked against the nearest existing ancestor
// stream; creating a new root stream is reserved for the pod owner.
// Newly created streams take accessPermission, or inherit from their
// parent when it is empty. A write to a bare stream path gets a
// generated record name.
func (b *Backend) resolveWrite(ctx context.Context, pod, path, userID, accessPermission string) (*Stream, string, error) {
	streamPath, recordName, err := splitWritePath(path)
	if err != nil {
		return nil, "", err
	}
	if recordName == "" {
		recordName = uuid.New().String()
	}
	if !core.ValidRecordName(recordName) {
		return nil, "", core.NewError(core.KindInvalidInput, "invalid record name "+recordName)
	}
	if err := validAccessPermission(accessPermission); err != nil {
		return nil, "", err
	}

	existing, err := b.nearestExistingStream(ctx, pod, streamPath)
	if err != nil {
		return nil, "", err
	}
	if existing != nil {
		if err := b.CheckPermission(ctx, existing, userID, core.ActionWrite); err != nil {
			return nil, "", err
		}
	} else {
		owner, err := b.PodOwner(ctx, pod)
		if err != nil {
			return nil, "", err
		}
		if userID == "" || userID != owner {
			return nil, "", core.NewError(core.KindForbidden, "only the pod owner may create root streams")
		}
	}

	stream, err := b.ensureStreamPath(ctx, pod, streamPath, userID, accessPermission)
	if err != nil {
		return nil, "", err
	}
	return stream, recordName, nil
}

// nearestExistingStream returns the deepest existing stream on the path,
// or nil when not even the root segment exists.
func (b *Backend) nearestExistingStream(ctx context.Context, pod, path string) (*Stream, error) {
	for {
		stream, err := b.GetStreamByPath(ctx, pod, path)
		if err == nil {
			return stream, nil
		}
		if core.AsError(err).Kind != core.KindStreamNotFound {
			return nil, err
		}
		i := strings.LastIndex(path, "/")
		if i < 0 {
			return nil, nil
		}
		path = path[:i]
	}
}
