package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/webpods-org/webpods/core"
	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/logger"
)

// maxPermissionHops bounds chained permission stream lookups. A deeper
// chain denies.
const maxPermissionHops = 8

// permissionGrant is the content of a record in a permission stream. The
// record name is the user the grant applies to.
type permissionGrant struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
}

// CheckPermission decides whether userID may perform action on the
// stream. The pod owner always may; the stream creator only while
// ownership has not moved to somebody else. Otherwise the stream's
// access permission decides: "public" grants read to everybody and
// write to any authenticated user, "private" admits only the creator, a
// slash-prefixed path delegates to a permission stream, and "" walks up
// to the parent. An undecided permission stream also walks up. A pod
// without any decision denies.
func (b *Backend) CheckPermission(ctx context.Context, stream *Stream, userID string, action core.Action) error {
	owner, err := b.PodOwner(ctx, stream.Pod)
	if err != nil {
		return err
	}
	if userID != "" && userID == owner {
		return nil
	}
	if userID != "" && userID == stream.UserID && (owner == "" || owner == userID) {
		return nil
	}

	hops := 0
	current := stream
	for current != nil {
		switch permission := current.AccessPermission; {
		case permission == "public":
			if action == core.ActionRead || userID != "" {
				return nil
			}
			return forbidden(stream, action)

		case permission == "private":
			if userID != "" && userID == current.UserID {
				return nil
			}
			return forbidden(stream, action)

		case strings.HasPrefix(permission, "/"):
			hops++
			if hops > maxPermissionHops {
				logger.FromContext(ctx).Warningln("permission chain too deep for", stream.Pod, stream.Path)
				return forbidden(stream, action)
			}
			decided, allowed := b.permissionStreamDecision(ctx, stream.Pod, strings.TrimPrefix(permission, "/"), userID, action)
			if decided {
				if allowed {
					return nil
				}
				return forbidden(stream, action)
			}
			// undecided, walk up
		}

		parent, err := b.parentStream(ctx, current)
		if err != nil {
			if core.AsError(err).Kind == core.KindStreamNotFound {
				break
			}
			return err
		}
		current = parent
	}
	return forbidden(stream, action)
}

// permissionStreamDecision consults the permission stream at path. The
// latest visible record named after the user decides with its read/write
// flags; a record identifying the user through its content works too. A
// missing stream, a missing record or an anonymous user leave the
// decision open.
func (b *Backend) permissionStreamDecision(ctx context.Context, pod, path, userID string, action core.Action) (decided, allowed bool) {
	if userID == "" {
		return false, false
	}
	permissionStream, err := b.GetStreamByPath(ctx, pod, path)
	if err != nil {
		return false, false
	}
	record, err := b.latestVisibleRecordByName(ctx, permissionStream.ID, userID)
	if err != nil {
		if core.AsError(err).Kind != core.KindRecordNotFound {
			return false, false
		}
		record, err = b.latestGrantForUser(ctx, permissionStream.ID, userID)
		if err != nil {
			return false, false
		}
	}

	var grant permissionGrant
	if err := json.Unmarshal([]byte(record.Content), &grant); err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("malformed permission record in", pod, path)
		return true, false
	}
	if action == core.ActionRead {
		return true, grant.Read
	}
	return true, grant.Write
}

// latestGrantForUser finds the newest visible grant record whose JSON
// content identifies the user through an id or userId field. Grants are
// normally named after the user; this covers grants written under other
// names.
func (b *Backend) latestGrantForUser(ctx context.Context, streamID int64, userID string) (*Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s.record
WHERE stream_id = $1 AND NOT deleted AND NOT purged AND strpos(content_type, 'json') > 0
AND (content::jsonb->>'id' = $2 OR content::jsonb->>'userId' = $2)
ORDER BY idx DESC LIMIT 1;`, recordColumns, b.db.Schema)
	record, err := scanRecord(b.db.QueryRowContext(ctx, query, streamID, userID))
	if err == csql.ErrNoRows {
		return nil, core.NewError(core.KindRecordNotFound, "no grant for "+userID)
	}
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "cannot read grant record").WithCause(err)
	}
	return record, nil
}

func forbidden(stream *Stream, action core.Action) error {
	if action == core.ActionRead {
		return core.NewError(core.KindForbidden, "no read access to /"+stream.Path)
	}
	return core.NewError(core.KindForbidden, "no write access to /"+stream.Path)
}
