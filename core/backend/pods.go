package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"

	"github.com/webpods-org/webpods/core"
	"github.com/webpods-org/webpods/core/cache"
	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/logger"
)

// ownerStreamPath holds the authoritative pod ownership log.
const ownerStreamPath = ".config/owner"

// routingStreamPath holds the link rewrite table.
const routingStreamPath = ".config/routing"

// domainsStreamPath holds the custom domain event log.
const domainsStreamPath = ".config/domains"

// CreatePod creates a pod owned by userID, together with its system
// streams under .config and the initial owner record.
func (b *Backend) CreatePod(ctx context.Context, name, userID string) (*Pod, error) {
	if !core.ValidPodName(name) {
		return nil, core.NewError(core.KindInvalidInput, "invalid pod name "+name)
	}
	if userID == "" {
		return nil, core.NewError(core.KindUnauthorized, "pod creation requires authentication")
	}

	now := time.Now().UnixMilli()
	query := fmt.Sprintf("INSERT INTO %s.pod (name, owner_user_id, metadata, created_at, updated_at) VALUES ($1, $2, '{}', $3, $3);", b.db.Schema)
	_, err := b.db.ExecContext(ctx, query, name, userID, now)
	if err != nil {
		if pqError, ok := err.(*pq.Error); ok && pqError.Code.Name() == "unique_violation" {
			return nil, core.NewError(core.KindPodExists, "pod "+name+" already exists")
		}
		return nil, core.NewError(core.KindDatabaseError, "cannot create pod").WithCause(err)
	}

	if err := b.ensureSystemStreams(ctx, name, userID); err != nil {
		return nil, err
	}
	b.cache.Clear(ctx, cache.PoolPods, "userPods:"+userID+"*")

	logger.FromContext(ctx).Infoln("created pod", name, "for", userID)
	return &Pod{Name: name, OwnerUserID: userID, Metadata: json.RawMessage("{}"), CreatedAt: now, UpdatedAt: now}, nil
}

// GetPod returns the pod row, consulting the pod cache.
func (b *Backend) GetPod(ctx context.Context, name string) (*Pod, error) {
	cacheKey := "pod:" + name
	if data, ok := b.cache.Get(ctx, cache.PoolPods, cacheKey); ok {
		var pod Pod
		if err := json.Unmarshal(data, &pod); err == nil {
			return &pod, nil
		}
	}

	query := fmt.Sprintf("SELECT name, owner_user_id, metadata, created_at, updated_at FROM %s.pod WHERE name = $1;", b.db.Schema)
	var pod Pod
	err := b.db.QueryRowContext(ctx, query, name).
		Scan(&pod.Name, &pod.OwnerUserID, &pod.Metadata, &pod.CreatedAt, &pod.UpdatedAt)
	if err == csql.ErrNoRows {
		return nil, core.NewError(core.KindPodNotFound, "pod "+name+" not found")
	}
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "cannot read pod").WithCause(err)
	}

	if data, err := json.Marshal(&pod); err == nil {
		b.cache.Set(ctx, cache.PoolPods, cacheKey, data)
	}
	return &pod, nil
}

// DeletePod deletes the pod and, through cascading, all its streams and
// records. Only the current owner may delete a pod.
func (b *Backend) DeletePod(ctx context.Context, name, userID string) error {
	owner, err := b.PodOwner(ctx, name)
	if err != nil {
		return err
	}
	if userID == "" || userID != owner {
		return core.NewError(core.KindForbidden, "only the pod owner may delete the pod")
	}

	query := fmt.Sprintf("DELETE FROM %s.pod WHERE name = $1;", b.db.Schema)
	result, err := b.db.ExecContext(ctx, query, name)
	if err != nil {
		return core.NewError(core.KindDatabaseError, "cannot delete pod").WithCause(err)
	}
	if count, _ := result.RowsAffected(); count == 0 {
		return core.NewError(core.KindPodNotFound, "pod "+name+" not found")
	}

	b.cache.Delete(ctx, cache.PoolPods, "pod:"+name)
	b.cache.Clear(ctx, cache.PoolPods, "userPods:*")
	b.cache.Clear(ctx, cache.PoolStreams, "stream:"+name+":*")
	b.cache.Clear(ctx, cache.PoolSingleRecords, name+":*")
	b.cache.Clear(ctx, cache.PoolRecordLists, name+":*")
	logger.FromContext(ctx).Infoln("deleted pod", name)
	return nil
}

// ListPodsForUser returns the pods currently owned by userID.
func (b *Backend) ListPodsForUser(ctx context.Context, userID string) ([]*Pod, error) {
	cacheKey := "userPods:" + userID
	if data, ok := b.cache.Get(ctx, cache.PoolPods, cacheKey); ok {
		var pods []*Pod
		if err := json.Unmarshal(data, &pods); err == nil {
			return pods, nil
		}
	}

	query := fmt.Sprintf("SELECT name, owner_user_id, metadata, created_at, updated_at FROM %s.pod WHERE owner_user_id = $1 ORDER BY name;", b.db.Schema)
	rows, err := b.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "cannot list pods").WithCause(err)
	}
	defer rows.Close()

	pods := []*Pod{}
	for rows.Next() {
		var pod Pod
		if err := rows.Scan(&pod.Name, &pod.OwnerUserID, &pod.Metadata, &pod.CreatedAt, &pod.UpdatedAt); err != nil {
			return nil, core.NewError(core.KindDatabaseError, "cannot scan pod").WithCause(err)
		}
		pods = append(pods, &pod)
	}
	if data, err := json.Marshal(pods); err == nil {
		b.cache.Set(ctx, cache.PoolPods, cacheKey, data)
	}
	return pods, nil
}

// PodOwner resolves the current owner of the pod: the user named by the
// latest record called "owner" in /.config/owner. This lookup is
// authoritative and supersedes the denormalized pod column.
func (b *Backend) PodOwner(ctx context.Context, pod string) (string, error) {
	stream, err := b.GetStreamByPath(ctx, pod, ownerStreamPath)
	if err != nil {
		if core.AsError(err).Kind == core.KindStreamNotFound {
			// a pod without an owner stream falls back to the pod row
			p, err := b.GetPod(ctx, pod)
			if err != nil {
				return "", err
			}
			return p.OwnerUserID, nil
		}
		return "", err
	}
	record, err := b.latestVisibleRecordByName(ctx, stream.ID, "owner")
	if err != nil {
		if core.AsError(err).Kind == core.KindRecordNotFound {
			p, err := b.GetPod(ctx, pod)
			if err != nil {
				return "", err
			}
			return p.OwnerUserID, nil
		}
		return "", err
	}

	var content struct {
		UserID string `json:"userId"`
		Owner  string `json:"owner"`
	}
	if err := json.Unmarshal([]byte(record.Content), &content); err != nil {
		return "", core.NewError(core.KindInternalError, "malformed owner record in pod "+pod).WithCause(err)
	}
	if content.UserID != "" {
		return content.UserID, nil
	}
	return content.Owner, nil
}

// syncPodOwner refreshes the denormalized owner column after a write to
// the owner stream.
func (b *Backend) syncPodOwner(ctx context.Context, pod string) {
	owner, err := b.PodOwner(ctx, pod)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("cannot resolve owner of pod", pod)
		return
	}
	query := fmt.Sprintf("UPDATE %s.pod SET owner_user_id = $2, updated_at = $3 WHERE name = $1;", b.db.Schema)
	if _, err := b.db.ExecContext(ctx, query, pod, owner, time.Now().UnixMilli()); err != nil {
		logger.FromContext(ctx).WithError(err).Errorln("cannot sync owner of pod", pod)
		return
	}
	b.cache.Delete(ctx, cache.PoolPods, "pod:"+pod)
	b.cache.Clear(ctx, cache.PoolPods, "userPods:*")
}

// ensureSystemStreams creates the pod's .config subtree: the ownership
// log, the link routing table and the custom domains event log. The
// initial owner record is appended to /.config/owner.
func (b *Backend) ensureSystemStreams(ctx context.Context, pod, userID string) error {
	for _, path := range []string{core.SystemStreamPrefix, ownerStreamPath, routingStreamPath, domainsStreamPath} {
		if _, err := b.ensureStreamPath(ctx, pod, path, userID, "private"); err != nil {
			return err
		}
	}

	ownerStream, err := b.GetStreamByPath(ctx, pod, ownerStreamPath)
	if err != nil {
		return err
	}
	content, _ := json.Marshal(map[string]string{"userId": userID})
	_, err = b.Append(ctx, AppendRequest{
		Stream:      ownerStream,
		Name:        "owner",
		Content:     content,
		ContentType: "application/json",
		UserID:      userID,
	})
	if err != nil {
		return err
	}
	return nil
}
