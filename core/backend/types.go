package backend

import (
	"github.com/goccy/go-json"
)

// Pod is a tenant namespace keyed by DNS label. The owner column is
// denormalized for pod listings; the authoritative owner is the latest
// record named "owner" in the pod's .config/owner stream.
type Pod struct {
	Name        string          `json:"name"`
	OwnerUserID string          `json:"owner_user_id"`
	Metadata    json.RawMessage `json:"metadata"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

// Stream is a hierarchical, append-only log inside a pod. Path is the
// slash-joined chain of ancestor names, denormalized for O(1) lookup.
type Stream struct {
	ID               int64           `json:"id"`
	Pod              string          `json:"pod"`
	Name             string          `json:"name"`
	Path             string          `json:"path"`
	ParentID         *int64          `json:"parent_id"`
	UserID           string          `json:"user_id"`
	AccessPermission string          `json:"access_permission"`
	Metadata         json.RawMessage `json:"metadata"`
	HasSchema        bool            `json:"has_schema"`
	CreatedAt        int64           `json:"created_at"`
	UpdatedAt        int64           `json:"updated_at"`
}

// Record is an immutable entry in a stream with hash linkage. Index is
// dense and strictly increasing per stream; the hash values form a chain
// through PreviousHash.
type Record struct {
	ID           int64             `json:"-"`
	StreamID     int64             `json:"-"`
	Index        int               `json:"index"`
	Content      string            `json:"content"`
	ContentType  string            `json:"content_type"`
	IsBinary     bool              `json:"is_binary,omitempty"`
	Size         int64             `json:"size"`
	Name         string            `json:"name"`
	Path         string            `json:"path"`
	ContentHash  string            `json:"content_hash"`
	Hash         string            `json:"hash"`
	PreviousHash *string           `json:"previous_hash"`
	UserID       string            `json:"author"`
	Storage      *string           `json:"storage,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Deleted      bool              `json:"deleted,omitempty"`
	Purged       bool              `json:"purged,omitempty"`
	CreatedAt    int64             `json:"created_at"`
}

// ListResult is the response shape of all list queries.
type ListResult struct {
	Records []map[string]interface{} `json:"records"`
	Total   int                      `json:"total"`
	HasMore bool                     `json:"hasMore"`
}
