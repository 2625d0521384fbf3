/*Package core provides shared kinds for the webpods backend: rate-limited
actions, identifier syntax validation and the typed error set.
*/
package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

// Action represents a rate-limited backend operation.
type Action string

// all rate-limited actions
const (
	ActionRead         Action = "read"
	ActionWrite        Action = "write"
	ActionPodCreate    Action = "pod_create"
	ActionStreamCreate Action = "stream_create"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = Action(s)
	switch *a {
	case ActionRead, ActionWrite, ActionPodCreate, ActionStreamCreate:
		return nil
	default:
		return fmt.Errorf("%s is not a valid Action", s)
	}
}

var (
	podNameRegexp    = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	recordNameRegexp = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
)

// ValidPodName reports whether name is a valid DNS label for a pod.
func ValidPodName(name string) bool {
	return podNameRegexp.MatchString(name)
}

// ValidStreamName reports whether name is a valid single stream path segment.
// Segments must be non-empty, contain no slash and neither start nor end
// with a dot.
func ValidStreamName(name string) bool {
	if name == "" || strings.ContainsRune(name, '/') {
		return false
	}
	if strings.HasPrefix(name, ".") && name != ".config" {
		// the only dot-prefixed segment we serve is the system stream
		return false
	}
	return !strings.HasSuffix(name, ".")
}

// ValidRecordName reports whether name is a valid record name. Record
// names are limited to 256 characters of [A-Za-z0-9._-] and must neither
// start nor end with a dot.
func ValidRecordName(name string) bool {
	if name == "" || len(name) > 256 {
		return false
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return recordNameRegexp.MatchString(name)
}

// SystemStreamPrefix is the path prefix of undeletable system streams.
const SystemStreamPrefix = ".config"

// IsSystemStream reports whether path lies in the .config subtree.
func IsSystemStream(path string) bool {
	return path == SystemStreamPrefix || strings.HasPrefix(path, SystemStreamPrefix+"/")
}
