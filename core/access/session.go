package access

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/webpods-org/webpods/core/csql"
	"github.com/webpods-org/webpods/core/logger"
)

// EnsureAuthRelations creates the session and oauth_state relations if
// they do not exist. Rows are written by the external auth subsystem;
// the core only reads sessions and leaves oauth_state opaque.
func EnsureAuthRelations(db *csql.DB) error {
	_, err := db.Exec(fmt.Sprintf(`CREATE table IF NOT EXISTS %s.session (
id varchar NOT NULL PRIMARY KEY,
user_id varchar NOT NULL,
pod_name varchar NOT NULL DEFAULT '',
data json NOT NULL DEFAULT '{}',
created_at bigint NOT NULL,
expires_at bigint NOT NULL
);
CREATE table IF NOT EXISTS %s.oauth_state (
state varchar NOT NULL PRIMARY KEY,
data json NOT NULL DEFAULT '{}',
created_at bigint NOT NULL,
expires_at bigint NOT NULL
);`, db.Schema, db.Schema))
	if err != nil {
		return fmt.Errorf("cannot create auth relations: %w", err)
	}
	return nil
}

// NewSessionMiddleware returns a middleware handler that resolves a
// "webpods_session" cookie against the session relation. Requests without
// the cookie pass through; unknown or expired sessions are treated as
// anonymous, the auth subsystem owns re-authentication.
func NewSessionMiddleware(db *csql.DB) mux.MiddlewareFunc {
	query := fmt.Sprintf("SELECT user_id, pod_name FROM %s.session WHERE id = $1 AND expires_at > $2;", db.Schema)

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IdentityFromContext(r.Context()) != nil {
				h.ServeHTTP(w, r)
				return
			}
			cookie, _ := r.Cookie("webpods_session")
			if cookie == nil || cookie.Value == "" {
				h.ServeHTTP(w, r)
				return
			}

			var userID, podName string
			err := db.QueryRowContext(r.Context(), query, cookie.Value, time.Now().UnixMilli()).
				Scan(&userID, &podName)
			if err != nil {
				if err != csql.ErrNoRows {
					logger.FromContext(r.Context()).WithError(err).Errorln("cannot read session")
				}
				h.ServeHTTP(w, r)
				return
			}

			identity := &Identity{UserID: userID, Pod: podName}
			ctx := ContextWithIdentity(r.Context(), identity)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, identity.UserID)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
