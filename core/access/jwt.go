package access

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/webpods-org/webpods/core"
	"github.com/webpods-org/webpods/core/logger"
)

// JwtMiddlewareBuilder is a helper builder for the JWT middleware.
type JwtMiddlewareBuilder struct {
	// Secret is the HMAC key shared with the token issuer. Mandatory.
	Secret []byte
	// Issuer is the accepted issuer for the token. Mandatory.
	Issuer string
}

type podClaims struct {
	// Pod is the optional pod scope of the token.
	Pod string `json:"pod,omitempty"`
	jwt.RegisteredClaims
}

// NewJwtMiddleware returns a middleware handler that validates JWT bearer
// tokens issued by the auth subsystem and stores the resulting identity
// in the request context.
//
// Tokens are accepted as "Authorization: Bearer" header or as a
// "webpods_token" cookie. Requests without a token pass through
// anonymously; requests with an invalid token are rejected with 401.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	if len(jmb.Secret) == 0 {
		panic("jwt middleware: secret is missing")
	}

	keyLookup := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return jmb.Secret, nil
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IdentityFromContext(r.Context()) != nil { // already authenticated?
				h.ServeHTTP(w, r)
				return
			}

			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 0 && bearer != "null" {
				if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
					tokenString = bearer[7:]
				} else {
					tokenString = bearer
				}
			} else if cookie, _ := r.Cookie("webpods_token"); cookie != nil {
				tokenString = cookie.Value
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			claims := podClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, keyLookup)
			if err != nil || !token.Valid || claims.Issuer != jmb.Issuer || claims.Subject == "" {
				logger.FromContext(r.Context()).Debugln("rejected bearer token:", err)
				core.WriteError(w, core.NewError(core.KindUnauthorized, "invalid token"))
				return
			}

			identity := &Identity{UserID: claims.Subject, Pod: claims.Pod}
			ctx := ContextWithIdentity(r.Context(), identity)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, identity.UserID)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
