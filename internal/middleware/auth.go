package middleware

import (
	"context"
	"net"
	"net/http"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/models"
	"go.uber.org/zap"
)

type ctxKey int

const (
	actorKey ctxKey = iota
	sessionKey
)

// CredentialResolver turns a request's bearer token or session cookie into a user id.
type CredentialResolver interface {
	Resolve(ctx context.Context, r *http.Request) (userID, sid string, err error)
}

// ActorResolver loads the user behind a credential.
type ActorResolver interface {
	ResolveActor(ctx context.Context, userID, ip, userAgent string) (models.Actor, error)
}

// Authenticate rejects requests without a valid credential and attaches
// the normalized Actor to the request context.
func Authenticate(creds CredentialResolver, actors ActorResolver, logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			userID, sid, err := creds.Resolve(ctx, r)
			if err == nil {
				var actor models.Actor
				actor, err = actors.ResolveActor(ctx, userID, ClientIP(r), r.UserAgent())
				if err == nil {
					ctx = context.WithValue(ctx, actorKey, actor)
					ctx = context.WithValue(ctx, sessionKey, sid)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			kind := apperr.KindOf(err)
			if kind == apperr.KindInternal {
				logger.Errorw("Failed to authenticate request", "path", r.URL.Path, "error", err)
			}
			writeError(w, apperr.HTTPStatus(kind), apperr.PublicMessage(err))
		})
	}
}

// ActorFrom returns the authenticated actor.
func ActorFrom(ctx context.Context) (models.Actor, bool) {
	a, ok := ctx.Value(actorKey).(models.Actor)
	return a, ok
}

// SessionIDFrom returns the session backing the request credential.
func SessionIDFrom(ctx context.Context) string {
	sid, _ := ctx.Value(sessionKey).(string)
	return sid
}

// WithActor returns ctx carrying actor. Used by tests and internal callers.
func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ClientIP returns the request's remote host without the port. chi's
// RealIP middleware has already applied forwarding headers.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
