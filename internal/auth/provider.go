package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/metrics"
)

// SessionCookie carries the session id for browser clients.
const SessionCookie = "sid"

// Provider normalizes every credential scheme to a user id.
type Provider struct {
	accounts *Accounts
	sessions Sessions
	tokens   *Tokens
}

// NewProvider wires accounts, sessions and tokens together.
func NewProvider(accounts *Accounts, sessions Sessions, tokens *Tokens) *Provider {
	return &Provider{accounts: accounts, sessions: sessions, tokens: tokens}
}

// Login is the outcome of a successful credential check.
type Login struct {
	Account   *Account
	SessionID string
	Token     string
	ExpiresAt time.Time
}

// Login verifies credentials and opens a session.
func (p *Provider) Login(ctx context.Context, username, password string) (*Login, error) {
	acc, err := p.accounts.Verify(username, password)
	if err != nil {
		metrics.LoginFailuresTotal.Inc()
		return nil, err
	}
	sid, err := p.sessions.Create(ctx, acc.UserID)
	if err != nil {
		return nil, apperr.Internal(err, "failed to create session")
	}
	token, exp, err := p.tokens.Issue(acc.UserID, sid)
	if err != nil {
		_ = p.sessions.Delete(ctx, sid)
		return nil, apperr.Internal(err, "failed to issue token")
	}
	return &Login{Account: acc, SessionID: sid, Token: token, ExpiresAt: exp}, nil
}

// Logout ends a session. Unknown sessions are not an error.
func (p *Provider) Logout(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	if err := p.sessions.Delete(ctx, sid); err != nil {
		return apperr.Internal(err, "failed to end session")
	}
	return nil
}

// Resolve reads "Authorization: Bearer <jwt>" or the session cookie and
// returns the user id and session id. Missing or invalid credentials are
// UNAUTHORIZED.
func (p *Provider) Resolve(ctx context.Context, r *http.Request) (userID, sid string, err error) {
	if header := r.Header.Get("Authorization"); header != "" {
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			return "", "", apperr.ErrUnauthorized.WithMessage("malformed authorization header")
		}
		claims, err := p.tokens.Parse(raw)
		if err != nil {
			return "", "", err
		}
		owner, err := p.sessions.Lookup(ctx, claims.SessionID)
		if err != nil {
			return "", "", apperr.Ensure(err, "failed to load session")
		}
		if owner != claims.UserID {
			return "", "", apperr.ErrUnauthorized.WithMessage("invalid or expired token")
		}
		return claims.UserID, claims.SessionID, nil
	}

	cookie, err := r.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return "", "", apperr.ErrUnauthorized.WithMessage("authentication required")
	}
	userID, err = p.sessions.Lookup(ctx, cookie.Value)
	if err != nil {
		return "", "", apperr.Ensure(err, "failed to load session")
	}
	return userID, cookie.Value, nil
}

// Ping checks the session backend.
func (p *Provider) Ping(ctx context.Context) error {
	return p.sessions.Ping(ctx)
}
