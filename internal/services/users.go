package services

import (
	"context"
	"errors"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/audit"
	"github.com/caseledger/custody-server/internal/authz"
	"github.com/caseledger/custody-server/internal/models"
)

// ResolveActor loads the authenticated user and builds the request Actor.
// A credential for a user that no longer exists is UNAUTHORIZED.
func (s *Service) ResolveActor(ctx context.Context, userID, ip, userAgent string) (models.Actor, error) {
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.Actor{}, apperr.ErrUnauthorized.WithMessage("unknown user")
	}
	if err != nil {
		return models.Actor{}, s.storeErr(err, "failed to load user")
	}
	return models.Actor{UserID: u.ID, Role: u.Role, IPAddress: ip, UserAgent: userAgent}, nil
}

// RecordLogin upserts the profile of a freshly authenticated account.
func (s *Service) RecordLogin(ctx context.Context, profile *models.User, ip, userAgent string) (*models.User, error) {
	now := s.clock()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	u, err := s.store.UpsertUser(ctx, profile)
	if err != nil {
		return nil, s.storeErr(err, "failed to upsert user")
	}

	actor := models.Actor{UserID: u.ID, Role: u.Role, IPAddress: ip, UserAgent: userAgent}
	s.audit.Log(ctx, actor, audit.ActionLoggedIn, audit.ResourceUser, u.ID, nil)
	s.logger.Infow("User logged in", "user_id", u.ID, "role", u.Role)
	return u, nil
}

// RecordLogout audits the end of a session.
func (s *Service) RecordLogout(ctx context.Context, actor models.Actor) {
	s.audit.Log(ctx, actor, audit.ActionLoggedOut, audit.ResourceUser, actor.UserID, nil)
}

// Profile returns the actor's own user record.
func (s *Service) Profile(ctx context.Context, actor models.Actor) (*models.User, error) {
	if err := s.authz.Authorize(actor, authz.ObjProfile, authz.ActRead); err != nil {
		return nil, err
	}
	u, err := s.store.GetUser(ctx, actor.UserID)
	if err != nil {
		return nil, s.storeErr(err, "failed to load user")
	}
	s.audit.Log(ctx, actor, audit.ActionAccessedProfile, audit.ResourceUser, u.ID, nil)
	return u, nil
}
