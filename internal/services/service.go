// Package services implements the Case/Evidence Service: the only layer
// that mutates the Entity Store on behalf of a request. Every operation
// validates its input, checks the actor's role, touches the store and then
// writes its audit row.
package services

import (
	"time"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/audit"
	"github.com/caseledger/custody-server/internal/authz"
	"github.com/caseledger/custody-server/internal/custody"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/caseledger/custody-server/internal/store"
	"go.uber.org/zap"
)

// Authorizer decides role capabilities.
type Authorizer interface {
	Authorize(actor models.Actor, obj authz.Object, act authz.Action) error
}

// Options tunes a Service. Zero values use the wall clock and the server's
// local time zone.
type Options struct {
	Now      func() time.Time
	Location *time.Location
}

// Service handles case, evidence, custody, analysis and audit operations.
type Service struct {
	store   store.Store
	custody *custody.Engine
	audit   *audit.Logger
	authz   Authorizer
	logger  *zap.SugaredLogger
	now     func() time.Time
	loc     *time.Location
}

// New creates the service.
func New(s store.Store, authorizer Authorizer, logger *zap.SugaredLogger, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Service{
		store:   s,
		custody: custody.NewEngine(s),
		audit:   audit.NewLogger(s, logger, opts.Now),
		authz:   authorizer,
		logger:  logger,
		now:     opts.Now,
		loc:     opts.Location,
	}
}

// clock returns the current instant at the precision both stores keep.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// storeErr passes classified store errors through and turns anything else
// into a logged INTERNAL error.
func (s *Service) storeErr(err error, msg string) error {
	if apperr.KindOf(err) != apperr.KindInternal {
		return err
	}
	s.logger.Errorw(msg, "error", err)
	return apperr.Internal(err, msg)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
