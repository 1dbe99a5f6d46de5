// Package authz decides which roles may perform which ledger operations.
// The capability table is a Casbin RBAC policy; the embedded default can be
// replaced with a CSV file at startup.
package authz

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/metrics"
	"github.com/caseledger/custody-server/internal/models"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
)

//go:embed model.conf
var embeddedModel string

//go:embed policy.csv
var embeddedPolicy string

// Object is a protected resource kind.
type Object string

const (
	ObjProfile   Object = "profile"
	ObjStats     Object = "stats"
	ObjCase      Object = "case"
	ObjEvidence  Object = "evidence"
	ObjCustody   Object = "custody"
	ObjAnalysis  Object = "analysis"
	ObjAudit     Object = "audit"
	ObjIntegrity Object = "integrity"
)

// Action is an operation on an Object.
type Action string

const (
	ActRead         Action = "read"
	ActCreate       Action = "create"
	ActUpdateStatus Action = "update_status"
	ActDelete       Action = "delete"
	ActAppend       Action = "append"
	ActVerify       Action = "verify"
	ActExport       Action = "export"
)

// Authorizer wraps a synced Casbin enforcer.
type Authorizer struct {
	enforcer *casbin.SyncedEnforcer
}

// New loads the embedded model and either the embedded policy or, when
// policyPath is non-empty, the CSV policy at that path.
func New(policyPath string) (*Authorizer, error) {
	m, err := model.NewModelFromString(embeddedModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}

	var enforcer *casbin.SyncedEnforcer
	if policyPath != "" {
		if _, statErr := os.Stat(policyPath); statErr != nil {
			return nil, fmt.Errorf("policy file: %w", statErr)
		}
		enforcer, err = casbin.NewSyncedEnforcer(m, fileadapter.NewAdapter(policyPath))
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m, stringadapter.NewAdapter(embeddedPolicy))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	return &Authorizer{enforcer: enforcer}, nil
}

// Allowed reports whether role may perform act on obj. Unknown roles and
// enforcement errors deny.
func (a *Authorizer) Allowed(role models.Role, obj Object, act Action) bool {
	if !role.Valid() {
		return false
	}
	ok, err := a.enforcer.Enforce(string(role), string(obj), string(act))
	return err == nil && ok
}

// Authorize returns a FORBIDDEN error when the actor's role lacks the
// capability, and records the denial.
func (a *Authorizer) Authorize(actor models.Actor, obj Object, act Action) error {
	if a.Allowed(actor.Role, obj, act) {
		return nil
	}
	metrics.RecordDenied(string(actor.Role), string(obj), string(act))
	return apperr.ErrForbidden.WithMessagef("role %q may not %s %s", actor.Role, act, obj)
}
