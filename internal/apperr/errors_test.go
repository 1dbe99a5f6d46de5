package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := apperr.ErrNotFound.WithMessage("case not found")
	require.True(t, errors.Is(err, apperr.ErrNotFound))
	require.False(t, errors.Is(err, apperr.ErrConflict))

	wrapped := fmt.Errorf("handler: %w", err)
	require.True(t, errors.Is(wrapped, apperr.ErrNotFound))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(wrapped))
}

func TestError_WithMessageLeavesBaseUntouched(t *testing.T) {
	e := apperr.ErrConflict.WithMessagef("case number %q already exists", "C-1")
	assert.Equal(t, `CONFLICT: case number "C-1" already exists`, e.Error())
	assert.Empty(t, apperr.ErrConflict.Message)
}

func TestKindOf_ForeignErrorIsInternal(t *testing.T) {
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(errors.New("boom")))
	assert.Equal(t, apperr.Kind(""), apperr.KindOf(nil))
}

func TestEnsure(t *testing.T) {
	assert.NoError(t, apperr.Ensure(nil, "x"))

	ae := apperr.ErrForbidden.WithMessage("no")
	assert.Same(t, ae, apperr.Ensure(ae, "x"))

	raw := errors.New("connection reset")
	got := apperr.Ensure(raw, "list cases")
	require.True(t, errors.Is(got, apperr.ErrInternal))
	assert.ErrorIs(t, got, raw)
}

func TestHTTPStatus(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindInvalidInput: http.StatusBadRequest,
		apperr.KindUnauthorized: http.StatusUnauthorized,
		apperr.KindForbidden:    http.StatusForbidden,
		apperr.KindNotFound:     http.StatusNotFound,
		apperr.KindConflict:     http.StatusConflict,
		apperr.KindInternal:     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, apperr.HTTPStatus(kind), kind)
	}
}

func TestPublicMessage_HidesInternalCause(t *testing.T) {
	err := apperr.Internal(errors.New("pq: password authentication failed"), "insert case")
	assert.Equal(t, "Internal server error", apperr.PublicMessage(err))
	assert.Equal(t, "Status is required", apperr.PublicMessage(apperr.ErrInvalidInput.WithMessage("Status is required")))
	assert.Equal(t, "FORBIDDEN", apperr.PublicMessage(apperr.ErrForbidden))
}
