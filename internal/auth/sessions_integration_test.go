//go:build integration

package auth

import (
	"context"
	"testing"
	"time"

	"github.com/caseledger/custody-server/internal/apperr"
	"github.com/caseledger/custody-server/internal/testinfra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSessions(t *testing.T) {
	url := testinfra.StartRedis(t)
	ctx := context.Background()

	s, err := NewRedisSessions(ctx, url, time.Second)
	require.NoError(t, err)
	defer s.Close()

	sid, err := s.Create(ctx, "u1")
	require.NoError(t, err)

	userID, err := s.Lookup(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	require.NoError(t, s.Delete(ctx, sid))
	_, err = s.Lookup(ctx, sid)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)

	sid, err = s.Create(ctx, "u2")
	require.NoError(t, err)
	time.Sleep(1500 * time.Millisecond)
	_, err = s.Lookup(ctx, sid)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}
