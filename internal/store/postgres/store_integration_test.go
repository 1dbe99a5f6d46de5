//go:build integration

package postgres

import (
	"context"
	"testing"

	"github.com/caseledger/custody-server/internal/store"
	"github.com/caseledger/custody-server/internal/store/storetest"
	"github.com/caseledger/custody-server/internal/testinfra"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestStoreConformance(t *testing.T) {
	url := testinfra.StartPostgres(t)
	ctx := context.Background()

	storetest.Run(t, func(t *testing.T) store.Store {
		pool, err := pgxpool.New(ctx, url)
		require.NoError(t, err)

		s := New(pool)
		require.NoError(t, s.Migrate(ctx))
		// Every subtest starts from empty tables on the shared container.
		_, err = pool.Exec(ctx, `TRUNCATE users, cases, evidence, chain_of_custody, analysis_results, audit_logs CASCADE`)
		require.NoError(t, err)
		return s
	})
}

func TestCustodyRejectsUpdates(t *testing.T) {
	url := testinfra.StartPostgres(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	s := New(pool)
	defer s.Close()
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))

	_, err = pool.Exec(ctx, `INSERT INTO users(id, role, created_at, updated_at) VALUES('u1', 'admin', NOW(), NOW())`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO audit_logs(id, user_id, action, timestamp) VALUES('a1', 'u1', 'logged_in', NOW())`)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `UPDATE audit_logs SET action = 'tampered' WHERE id = 'a1'`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "append-only")
}
