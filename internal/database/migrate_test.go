package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)

	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
	assert.Equal(t, "0001_core.sql", names[0])
}

func TestTenantTablesHavePolicies(t *testing.T) {
	body, err := migrationFS.ReadFile("migrations/0002_tenant_isolation.sql")
	require.NoError(t, err)

	for _, table := range []string{
		"customers", "tiers", "ledger_entries", "stamp_cards", "stamp_events",
		"sync_queue_items", "webhook_endpoints", "webhook_deliveries", "rewards", "redemptions",
	} {
		assert.Contains(t, string(body), "ON "+table+" ", "missing policy for %s", table)
	}
}
