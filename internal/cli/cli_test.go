package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loyalcore/backend/internal/config"
	"github.com/loyalcore/backend/internal/ledger"
	"github.com/loyalcore/backend/internal/middleware"
	"github.com/loyalcore/backend/internal/sweepers"
)

type fakeBackend struct {
	expiry    sweepers.Stats
	tiers     sweepers.Stats
	requeued  int
	rec       *ledger.Reconciliation
	err       error
	closed    bool
	reconArgs [2]uuid.UUID
}

func (f *fakeBackend) SweepExpiry(context.Context) (sweepers.Stats, error) { return f.expiry, f.err }
func (f *fakeBackend) SweepTiers(context.Context) (sweepers.Stats, error) { return f.tiers, f.err }
func (f *fakeBackend) RedriveWebhooks(context.Context) (int, error) { return f.requeued, f.err }

func (f *fakeBackend) Reconcile(_ context.Context, tenantID, customerID uuid.UUID) (*ledger.Reconciliation, error) {
	f.reconArgs = [2]uuid.UUID{tenantID, customerID}
	return f.rec, f.err
}

func (f *fakeBackend) opener() Opener {
	return func(context.Context, *config.Config) (Backend, func(), error) {
		return f, func() { f.closed = true }, nil
	}
}

func execute(t *testing.T, open Opener, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSweepExpiry_Text(t *testing.T) {
	f := &fakeBackend{expiry: sweepers.Stats{Tenants: 2, Scanned: 10, Changed: 7, Skipped: 3}}

	out, err := execute(t, f.opener(), "sweep", "expiry")

	require.NoError(t, err)
	assert.Equal(t, "expiry sweep: tenants=2 scanned=10 changed=7 skipped=3 failed=0\n", out)
	assert.True(t, f.closed)
}

func TestSweepTiers_JSON(t *testing.T) {
	f := &fakeBackend{tiers: sweepers.Stats{Tenants: 1, Scanned: 4, Changed: 1}}

	out, err := execute(t, f.opener(), "--format", "json", "sweep", "tiers")

	require.NoError(t, err)
	var st sweepers.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, f.tiers, st)
}

func TestSweep_FailedItemsExitNonZero(t *testing.T) {
	f := &fakeBackend{expiry: sweepers.Stats{Tenants: 1, Scanned: 2, Changed: 1, Failed: 1}}

	out, err := execute(t, f.opener(), "sweep", "expiry")

	require.Error(t, err)
	assert.Contains(t, out, "failed=1")
}

func TestSweep_BackendError(t *testing.T) {
	f := &fakeBackend{err: errors.New("db down")}
	_, err := execute(t, f.opener(), "sweep", "tiers")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestWebhooksRedrive(t *testing.T) {
	f := &fakeBackend{requeued: 3}
	out, err := execute(t, f.opener(), "webhooks", "redrive")
	require.NoError(t, err)
	assert.Equal(t, "requeued 3 delivery(ies)\n", out)
}

func TestLedgerVerify(t *testing.T) {
	tenantID, customerID := uuid.New(), uuid.New()

	t.Run("consistent", func(t *testing.T) {
		f := &fakeBackend{rec: &ledger.Reconciliation{CustomerID: customerID, Balance: 40, LedgerSum: 40}}
		out, err := execute(t, f.opener(), "ledger", "verify", "--tenant", tenantID.String(), "--customer", customerID.String())
		require.NoError(t, err)
		assert.Contains(t, out, "balance=40 ledger=40")
		assert.Equal(t, [2]uuid.UUID{tenantID, customerID}, f.reconArgs)
	})

	t.Run("drift", func(t *testing.T) {
		f := &fakeBackend{rec: &ledger.Reconciliation{CustomerID: customerID, Balance: 40, LedgerSum: 35}}
		_, err := execute(t, f.opener(), "ledger", "verify", "--tenant", tenantID.String(), "--customer", customerID.String())
		assert.ErrorIs(t, err, ErrInconsistent)
	})

	t.Run("bad tenant", func(t *testing.T) {
		f := &fakeBackend{}
		_, err := execute(t, f.opener(), "ledger", "verify", "--tenant", "nope", "--customer", customerID.String())
		require.Error(t, err)
		assert.False(t, f.closed)
	})
}

func TestToken_IssuesVerifiableToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	tenantID := uuid.New()

	out, err := execute(t, nil, "token", "--tenant", tenantID.String(), "--staff", "ops", "--role", "cashier")
	require.NoError(t, err)

	staff, err := middleware.ParseStaffToken([]byte("cli-secret"), strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, tenantID, staff.TenantID)
	assert.Equal(t, "ops", staff.ID)
	assert.Equal(t, "cashier", staff.Role)
}

func TestInvalidFormat(t *testing.T) {
	f := &fakeBackend{}
	_, err := execute(t, f.opener(), "--format", "yaml", "sweep", "expiry")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.False(t, f.closed)
}
