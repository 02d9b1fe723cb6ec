package app

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/entitle/internal/common"
	"github.com/ternarybob/entitle/internal/models"
	"github.com/ternarybob/entitle/internal/remote/remotetest"
)

func newTestApp(t *testing.T) (*App, *remotetest.Server) {
	t.Helper()

	srv := remotetest.NewServer()
	transport := &http.Transport{}
	t.Cleanup(func() {
		srv.Close()
		transport.CloseIdleConnections()
	})

	dir := t.TempDir()
	cfg := common.NewDefaultConfig()
	cfg.Remote.BaseURL = srv.URL
	cfg.Remote.RateLimit = 0
	cfg.Inventory.DataDir = dir
	cfg.Storage.Badger.Path = filepath.Join(dir, "db")
	cfg.Customization = common.CustomizationConfig{}

	a, err := New(cfg, arbor.NewLogger(), WithHTTPClient(&http.Client{Transport: transport, Timeout: 5 * time.Second}))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, srv
}

func TestApp_RedeemAndRun(t *testing.T) {
	a, srv := newTestApp(t)
	ctx := context.Background()

	srv.AddInvite("abc", "res-1")
	srv.AddAccount("tok-a", remotetest.Account{Slots: remotetest.FreshSlots("a", 2)})
	srv.AddAccount("tok-b", remotetest.Account{Slots: remotetest.FreshSlots("b", 2)})
	_, err := a.CredentialStore.Add([]string{"tok-a", "tok-b"}, models.DurationThreeMonths)
	require.NoError(t, err)

	issued, err := a.KeyService.Issue(ctx, models.DurationThreeMonths, 4, 1)
	require.NoError(t, err)

	report, err := a.RedeemAndRun(ctx, issued[0].Code, "abc", nil)
	require.NoError(t, err)
	assert.True(t, report.Success, report.Error)
	assert.Equal(t, 4, report.TotalOperations)
	assert.Equal(t, "res-1", report.Request.ResourceID)

	stored, err := a.StorageManager.OrderStorage().GetReport(ctx, report.OrderID)
	require.NoError(t, err)
	assert.Equal(t, report.TotalOperations, stored.TotalOperations)

	stock, err := a.CredentialStore.Stock(models.DurationThreeMonths)
	require.NoError(t, err)
	assert.Equal(t, 0, stock.Total)

	_, err = a.RedeemAndRun(ctx, issued[0].Code, "abc", nil)
	assert.ErrorIs(t, err, models.ErrKeyRedeemed)
}

func TestApp_RunOrderFailsPreflight(t *testing.T) {
	a, _ := newTestApp(t)

	report := a.RunOrder(context.Background(), &models.WorkRequest{Target: "abc", DurationClass: models.DurationOneMonth, Operations: 2, ResourceID: "res-1"})
	assert.False(t, report.Success)
	assert.Contains(t, report.Error, "insufficient stock")
}

func TestApp_RedeemAfterFailedPreflightKeepsKey(t *testing.T) {
	a, srv := newTestApp(t)
	ctx := context.Background()

	srv.AddInvite("abc", "res-1")
	issued, err := a.KeyService.Issue(ctx, models.DurationOneMonth, 2, 1)
	require.NoError(t, err)
	code := issued[0].Code

	// Empty stock: the order fails before dispatch
	report, err := a.RedeemAndRun(ctx, code, "abc", nil)
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.Contains(t, report.Error, "insufficient stock")

	// Unresolvable target
	report, err = a.RedeemAndRun(ctx, code, "nope", nil)
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.Contains(t, report.Error, "invalid target")

	stored, err := a.StorageManager.KeyStorage().GetKey(ctx, code)
	require.NoError(t, err)
	assert.False(t, stored.Redeemed)

	srv.AddAccount("tok-a", remotetest.Account{Slots: remotetest.FreshSlots("a", 2)})
	_, err = a.CredentialStore.Add([]string{"tok-a"}, models.DurationOneMonth)
	require.NoError(t, err)

	report, err = a.RedeemAndRun(ctx, code, "abc", nil)
	require.NoError(t, err)
	assert.True(t, report.Success, report.Error)
	assert.Equal(t, 2, report.TotalOperations)

	stored, err = a.StorageManager.KeyStorage().GetKey(ctx, code)
	require.NoError(t, err)
	assert.True(t, stored.Redeemed)
	assert.Equal(t, report.OrderID, stored.OrderID)

	_, err = a.RedeemAndRun(ctx, code, "abc", nil)
	assert.ErrorIs(t, err, models.ErrKeyRedeemed)
}

func TestApp_ReleaseLeavesStoreUntouched(t *testing.T) {
	a, srv := newTestApp(t)
	srv.AddAccount("tok-a", remotetest.Account{})
	srv.AddAccount("tok-b", remotetest.Account{LeaveStatus: http.StatusNotFound})
	_, err := a.CredentialStore.Add([]string{"tok-a", "tok-b"}, models.DurationOneMonth)
	require.NoError(t, err)

	report := a.Release(context.Background(), "res-1", []string{"tok-a", "tok-b"}, 0)

	assert.True(t, report.Success)
	assert.Equal(t, []string{"tok-a"}, report.Released.Tokens)
	assert.Equal(t, []string{"tok-b"}, report.Failed.Tokens)
	assert.Equal(t, 2, srv.Counters().Leaves)

	stock, err := a.CredentialStore.Stock(models.DurationOneMonth)
	require.NoError(t, err)
	assert.Equal(t, models.StockInfo{Available: 2, InUse: 0, Total: 2}, stock)
}
