package engine

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"go.uber.org/goleak"

	"github.com/ternarybob/entitle/internal/common"
	"github.com/ternarybob/entitle/internal/interfaces"
	"github.com/ternarybob/entitle/internal/models"
	"github.com/ternarybob/entitle/internal/remote"
	"github.com/ternarybob/entitle/internal/remote/remotetest"
	"github.com/ternarybob/entitle/internal/session"
	"github.com/ternarybob/entitle/internal/storage/flatfile"
)

type mockOrderStorage struct {
	mock.Mock
}

func (m *mockOrderStorage) SaveReport(ctx context.Context, report *models.ResultReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *mockOrderStorage) GetReport(ctx context.Context, orderID string) (*models.ResultReport, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(*models.ResultReport), args.Error(1)
}

func (m *mockOrderStorage) ListReports(ctx context.Context, limit int) ([]models.OrderRecord, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.OrderRecord), args.Error(1)
}

func (m *mockOrderStorage) DeleteReport(ctx context.Context, orderID string) error {
	return m.Called(ctx, orderID).Error(0)
}

type harness struct {
	srv       *remotetest.Server
	store     interfaces.CredentialStore
	dataDir   string
	deps      Dependencies
	cfg       common.EngineConfig
	logger    arbor.ILogger
	transport *http.Transport
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := arbor.NewLogger()
	dataDir := t.TempDir()
	store, err := flatfile.NewCredentialStore(dataDir, logger)
	require.NoError(t, err)

	srv := remotetest.NewServer()
	srv.AddInvite("abc", "res-1")

	transport := &http.Transport{}
	client := remote.NewClient(srv.URL,
		remote.WithHTTPClient(&http.Client{Transport: transport, Timeout: 5 * time.Second}),
		remote.WithRateLimit(0),
		remote.WithLogger(logger),
	)

	h := &harness{
		srv:     srv,
		store:   store,
		dataDir: dataDir,
		deps: Dependencies{
			Store:      store,
			Resolver:   client,
			Sessions:   session.NewFactory(client, logger),
			Customizer: NewCustomizer(common.CustomizationConfig{}, logger),
		},
		cfg:       common.EngineConfig{MaxWorkers: 30, MaxRetries: 3, OpsPerCredential: 2},
		logger:    logger,
		transport: transport,
	}
	t.Cleanup(func() {
		srv.Close()
		transport.CloseIdleConnections()
	})
	return h
}

func (h *harness) stock(t *testing.T, lines ...string) {
	t.Helper()
	_, err := h.store.Add(lines, models.DurationOneMonth)
	require.NoError(t, err)
}

func (h *harness) run(req *models.WorkRequest) *models.ResultReport {
	return NewOrchestrator(h.deps, h.cfg, h.logger).Run(context.Background(), req)
}

func (h *harness) fileLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.dataDir, "1m_tokens.txt"))
	require.NoError(t, err)
	if len(data) == 0 {
		return nil
	}
	return strings.Split(string(data), "\n")
}

func oneMonth(ops int) *models.WorkRequest {
	return &models.WorkRequest{Target: "https://example.test/abc", DurationClass: models.DurationOneMonth, Operations: ops}
}

func TestRun_CapacityFullyConsumed(t *testing.T) {
	h := newHarness(t)
	h.srv.AddAccount("tok-a", remotetest.Account{Slots: remotetest.FreshSlots("a", 2)})
	h.stock(t, "tok-a")

	orders := &mockOrderStorage{}
	orders.On("SaveReport", mock.Anything, mock.AnythingOfType("*models.ResultReport")).Return(nil).Once()
	h.deps.Orders = orders

	report := h.run(oneMonth(2))

	assert.True(t, report.Success)
	assert.Equal(t, 2, report.TotalOperations)
	assert.Equal(t, 2, report.ExpectedOperations)
	assert.Equal(t, []string{"tok-a"}, report.Tokens.Success)
	assert.Empty(t, report.Tokens.Failed)
	assert.Equal(t, "res-1", report.Request.ResourceID)
	assert.Equal(t, "Completed 2/2 operations", report.Message)
	assert.Equal(t, models.ThreadStats{Total: 1, Completed: 1, Succeeded: 1}, report.Threads)
	assert.NotEmpty(t, report.OrderID)
	assert.False(t, report.EndedAt.Before(report.StartedAt))

	info, err := h.store.Stock(models.DurationOneMonth)
	require.NoError(t, err)
	assert.Equal(t, models.StockInfo{}, info)
	assert.Nil(t, h.fileLines(t))

	orders.AssertExpectations(t)
}

func TestRun_EmptyStockFailsPreFlight(t *testing.T) {
	h := newHarness(t)

	report := h.run(oneMonth(2))

	assert.False(t, report.Success)
	assert.Contains(t, report.Error, "insufficient stock")
	assert.Contains(t, report.Error, "Required: 1x, Available: 0x")
	assert.Equal(t, 0, report.Threads.Total)
	assert.Equal(t, 0, h.srv.Counters().Identity)
}

func TestRun_BeforeDispatchSkippedOnPreFlightFailure(t *testing.T) {
	h := newHarness(t)
	var calls int
	h.deps.BeforeDispatch = func(ctx context.Context, orderID string) error {
		calls++
		return nil
	}

	report := h.run(oneMonth(2))
	assert.False(t, report.Success)
	assert.Contains(t, report.Error, "insufficient stock")

	bad := oneMonth(2)
	bad.Target = "nope"
	h.stock(t, "tok-a")
	report = h.run(bad)
	assert.False(t, report.Success)
	assert.Contains(t, report.Error, "invalid target")

	assert.Equal(t, 0, calls)
}

func TestRun_BeforeDispatchErrorReturnsReservation(t *testing.T) {
	h := newHarness(t)
	h.srv.AddAccount("tok-a", remotetest.Account{Slots: remotetest.FreshSlots("a", 2)})
	h.srv.AddAccount("tok-b", remotetest.Account{Slots: remotetest.FreshSlots("b", 2)})
	h.stock(t, "tok-a", "tok-b")

	refused := errors.New("key already spent")
	var seen string
	h.deps.BeforeDispatch = func(ctx context.Context, orderID string) error {
		seen = orderID
		return refused
	}

	req := oneMonth(4)
	req.OrderID = "ORDER001"
	report := h.run(req)

	assert.False(t, report.Success)
	assert.Equal(t, refused.Error(), report.Error)
	assert.Equal(t, "ORDER001", seen)
	assert.Equal(t, 0, report.TotalOperations)
	assert.Equal(t, 0, h.srv.Counters().Identity)

	info, err := h.store.Stock(models.DurationOneMonth)
	require.NoError(t, err)
	assert.Equal(t, models.StockInfo{Available: 2, InUse: 0, Total: 2}, info)
	assert.ElementsMatch(t, []string{"tok-a", "tok-b"}, h.fileLines(t))
}

func TestRun_BeforeDispatchAllowsRun(t *testing.T) {
	h := newHarness(t)
	h.srv.AddAccount("tok-a", remotetest.Account{Slots: remotetest.FreshSlots("a", 2)})
	h.stock(t, "tok-a")

	var calls int
	h.deps.BeforeDispatch = func(ctx context.Context, orderID string) error {
		calls++
		info, err := h.store.Stock(models.DurationOneMonth)
		require.NoError(t, err)
		assert.Equal(t, 1, info.InUse)
		return nil
	}

	report := h.run(oneMonth(2))
	assert.True(t, report.Success)
	assert.Equal(t, 1, calls)
}

func TestNewOrchestrator_CapsOpsPerCredential(t *testing.T) {
	h := newHarness(t)
	h.srv.AddAccount("tok-a", remotetest.Account{Slots: remotetest.FreshSlots("a", 2)})
	h.srv.AddAccount("tok-b", remotetest.Account{Slots: remotetest.FreshSlots("b", 2)})
	h.stock(t, "tok-a", "tok-b")
	h.cfg.OpsPerCredential = 5

	report := h.run(oneMonth(4))

	assert.True(t, report.Success)
	assert.Equal(t, 4, report.TotalOperations)
	assert.Equal(t, 2, report.Threads.Total)
	assert.ElementsMatch(t, []string{"tok-a", "tok-b"}, report.Tokens.Success)
}

func TestRun_RateLimitedSecondGrant(t *testing.T) {
	h := newHarness(t)
	h.srv.AddAccount("tok-a", remotetest.Account{
		Slots:         remotetest.FreshSlots("a", 2),
		GrantStatuses: []int{http.StatusCreated, http.StatusTooManyRequests, http.StatusTooManyRequests},
		RetryAfter:    "3",
	})
	h.stock(t, "tok-a")

	report := h.run(oneMonth(2))

	assert.False(t, report.Success)
	assert.Equal(t, 1, report.TotalOperations)
	assert.Equal(t, []string{"tok-a"}, report.Tokens.Success)
	require.NotEmpty(t, report.RateLimits)
	assert.Equal(t, 3*time.Second, report.RateLimits[0].RetryAfter)
	assert.Equal(t, "a-1", report.RateLimits[0].SlotID)
	assert.Equal(t, models.UnitPartial, report.Units[0].Status)
	assert.Contains(t, report.Error, "1 remaining")

	// The slot that was rate limited is still capacity: the credential goes back to the store
	info, err := h.store.Stock(models.DurationOneMonth)
	require.NoError(t, err)
	assert.Equal(t, models.StockInfo{Available: 1, InUse: 0, Total: 1}, info)
}

func TestRun_QuotaMetLeftoverReturned(t *testing.T) {
	h := newHarness(t)
	h.srv.AddAccount("tok-a", remotetest.Account{Slots: remotetest.FreshSlots("a", 2)})
	h.stock(t, "mail:pw:tok-a")

	report := h.run(oneMonth(1))

	assert.True(t, report.Success)
	assert.Equal(t, 1, report.TotalOperations)
	assert.Equal(t, 1, h.srv.Counters().Grants)
	assert.Equal(t, []string{"mail:pw:tok-a || remaining slots: 1"}, h.fileLines(t))
}

func TestRun_ChallengeRespectsRetryBudget(t *testing.T) {
	h := newHarness(t)
	var lines []string
	for _, c := range []string{"c1", "c2", "c3", "c4", "c5"} {
		h.srv.AddAccount(c, remotetest.Account{Slots: remotetest.FreshSlots(c, 2), JoinChallenge: true})
		lines = append(lines, c)
	}
	h.stock(t, lines...)

	report := h.run(oneMonth(1))

	assert.False(t, report.Success)
	assert.Equal(t, 0, report.TotalOperations)
	assert.Equal(t, 3, h.srv.Counters().Joins)
	assert.Len(t, report.Tokens.Challenge, 3)
	assert.ElementsMatch(t, report.Tokens.Challenge, report.Tokens.Failed)
	assert.Equal(t, models.UnitFailed, report.Units[0].Status)
	assert.Equal(t, 3, report.Units[0].TokensUsed)

	// Challenge-blocked credentials are kept
	info, err := h.store.Stock(models.DurationOneMonth)
	require.NoError(t, err)
	assert.Equal(t, models.StockInfo{Available: 5, InUse: 0, Total: 5}, info)
}

func TestRun_InvalidCredentialRemoved(t *testing.T) {
	h := newHarness(t)
	h.srv.AddAccount("dead", remotetest.Account{Invalid: true})
	h.srv.AddAccount("good", remotetest.Account{Slots: remotetest.FreshSlots("g", 2)})
	h.stock(t, "dead", "good")

	report := h.run(oneMonth(4))

	assert.False(t, report.Success)
	assert.Equal(t, 2, report.TotalOperations)
	assert.Equal(t, []string{"dead"}, report.Tokens.Invalid)
	assert.Equal(t, []string{"good"}, report.Tokens.Success)
	assert.Equal(t, models.ThreadStats{Total: 2, Completed: 2, Succeeded: 1, Failed: 1}, report.Threads)

	info, err := h.store.Stock(models.DurationOneMonth)
	require.NoError(t, err)
	assert.Equal(t, 0, info.Total)
}

func TestRun_NoCapacityKeptInStore(t *testing.T) {
	h := newHarness(t)
	h.srv.AddAccount("spent", remotetest.Account{Slots: []models.Slot{{ID: "x", Canceled: true}}})
	h.stock(t, "spent")

	report := h.run(oneMonth(2))

	assert.False(t, report.Success)
	assert.Equal(t, []string{"spent"}, report.Tokens.NoCapacity)
	assert.Equal(t, []string{"spent || failed: no_capacity"}, h.fileLines(t))
}

func TestRun_ExplicitCredentialsSingleAttempt(t *testing.T) {
	h := newHarness(t)
	h.srv.AddAccount("e1", remotetest.Account{Slots: remotetest.FreshSlots("e1", 2), JoinChallenge: true})
	h.srv.AddAccount("e2", remotetest.Account{Slots: remotetest.FreshSlots("e2", 2)})

	req := oneMonth(2)
	req.ResourceID = "res-1"
	req.Credentials = []string{"x:y:e1", "e2"}

	report := h.run(req)

	assert.False(t, report.Success)
	assert.Equal(t, 1, h.srv.Counters().Joins)
	assert.Equal(t, []string{"e1"}, report.Tokens.Challenge)

	// The store is never touched for explicit lists
	_, err := os.Stat(filepath.Join(h.dataDir, "1m_tokens.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_ExplicitCredentialsShort(t *testing.T) {
	h := newHarness(t)
	req := oneMonth(5)
	req.Credentials = []string{"only-one"}

	report := h.run(req)

	assert.False(t, report.Success)
	assert.Contains(t, report.Error, "Required: 3x, Available: 1x")
}

func TestRun_PreFlightRejections(t *testing.T) {
	h := newHarness(t)
	h.stock(t, "tok")

	bad := h.run(&models.WorkRequest{Target: "abc", DurationClass: models.DurationClass(2), Operations: 0})
	assert.False(t, bad.Success)
	assert.Equal(t, models.ErrInvalidParameters.Error(), bad.Error)
	assert.Len(t, bad.Details, 2)

	unknown := h.run(&models.WorkRequest{Target: "nope", DurationClass: models.DurationOneMonth, Operations: 1})
	assert.False(t, unknown.Success)
	assert.Contains(t, unknown.Error, "unknown invite")

	info, err := h.store.Stock(models.DurationOneMonth)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Available)
}

func TestRun_SingleUse(t *testing.T) {
	h := newHarness(t)
	h.srv.AddAccount("tok", remotetest.Account{Slots: remotetest.FreshSlots("t", 2)})
	h.stock(t, "tok")

	orch := NewOrchestrator(h.deps, h.cfg, h.logger)
	first := orch.Run(context.Background(), oneMonth(2))
	assert.True(t, first.Success)

	second := orch.Run(context.Background(), oneMonth(2))
	assert.False(t, second.Success)
	assert.Equal(t, models.ErrOrchestratorUsed.Error(), second.Error)
}

func TestRun_ManyUnitsBoundedWorkers(t *testing.T) {
	h := newHarness(t)
	h.cfg.MaxWorkers = 5

	var lines []string
	for i := 0; i < 20; i++ {
		cred := "bulk-" + string(rune('a'+i))
		h.srv.AddAccount(cred, remotetest.Account{Slots: remotetest.FreshSlots(cred, 2)})
		lines = append(lines, cred)
	}
	h.stock(t, lines...)

	report := h.run(oneMonth(39))

	assert.True(t, report.Success)
	assert.Equal(t, 39, report.TotalOperations)
	assert.Len(t, report.Tokens.Success, 20)
	assert.Equal(t, 20, report.Threads.Total)
	assert.Equal(t, 20, report.Threads.Succeeded)

	info, err := h.store.Stock(models.DurationOneMonth)
	require.NoError(t, err)
	assert.Equal(t, models.StockInfo{Available: 1, InUse: 0, Total: 1}, info)
}

func TestRun_CustomizationApplied(t *testing.T) {
	h := newHarness(t)
	h.srv.AddAccount("tok", remotetest.Account{Slots: remotetest.FreshSlots("t", 2)})
	h.stock(t, "tok")

	req := oneMonth(2)
	req.Customization = &models.Customization{Nickname: "helper", Bio: "hi"}

	report := h.run(req)

	assert.True(t, report.Success)
	assert.Equal(t, 2, h.srv.Counters().Patches)
}

func TestRun_NoGoroutineLeak(t *testing.T) {
	h := newHarness(t)
	h.srv.AddAccount("tok", remotetest.Account{Slots: remotetest.FreshSlots("t", 2)})
	h.stock(t, "tok")

	opts := goleak.IgnoreCurrent()
	report := h.run(oneMonth(2))
	require.True(t, report.Success)

	h.transport.CloseIdleConnections()
	goleak.VerifyNone(t, opts)
}
