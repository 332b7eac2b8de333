package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclob/polymirror/internal/domain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// --------------------------------------------------------------------------
// Credentials
// --------------------------------------------------------------------------

func TestCredentialsRoundTrip(t *testing.T) {
	s := NewCredentialsStore(newTestClient(t))
	ctx := context.Background()

	// First run: empty credentials, no error.
	creds, err := s.Get(ctx)
	require.NoError(t, err)
	assert.False(t, creds.Configured())

	err = s.Update(ctx, domain.Credentials{
		APIKey:        "key",
		APISecret:     "secret",
		APIPassphrase: "phrase",
		WalletAddress: "0xAAaa111111111111111111111111111111111111",
		PrivateKey:    "deadbeef",
	})
	require.NoError(t, err)

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "key", got.APIKey)
	// Addresses are stored lowercased.
	assert.Equal(t, "0xaaaa111111111111111111111111111111111111", got.WalletAddress)
	assert.True(t, got.Configured())
}

func TestCredentialsRejectInvalidAddress(t *testing.T) {
	s := NewCredentialsStore(newTestClient(t))

	err := s.Update(context.Background(), domain.Credentials{WalletAddress: "0x123"})
	assert.Error(t, err)
}

// --------------------------------------------------------------------------
// Tracked users
// --------------------------------------------------------------------------

func TestTrackedUserLifecycle(t *testing.T) {
	s := NewTrackedUserStore(newTestClient(t))
	ctx := context.Background()
	addr := "0xbbbb111111111111111111111111111111111111"

	require.NoError(t, s.Upsert(ctx, domain.TrackedUser{Address: addr, Label: "whale", Active: true}))

	u, err := s.Get(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, "whale", u.Label)
	assert.True(t, u.Active)

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	// Deleting an active user is refused.
	require.Error(t, s.Delete(ctx, addr))

	// Archive, then delete.
	require.NoError(t, s.SetActive(ctx, addr, false))
	active, err = s.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, s.Delete(ctx, addr))
	_, err = s.Get(ctx, addr)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestTrackedUserUpsertIsIdempotent(t *testing.T) {
	s := NewTrackedUserStore(newTestClient(t))
	ctx := context.Background()
	addr := "0xcccc111111111111111111111111111111111111"

	require.NoError(t, s.Upsert(ctx, domain.TrackedUser{Address: addr, Label: "v1", Active: true}))
	require.NoError(t, s.Upsert(ctx, domain.TrackedUser{Address: addr, Label: "v2", Active: true}))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "v2", all[0].Label)
}

// --------------------------------------------------------------------------
// Copy settings
// --------------------------------------------------------------------------

func TestCopySettingsDefaultsAndUpdate(t *testing.T) {
	s := NewCopySettingsStore(newTestClient(t))
	ctx := context.Background()

	got, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SizingFixed, got.SizingMode)
	assert.False(t, got.Enabled)

	want := domain.CopySettings{
		SizingMode:         domain.SizingPercentage,
		FixedAmount:        dec("25"),
		ProportionalFactor: dec("0.5"),
		Percentage:         dec("10"),
		Enabled:            true,
	}
	require.NoError(t, s.Update(ctx, want))

	got, err = s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SizingPercentage, got.SizingMode)
	assert.True(t, got.Percentage.Equal(dec("10")))
	assert.True(t, got.Enabled)
}

func TestCopySettingsValidation(t *testing.T) {
	s := NewCopySettingsStore(newTestClient(t))

	bad := domain.DefaultCopySettings()
	bad.Percentage = dec("150")
	assert.Error(t, s.Update(context.Background(), bad))

	bad = domain.DefaultCopySettings()
	bad.FixedAmount = decimal.Zero
	assert.Error(t, s.Update(context.Background(), bad))
}

// --------------------------------------------------------------------------
// Copy trades
// --------------------------------------------------------------------------

func sampleCopyTrade(originalID string) domain.CopyTrade {
	return domain.CopyTrade{
		SourceAddress:   "0xdddd111111111111111111111111111111111111",
		OriginalTradeID: originalID,
		AssetID:         "tok-1",
		Side:            domain.Buy,
		OriginalSize:    dec("100"),
		OriginalPrice:   dec("0.62"),
		CopySize:        dec("16.12"),
		Status:          domain.CopyTradeExecuted,
		Title:           "Will BTC close above 100k?",
		Outcome:         "Yes",
	}
}

func TestCopyTradeInsertIsIdempotent(t *testing.T) {
	s := NewCopyTradeStore(newTestClient(t))
	ctx := context.Background()

	first, err := s.Insert(ctx, sampleCopyTrade("0xhash1"))
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	// Same original trade again: no new row, existing one returned.
	dup := sampleCopyTrade("0xhash1")
	dup.Status = domain.CopyTradeFailed
	second, err := s.Insert(ctx, dup)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domain.CopyTradeExecuted, second.Status)

	exists, err := s.Exists(ctx, "0xhash1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.Exists(ctx, "0xhash2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCopyTradeRetryTransition(t *testing.T) {
	s := NewCopyTradeStore(newTestClient(t))
	ctx := context.Background()

	ct := sampleCopyTrade("0xhash3")
	ct.Status = domain.CopyTradeFailed
	ct.ErrorMessage = "order rejected"
	stored, err := s.Insert(ctx, ct)
	require.NoError(t, err)

	now := time.Now().UTC()
	stored.Status = domain.CopyTradeExecuted
	stored.ErrorMessage = ""
	stored.ExecutedAt = &now
	require.NoError(t, s.Update(ctx, stored))

	got, err := s.Get(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CopyTradeExecuted, got.Status)
	assert.Empty(t, got.ErrorMessage)
	require.NotNil(t, got.ExecutedAt)
}

func TestCopyTradeListAndPrune(t *testing.T) {
	s := NewCopyTradeStore(newTestClient(t))
	ctx := context.Background()

	for _, id := range []string{"0xa", "0xb", "0xc"} {
		_, err := s.Insert(ctx, sampleCopyTrade(id))
		require.NoError(t, err)
	}

	all, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := s.List(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	// Everything is newer than a cutoff in the past.
	old, err := s.ListBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, old)

	n, err := s.DeleteBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

// --------------------------------------------------------------------------
// Strategies, events, positions, trades
// --------------------------------------------------------------------------

func TestStrategyCRUDAndStatus(t *testing.T) {
	s := NewStrategyStore(newTestClient(t))
	ctx := context.Background()

	st, err := s.Create(ctx, domain.Strategy{
		Name:      "btc-time-decay",
		Type:      domain.StrategyTypeTimeDecay,
		Config:    map[string]any{"threshold": 0.95, "orderSize": 10},
		PaperMode: true,
	})
	require.NoError(t, err)
	require.NotZero(t, st.ID)
	assert.Equal(t, domain.StrategyStopped, st.Status)
	assert.EqualValues(t, 0.95, st.Config["threshold"])

	require.NoError(t, s.UpdateStatus(ctx, st.ID, domain.StrategyRunning))

	running, err := s.ListByStatus(ctx, domain.StrategyRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, st.ID, running[0].ID)

	st.Name = "renamed"
	st.Status = domain.StrategyRunning
	require.NoError(t, s.Update(ctx, st))

	got, err := s.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)

	require.NoError(t, s.Delete(ctx, st.ID))
	_, err = s.Get(ctx, st.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestStrategyEventsAppendOnly(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	st, err := NewStrategyStore(c).Create(ctx, domain.Strategy{Name: "s", Type: domain.StrategyTypeTimeDecay})
	require.NoError(t, err)

	events := NewStrategyEventStore(c)
	for _, msg := range []string{"started", "signal fired", "order placed"} {
		require.NoError(t, events.Append(ctx, domain.StrategyEvent{
			StrategyID: st.ID,
			Type:       domain.EventInfo,
			Message:    msg,
			Metadata:   map[string]any{"k": "v"},
		}))
	}

	got, err := events.List(ctx, st.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	// Newest first.
	assert.Equal(t, "order placed", got[0].Message)
	assert.Equal(t, "v", got[0].Metadata["k"])
}

func TestPositionUpsertUniquePerStrategyToken(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	st, err := NewStrategyStore(c).Create(ctx, domain.Strategy{Name: "s", Type: domain.StrategyTypeTimeDecay})
	require.NoError(t, err)

	positions := NewPositionStore(c)

	pos, err := positions.Upsert(ctx, domain.Position{
		StrategyID: st.ID, TokenID: "tok-1", Side: domain.PositionYes,
		Size: dec("10"), AvgPrice: dec("0.60"), CurrentPrice: dec("0.60"),
	})
	require.NoError(t, err)

	// Second upsert replaces, does not duplicate.
	pos.Size = dec("20")
	pos.AvgPrice = dec("0.65")
	_, err = positions.Upsert(ctx, pos)
	require.NoError(t, err)

	all, err := positions.ListByStrategy(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].Size.Equal(dec("20")))
	assert.True(t, all[0].AvgPrice.Equal(dec("0.65")))

	_, err = positions.Get(ctx, st.ID, "tok-missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestTradeInsertAndUpdate(t *testing.T) {
	s := NewTradeStore(newTestClient(t))
	ctx := context.Background()

	tr, err := s.Insert(ctx, domain.Trade{
		StrategyID: 1,
		AssetID:    "tok-1",
		Side:       domain.Buy,
		Price:      dec("0.97"),
		Size:       dec("10.3"),
		Status:     domain.TradePending,
		Title:      "BTC above 100k?",
		Outcome:    "Yes",
	})
	require.NoError(t, err)
	require.NotZero(t, tr.ID)

	tr.Status = domain.TradeSubmitted
	tr.OrderID = "order-123"
	require.NoError(t, s.Update(ctx, tr))

	got, err := s.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeSubmitted, got.Status)
	assert.Equal(t, "order-123", got.OrderID)
	assert.Nil(t, got.PnL)
	assert.True(t, got.Price.Equal(dec("0.97")))

	byStrategy, err := s.ListByStrategy(ctx, 1, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, byStrategy, 1)
}
