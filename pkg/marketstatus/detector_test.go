package marketstatus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/tradevault/tickstream/pkg/feed"
	"github.com/tradevault/tickstream/pkg/models"
)

type fakeHistorical struct {
	bars []models.Bar
	err  error

	calls      int
	lastParams feed.RangeParams
}

func (f *fakeHistorical) RangeQuery(ctx context.Context, params feed.RangeParams) ([]models.Bar, error) {
	f.calls++
	f.lastParams = params
	return f.bars, f.err
}

func (f *fakeHistorical) Snapshot(ctx context.Context, syms []string, lookback time.Duration) ([]models.SnapshotPrice, error) {
	return feed.LatestCloses(f.bars), f.err
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func barAt(sym string, age time.Duration, now time.Time) models.Bar {
	return models.Bar{Symbol: sym, Close: 4500, EventTime: now.Add(-age)}
}

func TestIsOpen(t *testing.T) {
	now := time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC)

	testCases := []struct {
		name       string
		symbols    []string
		hist       *fakeHistorical
		cfg        Config
		wantOpen   bool
		wantReason string
	}{
		{
			name:       "fresh bars mean open",
			symbols:    []string{"ES"},
			hist:       &fakeHistorical{bars: []models.Bar{barAt("ES.FUT", 5*time.Minute, now)}},
			cfg:        Config{},
			wantOpen:   true,
			wantReason: ReasonRecentData,
		},
		{
			name:       "stale bars mean closed in strict mode",
			symbols:    []string{"ES"},
			hist:       &fakeHistorical{bars: []models.Bar{barAt("ES.FUT", 45*time.Minute, now)}},
			cfg:        Config{},
			wantOpen:   false,
			wantReason: ReasonMarketClosed,
		},
		{
			name:       "stale bars stay open in permissive mode",
			symbols:    []string{"ES"},
			hist:       &fakeHistorical{bars: []models.Bar{barAt("ES.FUT", 45*time.Minute, now)}},
			cfg:        Config{Permissive: true},
			wantOpen:   true,
			wantReason: ReasonPermissiveStaleData,
		},
		{
			name:       "no bars at all means closed",
			symbols:    []string{"ES"},
			hist:       &fakeHistorical{},
			cfg:        Config{},
			wantOpen:   false,
			wantReason: ReasonMarketClosed,
		},
		{
			name:       "no bars in permissive mode stays open",
			symbols:    []string{"ES"},
			hist:       &fakeHistorical{},
			cfg:        Config{Permissive: true},
			wantOpen:   true,
			wantReason: ReasonPermissiveNoData,
		},
		{
			name:       "empty symbol set yields a deterministic reason",
			symbols:    nil,
			hist:       &fakeHistorical{},
			cfg:        Config{},
			wantOpen:   false,
			wantReason: ReasonNoSymbols,
		},
		{
			name:       "provider error fails closed in strict mode",
			symbols:    []string{"ES"},
			hist:       &fakeHistorical{err: errors.New("boom")},
			cfg:        Config{},
			wantOpen:   false,
			wantReason: ReasonQueryError,
		},
		{
			name:       "provider error fails open in permissive mode",
			symbols:    []string{"ES"},
			hist:       &fakeHistorical{err: errors.New("boom")},
			cfg:        Config{Permissive: true},
			wantOpen:   true,
			wantReason: ReasonPermissiveError,
		},
		{
			name:       "missing credential is reported as such",
			symbols:    []string{"ES"},
			hist:       &fakeHistorical{err: feed.ErrMissingCredential},
			cfg:        Config{Permissive: true},
			wantOpen:   false,
			wantReason: ReasonNoAPIKey,
		},
		{
			name:       "custom staleness threshold is honored",
			symbols:    []string{"ES"},
			hist:       &fakeHistorical{bars: []models.Bar{barAt("ES.FUT", 45*time.Minute, now)}},
			cfg:        Config{StaleAfter: 60 * time.Minute},
			wantOpen:   true,
			wantReason: ReasonRecentData,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewDetector(tc.hist, tc.cfg, testLogger())
			d.now = func() time.Time { return now }

			status := d.IsOpen(context.Background(), tc.symbols)
			assert.Equal(t, tc.wantOpen, status.Open)
			assert.Equal(t, tc.wantReason, status.Reason)
			assert.NotEmpty(t, status.Reason, "every input must yield a reason")
		})
	}
}

func TestIsOpenQueriesExpandedVariants(t *testing.T) {
	now := time.Now().UTC()
	hist := &fakeHistorical{bars: []models.Bar{barAt("ES.FUT", time.Minute, now)}}

	d := NewDetector(hist, Config{}, testLogger())
	d.IsOpen(context.Background(), []string{"ESZ5"})

	assert.Equal(t, 1, hist.calls)
	assert.Equal(t, []string{"ESZ5", "ES.FUT"}, hist.lastParams.Symbols)
	assert.Equal(t, "ohlcv-1m", hist.lastParams.Schema)
}
