// Package marketstatus decides whether a market is currently active for a
// symbol set by probing for recent historical bars.
package marketstatus

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradevault/tickstream/pkg/feed"
	"github.com/tradevault/tickstream/pkg/models"
	"github.com/tradevault/tickstream/pkg/symbols"
)

// Reason codes returned by the detector. Every input yields a reason,
// including empty symbol sets and provider failures.
const (
	ReasonRecentData          = "recent_data"
	ReasonMarketClosed        = "market_closed"
	ReasonNoSymbols           = "no_symbols"
	ReasonNoAPIKey            = "no_api_key"
	ReasonQueryError          = "query_error"
	ReasonPermissiveNoData    = "permissive_no_data"
	ReasonPermissiveStaleData = "permissive_stale_data"
	ReasonPermissiveError     = "permissive_error"
)

// Config holds the staleness policy. The threshold and the strict-vs-
// permissive default are deployment policy, not derivable invariants, so
// both are configuration.
type Config struct {
	Lookback     time.Duration
	StaleAfter   time.Duration
	QueryTimeout time.Duration
	Permissive   bool
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Lookback <= 0 {
		out.Lookback = 60 * time.Minute
	}
	if out.StaleAfter <= 0 {
		out.StaleAfter = 15 * time.Minute
	}
	if out.QueryTimeout <= 0 {
		out.QueryTimeout = 10 * time.Second
	}
	return out
}

// Detector answers "is this market open right now" without ever blocking
// indefinitely or surfacing an error: the reply always carries a reason.
type Detector struct {
	hist   feed.HistoricalSource
	cfg    Config
	logger *logrus.Logger
	now    func() time.Time
}

func NewDetector(hist feed.HistoricalSource, cfg Config, logger *logrus.Logger) *Detector {
	return &Detector{hist: hist, cfg: cfg.withDefaults(), logger: logger, now: time.Now}
}

// IsOpen expands the symbol set, queries 1-minute bars over the lookback
// window and compares the freshest bar timestamp to the staleness threshold.
func (d *Detector) IsOpen(ctx context.Context, syms []string) models.MarketStatus {
	status := models.MarketStatus{Symbols: syms, Timestamp: d.now().UTC()}

	variants := symbols.ExpandAll(syms)
	if len(variants) == 0 {
		status.Open = d.cfg.Permissive
		status.Reason = ReasonNoSymbols
		return status
	}

	qctx, cancel := context.WithTimeout(ctx, d.cfg.QueryTimeout)
	defer cancel()

	end := d.now().UTC()
	bars, err := d.hist.RangeQuery(qctx, feed.RangeParams{
		Schema:  "ohlcv-1m",
		Symbols: variants,
		Start:   end.Add(-d.cfg.Lookback),
		End:     end,
	})
	if err != nil {
		if errors.Is(err, feed.ErrMissingCredential) {
			status.Open = false
			status.Reason = ReasonNoAPIKey
			return status
		}
		d.logger.WithError(err).Warn("Market status query failed")
		if d.cfg.Permissive {
			status.Open = true
			status.Reason = ReasonPermissiveError
		} else {
			status.Open = false
			status.Reason = ReasonQueryError
		}
		return status
	}

	var newest time.Time
	for _, b := range bars {
		if b.EventTime.After(newest) {
			newest = b.EventTime
		}
	}

	if newest.IsZero() {
		if d.cfg.Permissive {
			status.Open = true
			status.Reason = ReasonPermissiveNoData
		} else {
			status.Open = false
			status.Reason = ReasonMarketClosed
		}
		return status
	}

	if end.Sub(newest) <= d.cfg.StaleAfter {
		status.Open = true
		status.Reason = ReasonRecentData
		return status
	}

	if d.cfg.Permissive {
		status.Open = true
		status.Reason = ReasonPermissiveStaleData
	} else {
		status.Open = false
		status.Reason = ReasonMarketClosed
	}
	return status
}
