// Package stream orchestrates one client connection: market-status check,
// live or historical branch, PnL derivation and event emission.
package stream

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradevault/tickstream/pkg/feed"
	"github.com/tradevault/tickstream/pkg/models"
	"github.com/tradevault/tickstream/pkg/pnl"
	"github.com/tradevault/tickstream/pkg/positions"
	"github.com/tradevault/tickstream/pkg/symbols"
)

// EventSink receives encoded stream events. A Send error means the client
// is gone and the session should wind down.
type EventSink interface {
	Send(v any) error
}

// Detector is the market-status collaborator.
type Detector interface {
	IsOpen(ctx context.Context, syms []string) models.MarketStatus
}

// PositionSource yields a user's open positions across sub-accounts.
type PositionSource interface {
	OpenPositions(ctx context.Context, userID string) ([]models.Position, error)
}

// RefData resolves contract details (cached, never failing).
type RefData interface {
	ContractDetails(ctx context.Context, contractID int64, flavor models.VenueFlavor) models.ContractDetails
}

// Config carries the feed parameters shared by every session.
type Config struct {
	Dataset          string
	Schema           string
	SymbolSType      string
	Flavor           models.VenueFlavor
	SnapshotLookback time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Dataset == "" {
		out.Dataset = "GLBX.MDP3"
	}
	if out.Schema == "" {
		out.Schema = "mbp-1"
	}
	if out.SymbolSType == "" {
		out.SymbolSType = "raw_symbol"
	}
	if out.Flavor == "" {
		out.Flavor = models.FlavorDemo
	}
	if out.SnapshotLookback <= 0 {
		out.SnapshotLookback = 24 * time.Hour
	}
	return out
}

// Service builds per-connection sessions from shared collaborators. The
// reference-data cache is the only state shared between connections; all
// subscription and symbol-mapping state lives inside the feed session.
type Service struct {
	opener    feed.Opener
	hist      feed.HistoricalSource
	detector  Detector
	positions PositionSource
	refdata   RefData
	cfg       Config
	logger    *logrus.Logger
}

func NewService(opener feed.Opener, hist feed.HistoricalSource, detector Detector, pos PositionSource, refdata RefData, cfg Config, logger *logrus.Logger) *Service {
	return &Service{
		opener:    opener,
		hist:      hist,
		detector:  detector,
		positions: pos,
		refdata:   refdata,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

func disconnectedFn(ctx context.Context) func() bool {
	return func() bool {
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}
}

func (s *Service) sendStatus(sink EventSink, status, message string, syms []string) error {
	return sink.Send(models.StatusEvent{
		Status:    status,
		Message:   message,
		Symbols:   syms,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) sendError(sink EventSink, name, details string) {
	_ = sink.Send(models.ErrorEvent{Error: name, Details: details, Timestamp: time.Now().UTC()})
}

// RunPrices streams price events for the requested symbols until the
// context is cancelled or the stream completes.
func (s *Service) RunPrices(ctx context.Context, sink EventSink, syms []string) {
	log := s.logger.WithField("stream", "prices")

	// The initial status event lets clients tell "no data yet" apart from
	// "connection failed".
	if err := s.sendStatus(sink, "connected", "price stream established", syms); err != nil {
		return
	}

	status := s.detector.IsOpen(ctx, syms)
	if !status.Open {
		_ = s.sendStatus(sink, "market_closed", status.Reason, syms)
		s.emitHistoricalPrices(ctx, sink, syms)
		return
	}

	session, err := feed.OpenSession(ctx, s.opener, s.subscribeParams(syms), s.logger)
	if err != nil {
		s.surfaceSubscribeFailure(ctx, sink, err, syms, func() {
			s.emitHistoricalPrices(ctx, sink, syms)
		})
		return
	}

	err = session.Run(ctx, disconnectedFn(ctx), func(tick models.PriceTick) error {
		return sink.Send(priceEvent(tick))
	})
	if err != nil {
		log.WithError(err).Warn("Live feed failed mid-stream, falling back to historical")
		_ = s.sendStatus(sink, "live_api_failed", "falling_back=historical", syms)
		s.emitHistoricalPrices(ctx, sink, syms)
	}
}

// RunPnL streams PnL records for the user's open positions.
func (s *Service) RunPnL(ctx context.Context, sink EventSink, userID string) {
	log := s.logger.WithFields(logrus.Fields{"stream": "pnl", "user_id": userID})

	if err := s.sendStatus(sink, "connected", "pnl stream established", nil); err != nil {
		return
	}

	open, err := s.positions.OpenPositions(ctx, userID)
	if err != nil {
		log.WithError(err).Error("Open position query failed")
		s.sendError(sink, "position_query_failed", err.Error())
		return
	}

	group := positions.Group(open)
	syms := positions.Symbols(open)
	if len(syms) == 0 {
		_ = s.sendStatus(sink, "no_open_positions", "nothing to track", nil)
		return
	}

	// Reference data is resolved once up front, not per tick.
	details := make(map[int64]models.ContractDetails)
	for _, id := range positions.ContractIDs(open) {
		details[id] = s.refdata.ContractDetails(ctx, id, s.cfg.Flavor)
	}
	lookup := func(contractID int64) models.ContractDetails {
		if d, ok := details[contractID]; ok {
			return d
		}
		return models.DefaultContractDetails("")
	}

	emitRecords := func(tick models.PriceTick, source string) error {
		for _, rec := range pnl.Compute(tick, group, lookup, source) {
			if err := sink.Send(rec); err != nil {
				return err
			}
		}
		return nil
	}

	status := s.detector.IsOpen(ctx, syms)
	if !status.Open {
		_ = s.sendStatus(sink, "market_closed", status.Reason, syms)
		s.emitHistoricalPnL(ctx, sink, syms, group, emitRecords)
		return
	}

	session, err := feed.OpenSession(ctx, s.opener, s.subscribeParams(syms), s.logger)
	if err != nil {
		s.surfaceSubscribeFailure(ctx, sink, err, syms, func() {
			s.emitHistoricalPnL(ctx, sink, syms, group, emitRecords)
		})
		return
	}

	err = session.Run(ctx, disconnectedFn(ctx), func(tick models.PriceTick) error {
		return emitRecords(tick, models.SourceLive)
	})
	if err != nil {
		log.WithError(err).Warn("Live feed failed mid-stream, falling back to historical")
		_ = s.sendStatus(sink, "live_api_failed", "falling_back=historical", syms)
		s.emitHistoricalPnL(ctx, sink, syms, group, emitRecords)
	}
}

func (s *Service) subscribeParams(syms []string) feed.SubscribeParams {
	return feed.SubscribeParams{
		Dataset:     s.cfg.Dataset,
		Schema:      s.cfg.Schema,
		Symbols:     syms,
		SymbolSType: s.cfg.SymbolSType,
	}
}

// surfaceSubscribeFailure emits the structured error and runs the historical
// fallback. Missing credentials end the stream instead: the historical
// provider needs the same key, so there is nothing to fall back to.
func (s *Service) surfaceSubscribeFailure(ctx context.Context, sink EventSink, err error, syms []string, fallback func()) {
	if errors.Is(err, feed.ErrMissingCredential) {
		s.sendError(sink, "configuration_error", err.Error())
		return
	}

	var subErr *feed.SubscribeError
	if errors.As(err, &subErr) {
		s.sendError(sink, "subscription_error_"+string(subErr.Kind), subErr.Err.Error())
	} else {
		s.sendError(sink, "subscription_error", err.Error())
	}

	_ = s.sendStatus(sink, "live_api_failed", "falling_back=historical", syms)
	fallback()
}

func (s *Service) emitHistoricalPrices(ctx context.Context, sink EventSink, syms []string) {
	snaps, err := s.hist.Snapshot(ctx, syms, s.cfg.SnapshotLookback)
	if err != nil {
		s.logger.WithError(err).Warn("Historical snapshot failed")
		s.sendError(sink, "historical_query_failed", err.Error())
		return
	}
	for _, snap := range snaps {
		price := snap.Price
		if err := sink.Send(models.PriceEvent{
			Symbol:     snap.Symbol,
			Timestamp:  snap.Timestamp,
			LastPrice:  &price,
			RecordType: "historical",
			ReceivedAt: time.Now().UTC(),
		}); err != nil {
			return
		}
	}
	_ = s.sendStatus(sink, "complete", "historical snapshot delivered", syms)
}

func (s *Service) emitHistoricalPnL(ctx context.Context, sink EventSink, syms []string, group models.SymbolPositionGroup, emit func(models.PriceTick, string) error) {
	snaps, err := s.hist.Snapshot(ctx, syms, s.cfg.SnapshotLookback)
	if err != nil {
		s.logger.WithError(err).Warn("Historical snapshot failed")
		s.sendError(sink, "historical_query_failed", err.Error())
		return
	}
	for _, snap := range snaps {
		price := snap.Price
		tick := models.PriceTick{
			Symbol:       snapshotSymbol(snap.Symbol, group),
			Last:         &price,
			EventTime:    snap.Timestamp,
			ReceivedTime: time.Now().UTC(),
		}
		if err := emit(tick, models.SourceHistorical); err != nil {
			return
		}
	}
	_ = s.sendStatus(sink, "complete", "historical snapshot delivered", syms)
}

// snapshotSymbol maps a snapshot's variant symbol back onto the symbol the
// position group is keyed by, so historical records join the same way live
// ticks do.
func snapshotSymbol(sym string, group models.SymbolPositionGroup) string {
	if _, ok := group[sym]; ok {
		return sym
	}
	for held := range group {
		if matchesVariant(held, sym) {
			return held
		}
	}
	return sym
}

func matchesVariant(held, snapshot string) bool {
	for _, hv := range symbols.ExpandVariants(held) {
		for _, sv := range symbols.ExpandVariants(snapshot) {
			if hv == sv {
				return true
			}
		}
	}
	return false
}

func priceEvent(tick models.PriceTick) models.PriceEvent {
	recordType := "quote"
	if tick.Last != nil {
		recordType = "trade"
	}
	return models.PriceEvent{
		Symbol:       tick.Symbol,
		InstrumentID: tick.InstrumentID,
		Timestamp:    tick.EventTime,
		BidPrice:     tick.Bid,
		AskPrice:     tick.Ask,
		LastPrice:    tick.Last,
		BidSize:      tick.BidSize,
		AskSize:      tick.AskSize,
		RecordType:   recordType,
		ReceivedAt:   tick.ReceivedTime,
	}
}
