package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	dbn "github.com/NimbleMarkets/dbn-go"
	dbn_live "github.com/NimbleMarkets/dbn-go/live"
	"github.com/sirupsen/logrus"
)

// SubscribeParams are the live subscription parameters.
type SubscribeParams struct {
	Dataset     string
	Schema      string
	Symbols     []string
	SymbolSType string
}

// Source is one open live subscription yielding decoded messages. Next
// blocks until a message arrives, the context is cancelled, or the
// subscription ends (io.EOF on clean end).
type Source interface {
	Next(ctx context.Context) (Message, error)
	Close() error
}

// Opener opens live subscriptions. The production implementation is
// LiveFeed; tests substitute fakes.
type Opener interface {
	Open(ctx context.Context, params SubscribeParams) (Source, error)
}

// ErrorKind tags subscription failures so callers can surface a structured
// reason instead of a raw transport error.
type ErrorKind string

const (
	ErrKindAuth          ErrorKind = "auth"
	ErrKindConfiguration ErrorKind = "configuration"
	ErrKindUnknown       ErrorKind = "unknown"
)

// SubscribeError wraps a failed subscribe call with its classified kind.
type SubscribeError struct {
	Kind ErrorKind
	Err  error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("live subscribe failed (%s): %v", e.Kind, e.Err)
}

func (e *SubscribeError) Unwrap() error { return e.Err }

func classifySubscribeError(err error) ErrorKind {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "auth") || strings.Contains(msg, "api key") || strings.Contains(msg, "forbidden"):
		return ErrKindAuth
	case strings.Contains(msg, "symbol") || strings.Contains(msg, "dataset") || strings.Contains(msg, "schema"):
		return ErrKindConfiguration
	default:
		return ErrKindUnknown
	}
}

// LiveFeed opens Databento DBN live subscriptions.
type LiveFeed struct {
	apiKey string
	logger *logrus.Logger
}

func NewLiveFeed(apiKey string, logger *logrus.Logger) *LiveFeed {
	return &LiveFeed{apiKey: apiKey, logger: logger}
}

// ErrMissingCredential is returned when no feed API key is configured.
var ErrMissingCredential = errors.New("live feed API key is not configured")

func (f *LiveFeed) Open(ctx context.Context, params SubscribeParams) (Source, error) {
	if f.apiKey == "" {
		return nil, ErrMissingCredential
	}

	stypeIn, err := dbn.STypeFromString(params.SymbolSType)
	if err != nil {
		return nil, &SubscribeError{Kind: ErrKindConfiguration, Err: fmt.Errorf("invalid stype %q: %w", params.SymbolSType, err)}
	}

	client, err := dbn_live.NewLiveClient(dbn_live.LiveConfig{
		ApiKey:               f.apiKey,
		Dataset:              params.Dataset,
		Client:               "tickstream",
		Encoding:             dbn.Encoding_Dbn,
		SendTsOut:            false,
		VersionUpgradePolicy: dbn.VersionUpgradePolicy_AsIs,
	})
	if err != nil {
		return nil, &SubscribeError{Kind: classifySubscribeError(err), Err: err}
	}

	if _, err := client.Authenticate(f.apiKey); err != nil {
		client.Stop()
		return nil, &SubscribeError{Kind: ErrKindAuth, Err: err}
	}

	sub := dbn_live.SubscriptionRequestMsg{
		Schema:  params.Schema,
		StypeIn: stypeIn,
		Symbols: params.Symbols,
	}
	if err := client.Subscribe(sub); err != nil {
		client.Stop()
		return nil, &SubscribeError{Kind: classifySubscribeError(err), Err: err}
	}

	if err := client.Start(); err != nil {
		client.Stop()
		return nil, &SubscribeError{Kind: classifySubscribeError(err), Err: err}
	}

	src := &liveSource{
		client: client,
		logger: f.logger,
		msgs:   make(chan Message, 256),
		done:   make(chan struct{}),
	}
	go src.readLoop()
	return src, nil
}

// liveSource pumps the blocking DBN scanner into a channel so Next can honor
// context cancellation.
type liveSource struct {
	client *dbn_live.LiveClient
	logger *logrus.Logger
	msgs   chan Message
	done   chan struct{}
	err    error
}

func (s *liveSource) readLoop() {
	defer close(s.msgs)

	scanner := s.client.GetDbnScanner()
	if scanner == nil {
		s.err = errors.New("live client returned no DBN scanner")
		return
	}

	v := &liveVisitor{src: s}
	for scanner.Next() {
		if err := scanner.Visit(v); err != nil {
			s.logger.WithError(err).Warn("Failed to decode feed record, skipping")
		}
		select {
		case <-s.done:
			return
		default:
		}
	}
	if err := scanner.Error(); err != nil && !isClosedConnError(err) {
		s.err = err
	}
}

func (s *liveSource) emit(m Message) {
	select {
	case s.msgs <- m:
	case <-s.done:
	}
}

func (s *liveSource) Next(ctx context.Context) (Message, error) {
	select {
	case m, ok := <-s.msgs:
		if !ok {
			if s.err != nil {
				return Message{}, s.err
			}
			return Message{}, io.EOF
		}
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (s *liveSource) Close() error {
	select {
	case <-s.done:
		return nil
	default:
		close(s.done)
	}
	return s.client.Stop()
}

func isClosedConnError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "use of closed network connection")
}

// liveVisitor decodes DBN records into the tagged Message union. Record
// kinds the pipeline does not consume are dropped here.
type liveVisitor struct {
	src *liveSource
}

var _ dbn.Visitor = (*liveVisitor)(nil)

func (v *liveVisitor) OnSymbolMappingMsg(r *dbn.SymbolMappingMsg) error {
	sym := strings.ToUpper(strings.TrimSpace(r.StypeOutSymbol))
	if sym == "" {
		return nil
	}
	v.src.emit(Message{
		Kind:         KindMapping,
		InstrumentID: r.Header.InstrumentID,
		Symbol:       sym,
		EventTime:    time.Unix(0, int64(r.Header.TsEvent)).UTC(),
		ReceivedTime: time.Now().UTC(),
	})
	return nil
}

func (v *liveVisitor) OnMbp1(r *dbn.Mbp1Msg) error {
	m := Message{
		Kind:         KindQuote,
		InstrumentID: r.Header.InstrumentID,
		EventTime:    time.Unix(0, int64(r.Header.TsEvent)).UTC(),
		ReceivedTime: time.Now().UTC(),
	}
	m.Bid = fx9(r.Level.BidPx)
	m.Ask = fx9(r.Level.AskPx)
	if m.Bid != nil {
		sz := r.Level.BidSz
		m.BidSize = &sz
	}
	if m.Ask != nil {
		sz := r.Level.AskSz
		m.AskSize = &sz
	}
	if r.Action == 'T' {
		m.Kind = KindTrade
		m.Last = fx9(r.Price)
	}
	v.src.emit(m)
	return nil
}

func (v *liveVisitor) OnMbp0(*dbn.Mbp0Msg) error                      { return nil }
func (v *liveVisitor) OnMbp10(*dbn.Mbp10Msg) error                    { return nil }
func (v *liveVisitor) OnMbo(*dbn.MboMsg) error                        { return nil }
func (v *liveVisitor) OnOhlcv(*dbn.OhlcvMsg) error                    { return nil }
func (v *liveVisitor) OnCmbp1(*dbn.Cmbp1Msg) error                    { return nil }
func (v *liveVisitor) OnBbo(*dbn.BboMsg) error                        { return nil }
func (v *liveVisitor) OnImbalance(*dbn.ImbalanceMsg) error            { return nil }
func (v *liveVisitor) OnStatMsg(*dbn.StatMsg) error                   { return nil }
func (v *liveVisitor) OnStatusMsg(*dbn.StatusMsg) error               { return nil }
func (v *liveVisitor) OnInstrumentDefMsg(*dbn.InstrumentDefMsg) error { return nil }
func (v *liveVisitor) OnErrorMsg(*dbn.ErrorMsg) error                 { return nil }
func (v *liveVisitor) OnSystemMsg(*dbn.SystemMsg) error               { return nil }
func (v *liveVisitor) OnStreamEnd() error                             { return nil }
