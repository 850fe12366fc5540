package feed

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/tradevault/tickstream/pkg/models"
	"github.com/tradevault/tickstream/pkg/symbols"
)

// State is the lifecycle state of one live feed session.
type State int

const (
	StateConnecting State = iota
	StateSubscribed
	StateStreaming
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session owns exactly one live subscription for the duration of one client
// connection. The instrument-id mapping and the requested-variant set are
// session-local: they are never shared across connections, so one
// connection can never observe another connection's data.
type Session struct {
	src      Source
	state    State
	mapping  map[uint32]string
	variants map[string]bool
	logger   *logrus.Entry
}

// OpenSession subscribes to the live feed for the given symbols. On failure
// the session transitions straight to Failed and the classified error is
// returned for the caller to surface as a structured event.
func OpenSession(ctx context.Context, opener Opener, params SubscribeParams, logger *logrus.Logger) (*Session, error) {
	s := &Session{
		state:    StateConnecting,
		mapping:  make(map[uint32]string),
		variants: make(map[string]bool),
		logger:   logger.WithField("component", "live_session"),
	}
	for _, v := range symbols.ExpandAll(params.Symbols) {
		s.variants[v] = true
	}

	src, err := opener.Open(ctx, params)
	if err != nil {
		s.state = StateFailed
		return nil, err
	}
	s.src = src
	s.state = StateSubscribed
	return s, nil
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// Close tears the subscription down best-effort; close errors are swallowed
// because the subscription is going away regardless.
func (s *Session) Close() {
	if s.src != nil {
		if err := s.src.Close(); err != nil {
			s.logger.WithError(err).Debug("Feed close error ignored")
		}
	}
	if s.state != StateFailed {
		s.state = StateClosed
	}
}

// matches reports whether a resolved feed symbol belongs to this
// connection's requested set, resolving maturity-qualified codes back to
// their root variant.
func (s *Session) matches(symbol string) bool {
	for _, v := range symbols.ExpandVariants(symbol) {
		if s.variants[v] {
			return true
		}
	}
	return false
}

// resolveSymbol picks the symbol for a data message: session mapping by
// instrument id, else the symbol carried on the message, else a synthetic
// placeholder.
func (s *Session) resolveSymbol(m Message) string {
	if sym, ok := s.mapping[m.InstrumentID]; ok {
		return sym
	}
	if m.Symbol != "" {
		return m.Symbol
	}
	return fmt.Sprintf("instrument-%d", m.InstrumentID)
}

// Run iterates the subscription until disconnect, cancellation, clean end
// of stream, or an unrecoverable iteration error. disconnected is polled
// once per message and again before every emit; emit returns an error to
// stop the loop (e.g. the client write failed).
//
// A non-nil return means the session failed mid-stream and the caller
// should fall back to the historical path.
func (s *Session) Run(ctx context.Context, disconnected func() bool, emit func(models.PriceTick) error) error {
	defer s.Close()

	for {
		m, err := s.src.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				s.state = StateClosed
				return nil
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				s.state = StateClosed
				return nil
			default:
				s.state = StateFailed
				return err
			}
		}

		if s.state == StateSubscribed {
			s.state = StateStreaming
		}
		if disconnected() {
			s.state = StateClosed
			return nil
		}

		switch m.Kind {
		case KindMapping:
			// Control message: update the session-local mapping, never
			// forwarded as a price event.
			s.mapping[m.InstrumentID] = m.Symbol
			continue
		case KindQuote, KindTrade:
		default:
			continue
		}

		sym := s.resolveSymbol(m)
		if !s.matches(sym) {
			continue
		}

		tick, ok := m.Tick(sym)
		if !ok {
			continue
		}

		if disconnected() {
			s.state = StateClosed
			return nil
		}
		if err := emit(tick); err != nil {
			s.state = StateClosed
			return nil
		}
	}
}
