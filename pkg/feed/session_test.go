package feed

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradevault/tickstream/pkg/models"
)

func fp(v float64) *float64 { return &v }

// fakeSource replays a scripted message sequence, then returns finalErr.
type fakeSource struct {
	msgs     []Message
	finalErr error
	closed   bool
}

func (f *fakeSource) Next(ctx context.Context) (Message, error) {
	if len(f.msgs) == 0 {
		if f.finalErr != nil {
			return Message{}, f.finalErr
		}
		return Message{}, io.EOF
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

type fakeOpener struct {
	src *fakeSource
	err error
}

func (f *fakeOpener) Open(ctx context.Context, params SubscribeParams) (Source, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.src, nil
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func never() bool { return false }

func mapping(id uint32, sym string) Message {
	return Message{Kind: KindMapping, InstrumentID: id, Symbol: sym, ReceivedTime: time.Now().UTC()}
}

func quote(id uint32, bid, ask float64) Message {
	return Message{Kind: KindQuote, InstrumentID: id, Bid: fp(bid), Ask: fp(ask), ReceivedTime: time.Now().UTC()}
}

func runSession(t *testing.T, src *fakeSource, requested []string) ([]models.PriceTick, *Session, error) {
	t.Helper()
	session, err := OpenSession(context.Background(), &fakeOpener{src: src}, SubscribeParams{
		Dataset: "GLBX.MDP3", Schema: "mbp-1", Symbols: requested, SymbolSType: "raw_symbol",
	}, testLogger())
	require.NoError(t, err)

	var ticks []models.PriceTick
	runErr := session.Run(context.Background(), never, func(tick models.PriceTick) error {
		ticks = append(ticks, tick)
		return nil
	})
	return ticks, session, runErr
}

func TestSessionForwardsMatchingTicks(t *testing.T) {
	src := &fakeSource{msgs: []Message{
		mapping(10, "ES.FUT"),
		quote(10, 4500.00, 4500.25),
	}}

	ticks, session, err := runSession(t, src, []string{"ES.FUT"})
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, "ES.FUT", ticks[0].Symbol)
	assert.Equal(t, 4500.00, *ticks[0].Bid)
	assert.Equal(t, 4500.25, *ticks[0].Ask)
	assert.Equal(t, StateClosed, session.State())
	assert.True(t, src.closed, "feed handle must be closed on clean end")
}

func TestSessionNeverForwardsForeignSymbols(t *testing.T) {
	// The feed delivers a superset: ticks for a symbol another connection
	// asked for must not leak into this one.
	src := &fakeSource{msgs: []Message{
		mapping(10, "ESZ5"),
		mapping(20, "NQZ5"),
		quote(10, 4500.00, 4500.25),
		quote(20, 20000.00, 20000.25),
		quote(10, 4501.00, 4501.25),
	}}

	ticks, _, err := runSession(t, src, []string{"ES.FUT"})
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	for _, tick := range ticks {
		assert.Equal(t, "ESZ5", tick.Symbol)
	}
}

func TestSessionMappingMessagesAreNotForwarded(t *testing.T) {
	src := &fakeSource{msgs: []Message{
		mapping(10, "ES.FUT"),
		mapping(10, "ES.FUT"),
	}}

	ticks, _, err := runSession(t, src, []string{"ES.FUT"})
	require.NoError(t, err)
	assert.Empty(t, ticks, "control messages are never price events")
}

func TestSessionDiscardsPricelessTicks(t *testing.T) {
	src := &fakeSource{msgs: []Message{
		mapping(10, "ES.FUT"),
		{Kind: KindQuote, InstrumentID: 10}, // no bid/ask/last
	}}

	ticks, _, err := runSession(t, src, []string{"ES.FUT"})
	require.NoError(t, err)
	assert.Empty(t, ticks)
}

func TestSessionUnknownInstrumentFiltered(t *testing.T) {
	// No mapping and no inline symbol: the synthetic placeholder cannot
	// match any requested variant.
	src := &fakeSource{msgs: []Message{
		quote(99, 1.0, 1.1),
	}}

	ticks, _, err := runSession(t, src, []string{"ES.FUT"})
	require.NoError(t, err)
	assert.Empty(t, ticks)
}

func TestSessionInlineSymbolResolution(t *testing.T) {
	src := &fakeSource{msgs: []Message{
		{Kind: KindQuote, InstrumentID: 5, Symbol: "ESH6", Bid: fp(4510)},
	}}

	ticks, _, err := runSession(t, src, []string{"ES.FUT"})
	require.NoError(t, err)
	require.Len(t, ticks, 1)
	assert.Equal(t, "ESH6", ticks[0].Symbol)
}

func TestSessionIterationErrorFails(t *testing.T) {
	src := &fakeSource{
		msgs:     []Message{mapping(10, "ES.FUT"), quote(10, 4500, 4500.25)},
		finalErr: errors.New("transport dropped"),
	}

	ticks, session, err := runSession(t, src, []string{"ES.FUT"})
	assert.Error(t, err)
	assert.Len(t, ticks, 1, "ticks before the drop are still delivered")
	assert.Equal(t, StateFailed, session.State())
	assert.True(t, src.closed)
}

func TestSessionStopsWhenDisconnected(t *testing.T) {
	src := &fakeSource{msgs: []Message{
		mapping(10, "ES.FUT"),
		quote(10, 4500, 4500.25),
		quote(10, 4501, 4501.25),
	}}

	session, err := OpenSession(context.Background(), &fakeOpener{src: src}, SubscribeParams{
		Symbols: []string{"ES.FUT"},
	}, testLogger())
	require.NoError(t, err)

	calls := 0
	disconnected := func() bool {
		calls++
		return calls > 2
	}

	var ticks []models.PriceTick
	runErr := session.Run(context.Background(), disconnected, func(tick models.PriceTick) error {
		ticks = append(ticks, tick)
		return nil
	})
	require.NoError(t, runErr)
	assert.Equal(t, StateClosed, session.State())
	assert.True(t, src.closed)
	assert.LessOrEqual(t, len(ticks), 1, "no work after disconnect detection")
}

func TestOpenSessionSubscribeFailure(t *testing.T) {
	subErr := &SubscribeError{Kind: ErrKindAuth, Err: errors.New("key rejected")}
	_, err := OpenSession(context.Background(), &fakeOpener{err: subErr}, SubscribeParams{
		Symbols: []string{"ES.FUT"},
	}, testLogger())

	var got *SubscribeError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, ErrKindAuth, got.Kind)
}

func TestClassifySubscribeError(t *testing.T) {
	testCases := []struct {
		msg  string
		want ErrorKind
	}{
		{"authentication failed", ErrKindAuth},
		{"invalid API key", ErrKindAuth},
		{"unknown symbol XYZ", ErrKindConfiguration},
		{"dataset not entitled", ErrKindConfiguration},
		{"connection reset by peer", ErrKindUnknown},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, classifySubscribeError(errors.New(tc.msg)), tc.msg)
	}
}
