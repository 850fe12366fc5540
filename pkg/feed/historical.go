package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tradevault/tickstream/pkg/models"
	"github.com/tradevault/tickstream/pkg/symbols"
)

// RangeParams are the parameters of one historical range query.
type RangeParams struct {
	Dataset string
	Schema  string
	Symbols []string
	SType   string
	Start   time.Time
	End     time.Time
}

// HistoricalSource is the historical bars collaborator consumed by the
// market-status detector and the fallback path.
type HistoricalSource interface {
	RangeQuery(ctx context.Context, params RangeParams) ([]models.Bar, error)
	Snapshot(ctx context.Context, syms []string, lookback time.Duration) ([]models.SnapshotPrice, error)
}

// HistoricalClient queries the Databento historical API over HTTPS.
type HistoricalClient struct {
	apiKey     string
	baseURL    string
	dataset    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

func NewHistoricalClient(apiKey, baseURL, dataset string, logger *logrus.Logger) *HistoricalClient {
	if baseURL == "" {
		baseURL = "https://hist.databento.com"
	}
	return &HistoricalClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		dataset:    dataset,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		logger:     logger,
	}
}

// barRow is one JSON-lines row of a get_range response. Prices arrive as
// 1e-9 fixed-point integers; when the server also includes pre-formatted
// display prices those take precedence.
type barRow struct {
	Header struct {
		TsEvent      json.Number `json:"ts_event"`
		InstrumentID uint32      `json:"instrument_id"`
	} `json:"hd"`
	Symbol      string      `json:"symbol"`
	Open        json.Number `json:"open"`
	High        json.Number `json:"high"`
	Low         json.Number `json:"low"`
	Close       json.Number `json:"close"`
	Volume      json.Number `json:"volume"`
	PrettyOpen  *float64    `json:"pretty_open,omitempty"`
	PrettyHigh  *float64    `json:"pretty_high,omitempty"`
	PrettyLow   *float64    `json:"pretty_low,omitempty"`
	PrettyClose *float64    `json:"pretty_close,omitempty"`
}

// decodePrice prefers the display price when present, otherwise scales the
// raw fixed-point field. Raw values small enough to already be in price
// units (floats) pass through unscaled.
func decodePrice(display *float64, raw json.Number) float64 {
	if display != nil {
		return *display
	}
	s := raw.String()
	if s == "" {
		return 0
	}
	if strings.ContainsAny(s, ".eE") {
		f, err := raw.Float64()
		if err != nil {
			return 0
		}
		return f
	}
	n, err := raw.Int64()
	if err != nil || n <= 0 || n == undefPrice {
		return 0
	}
	return float64(n) / pxScale
}

func (c *HistoricalClient) RangeQuery(ctx context.Context, params RangeParams) ([]models.Bar, error) {
	if c.apiKey == "" {
		return nil, ErrMissingCredential
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	dataset := params.Dataset
	if dataset == "" {
		dataset = c.dataset
	}
	stype := params.SType
	if stype == "" {
		stype = "raw_symbol"
	}

	form := url.Values{}
	form.Set("dataset", dataset)
	form.Set("schema", params.Schema)
	form.Set("symbols", strings.Join(params.Symbols, ","))
	form.Set("stype_in", stype)
	form.Set("start", params.Start.UTC().Format(time.RFC3339))
	form.Set("end", params.End.UTC().Format(time.RFC3339))
	form.Set("encoding", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v0/timeseries.get_range", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("historical range query failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("historical range query returned status %d", resp.StatusCode)
	}

	var bars []models.Bar
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row barRow
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			c.logger.WithError(err).Debug("Skipping malformed bar row")
			continue
		}
		ns, err := row.Header.TsEvent.Int64()
		if err != nil {
			continue
		}
		bars = append(bars, models.Bar{
			Symbol:    strings.ToUpper(row.Symbol),
			Open:      decodePrice(row.PrettyOpen, row.Open),
			High:      decodePrice(row.PrettyHigh, row.High),
			Low:       decodePrice(row.PrettyLow, row.Low),
			Close:     decodePrice(row.PrettyClose, row.Close),
			Volume:    parseVolume(row.Volume),
			EventTime: time.Unix(0, ns).UTC(),
		})
	}
	if err := scanner.Err(); err != nil {
		return bars, fmt.Errorf("historical response truncated: %w", err)
	}
	return bars, nil
}

func parseVolume(n json.Number) uint64 {
	v, err := strconv.ParseUint(n.String(), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Snapshot fetches the most recent 1-minute bar per symbol variant inside
// the lookback window and uses its close as a single-shot current price.
func (c *HistoricalClient) Snapshot(ctx context.Context, syms []string, lookback time.Duration) ([]models.SnapshotPrice, error) {
	now := time.Now().UTC()
	bars, err := c.RangeQuery(ctx, RangeParams{
		Schema:  "ohlcv-1m",
		Symbols: symbols.ExpandAll(syms),
		Start:   now.Add(-lookback),
		End:     now,
	})
	if err != nil {
		return nil, err
	}
	return LatestCloses(bars), nil
}

// LatestCloses reduces a bar set to the most recent close per symbol.
func LatestCloses(bars []models.Bar) []models.SnapshotPrice {
	latest := make(map[string]models.Bar)
	for _, b := range bars {
		if b.Close <= 0 {
			continue
		}
		if cur, ok := latest[b.Symbol]; !ok || b.EventTime.After(cur.EventTime) {
			latest[b.Symbol] = b
		}
	}
	out := make([]models.SnapshotPrice, 0, len(latest))
	for _, b := range latest {
		out = append(out, models.SnapshotPrice{Symbol: b.Symbol, Price: b.Close, Timestamp: b.EventTime})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ResolveSymbols maps raw symbols to feed instrument ids via the symbology
// endpoint. Used to validate bar requests; failures are non-fatal.
func (c *HistoricalClient) ResolveSymbols(ctx context.Context, syms []string) (map[string]string, error) {
	if c.apiKey == "" {
		return nil, ErrMissingCredential
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("dataset", c.dataset)
	form.Set("symbols", strings.Join(syms, ","))
	form.Set("stype_in", "raw_symbol")
	form.Set("stype_out", "instrument_id")
	form.Set("start_date", time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v0/symbology.resolve", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("symbology resolve failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("symbology resolve returned status %d", resp.StatusCode)
	}

	var payload struct {
		Result map[string][]struct {
			S string `json:"s"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(payload.Result))
	for sym, mappings := range payload.Result {
		if len(mappings) > 0 {
			out[sym] = mappings[0].S
		}
	}
	return out, nil
}
