package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const binanceBaseURL = "https://api.binance.com"

// BinanceProvider fetches spot prices and klines from Binance's public
// REST API. Every endpoint it calls is public market data; an optional
// API key (looked up from vault at startup) is sent as MBX-APIKEY
// purely to move this provider onto its higher per-key rate limit
// bracket, not to unlock any authenticated endpoint.
type BinanceProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewBinanceProvider(log zerolog.Logger) *BinanceProvider {
	return &BinanceProvider{
		baseURL:    binanceBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		log:        log.With().Str("provider", "binance").Logger(),
	}
}

// WithAPIKey attaches an MBX-APIKEY header to every request this
// provider makes. Passing an empty key is a no-op.
func (p *BinanceProvider) WithAPIKey(apiKey string) *BinanceProvider {
	p.apiKey = apiKey
	return p
}

func (p *BinanceProvider) Name() string { return "binance" }

func pair(symbol, quote string) string {
	return strings.ToUpper(symbol) + quoteForCurrency(quote)
}

type binanceTickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

func (p *BinanceProvider) Price(ctx context.Context, symbol, quote string) (float64, bool, error) {
	values := url.Values{}
	values.Set("symbol", pair(symbol, quote))

	var resp binanceTickerPrice
	status, err := p.get(ctx, "/api/v3/ticker/price", values, &resp)
	if err != nil {
		return 0, false, err
	}
	if status == http.StatusBadRequest || status == http.StatusNotFound {
		return 0, false, nil
	}
	if status != http.StatusOK {
		return 0, false, fmt.Errorf("binance: ticker/price returned status %d", status)
	}

	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, false, nil
	}
	return price, true, nil
}

func (p *BinanceProvider) Candles(ctx context.Context, symbol, interval string, limit int, quote string) ([]Candle, bool, error) {
	values := url.Values{}
	values.Set("symbol", pair(symbol, quote))
	values.Set("interval", interval)
	values.Set("limit", strconv.Itoa(limit))

	var raw [][]interface{}
	status, err := p.get(ctx, "/api/v3/klines", values, &raw)
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusBadRequest || status == http.StatusNotFound {
		return nil, false, nil
	}
	if status != http.StatusOK {
		return nil, false, fmt.Errorf("binance: klines returned status %d", status)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	candles := make([]Candle, 0, len(raw))
	for _, row := range raw {
		c, ok := parseBinanceKline(row)
		if !ok {
			continue
		}
		candles = append(candles, c)
	}
	if len(candles) == 0 {
		return nil, false, nil
	}
	return candles, true, nil
}

// parseBinanceKline decodes one row of the raw
// [openTime,open,high,low,close,volume,closeTime,...] kline array.
func parseBinanceKline(row []interface{}) (Candle, bool) {
	if len(row) < 6 {
		return Candle{}, false
	}
	openTime, ok := toInt64(row[0])
	if !ok {
		return Candle{}, false
	}
	open, ok1 := toFloat(row[1])
	high, ok2 := toFloat(row[2])
	low, ok3 := toFloat(row[3])
	close, ok4 := toFloat(row[4])
	volume, ok5 := toFloat(row[5])
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return Candle{}, false
	}
	return Candle{OpenTime: openTime, Open: open, High: high, Low: low, Close: close, Volume: volume}, true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func (p *BinanceProvider) get(ctx context.Context, path string, values url.Values, out interface{}) (int, error) {
	u := p.baseURL + path
	if len(values) > 0 {
		u += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("binance: building request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("MBX-APIKEY", p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("binance: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("binance: decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

var _ Provider = (*BinanceProvider)(nil)

// binanceRateLimitBackoff is a small, fixed cooldown for repeated 429s
// from this provider. No code applies it: a 429 is returned as an error
// like any other unexpected status, and retry pacing comes from the
// Breaker's cooldown.
const binanceRateLimitBackoff = 2 * time.Second
