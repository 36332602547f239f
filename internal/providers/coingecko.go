package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

const coingeckoBaseURL = "https://api.coingecko.com/api/v3"

// coingeckoIDs maps the common tickers this engine's strategies name
// onto CoinGecko's coin ids. CoinGecko has no ticker-lookup endpoint
// cheap enough to call per request, so the mapping is a small static
// table with a lower-cased-symbol fallback for coins whose id equals
// their ticker.
var coingeckoIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"BNB":   "binancecoin",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"DOGE":  "dogecoin",
	"AVAX":  "avalanche-2",
	"MATIC": "matic-network",
	"DOT":   "polkadot",
	"LTC":   "litecoin",
	"LINK":  "chainlink",
}

func coingeckoID(symbol string) string {
	s := strings.ToUpper(symbol)
	if id, ok := coingeckoIDs[s]; ok {
		return id
	}
	return strings.ToLower(symbol)
}

// coingeckoIntervals maps a timeframe to the (vs_currency days, bucket)
// pair async_coingecko.py's get_klines uses to pick a market_chart
// window; intervals outside this table are not supported by this
// provider and produce an absent result.
var coingeckoIntervals = map[string]struct {
	days   int
	bucket string
}{
	"1h": {days: 1, bucket: "hourly"},
	"1d": {days: 7, bucket: "daily"},
}

// CoinGeckoProvider fetches spot prices and synthetic candles from
// CoinGecko's public market_chart endpoint. CoinGecko's market_chart
// returns price and volume points, not true OHLCV, so candles are
// synthesised with open=high=low=close=price — a simplification the
// upstream source documents as a placeholder, carried forward here
// rather than hidden.
type CoinGeckoProvider struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewCoinGeckoProvider(log zerolog.Logger) *CoinGeckoProvider {
	return &CoinGeckoProvider{
		baseURL:    coingeckoBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		log:        log.With().Str("provider", "coingecko").Logger(),
	}
}

func (p *CoinGeckoProvider) Name() string { return "coingecko" }

func (p *CoinGeckoProvider) Price(ctx context.Context, symbol, quote string) (float64, bool, error) {
	id := coingeckoID(symbol)
	vs := strings.ToLower(quote)
	if vs == "" {
		vs = "usd"
	}

	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", vs)

	var resp map[string]map[string]float64
	status, err := p.get(ctx, "/simple/price", values, &resp)
	if err != nil {
		return 0, false, err
	}
	if status != http.StatusOK {
		return 0, false, fmt.Errorf("coingecko: simple/price returned status %d", status)
	}

	byQuote, ok := resp[id]
	if !ok {
		return 0, false, nil
	}
	price, ok := byQuote[vs]
	if !ok {
		return 0, false, nil
	}
	return price, true, nil
}

type coingeckoMarketChart struct {
	Prices       [][2]float64 `json:"prices"`
	TotalVolumes [][2]float64 `json:"total_volumes"`
}

func (p *CoinGeckoProvider) Candles(ctx context.Context, symbol, interval string, limit int, quote string) ([]Candle, bool, error) {
	window, ok := coingeckoIntervals[interval]
	if !ok {
		return nil, false, nil
	}

	id := coingeckoID(symbol)
	vs := strings.ToLower(quote)
	if vs == "" {
		vs = "usd"
	}

	values := url.Values{}
	values.Set("vs_currency", vs)
	values.Set("days", fmt.Sprintf("%d", window.days))

	var resp coingeckoMarketChart
	status, err := p.get(ctx, "/coins/"+id+"/market_chart", values, &resp)
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusNotFound {
		return nil, false, nil
	}
	if status != http.StatusOK {
		return nil, false, fmt.Errorf("coingecko: market_chart returned status %d", status)
	}
	if len(resp.Prices) == 0 {
		return nil, false, nil
	}

	volumeAt := make(map[float64]float64, len(resp.TotalVolumes))
	for _, point := range resp.TotalVolumes {
		volumeAt[point[0]] = point[1]
	}

	candles := make([]Candle, 0, len(resp.Prices))
	for _, point := range resp.Prices {
		ts, price := point[0], point[1]
		candles = append(candles, Candle{
			OpenTime: int64(ts),
			Open:     price,
			High:     price,
			Low:      price,
			Close:    price,
			Volume:   volumeAt[ts],
		})
	}

	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, true, nil
}

func (p *CoinGeckoProvider) get(ctx context.Context, path string, values url.Values, out interface{}) (int, error) {
	u := p.baseURL + path
	if len(values) > 0 {
		u += "?" + values.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("coingecko: building request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("coingecko: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("coingecko: decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

var _ Provider = (*CoinGeckoProvider)(nil)
