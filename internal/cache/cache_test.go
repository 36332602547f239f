package cache

import "testing"

// RedisCache's Get/Set/Healthy paths require a live Redis connection, so
// only the pure cache-key builders are unit tested here, matching how
// the rest of this engine tests its thin live-service wrappers.

func TestPriceKey(t *testing.T) {
	if got := PriceKey("BTC"); got != "prices:BTC" {
		t.Errorf("PriceKey(%q) = %q, want %q", "BTC", got, "prices:BTC")
	}
}

func TestCandleKey(t *testing.T) {
	got := CandleKey("BTC", "1h", 50, "usd")
	want := "klines:BTC:1h:50:usd"
	if got != want {
		t.Errorf("CandleKey(...) = %q, want %q", got, want)
	}
}
