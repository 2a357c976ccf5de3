package prices

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/metavault/custodian/internal/httpx"
)

func TestGetPricesPrimary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"chainlink": {"usd": 15, "usd_24h_change": -2.5},
			"weth": {"usd": 3000, "usd_24h_change": 1.2}
		}`))
	}))
	defer srv.Close()

	client := New(httpx.New(2*time.Second, 0))
	client.coinGeckoBase = srv.URL
	client.coinCapBase = "http://127.0.0.1:1" // must not be reached

	snap, err := client.GetPrices(context.Background())
	if err != nil {
		t.Fatalf("GetPrices: %v", err)
	}
	if snap.Source != "coingecko" {
		t.Fatalf("source = %s, want coingecko", snap.Source)
	}
	if snap.LinkUSD != 15 || snap.WethUSD != 3000 {
		t.Fatalf("prices = %v/%v, want 15/3000", snap.LinkUSD, snap.WethUSD)
	}
	if math.Abs(snap.LinkPerWeth-200) > 1e-9 {
		t.Fatalf("cross rate = %v, want 200", snap.LinkPerWeth)
	}
}

func TestGetPricesFallsBackToSecondary(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [
			{"id": "chainlink", "priceUsd": "14.5", "changePercent24Hr": "-1.1"},
			{"id": "ethereum", "priceUsd": "2900", "changePercent24Hr": "0.4"}
		]}`))
	}))
	defer secondary.Close()

	client := New(httpx.New(2*time.Second, 0))
	client.coinGeckoBase = primary.URL
	client.coinCapBase = secondary.URL

	snap, err := client.GetPrices(context.Background())
	if err != nil {
		t.Fatalf("GetPrices: %v", err)
	}
	if snap.Source != "coincap" {
		t.Fatalf("source = %s, want coincap", snap.Source)
	}
	if snap.LinkUSD != 14.5 || snap.WethUSD != 2900 {
		t.Fatalf("prices = %v/%v, want 14.5/2900", snap.LinkUSD, snap.WethUSD)
	}
}

func TestGetPricesFailsWhenBothSourcesFail(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	client := New(httpx.New(2*time.Second, 0))
	client.coinGeckoBase = broken.URL
	client.coinCapBase = broken.URL

	if _, err := client.GetPrices(context.Background()); err == nil {
		t.Fatal("expected error when both sources fail")
	}
}

func TestGetPricesRejectsZeroPrices(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"chainlink": {"usd": 0}, "weth": {"usd": 3000}}`))
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [
			{"id": "chainlink", "priceUsd": "14.5"},
			{"id": "ethereum", "priceUsd": "2900"}
		]}`))
	}))
	defer secondary.Close()

	client := New(httpx.New(2*time.Second, 0))
	client.coinGeckoBase = primary.URL
	client.coinCapBase = secondary.URL

	snap, err := client.GetPrices(context.Background())
	if err != nil {
		t.Fatalf("GetPrices: %v", err)
	}
	if snap.Source != "coincap" {
		t.Fatalf("zero primary price must fall through to coincap, got %s", snap.Source)
	}
}
