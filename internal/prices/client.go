package prices

import (
	"context"
	"net/http"
	"strconv"

	cerr "github.com/metavault/custodian/internal/errors"
	"github.com/metavault/custodian/internal/httpx"
)

const (
	defaultCoinGeckoBase = "https://api.coingecko.com"
	defaultCoinCapBase   = "https://api.coincap.io"
)

// Snapshot is one cycle's fresh market observation. Never cached across
// cycles.
type Snapshot struct {
	LinkUSD       float64 `json:"link_usd"`
	WethUSD       float64 `json:"weth_usd"`
	LinkPerWeth   float64 `json:"link_per_weth"`
	Change24hLink float64 `json:"change_24h_link"`
	Change24hWeth float64 `json:"change_24h_weth"`
	Source        string  `json:"source"`
}

// Client fetches USD prices for the vault's two reference assets, falling back
// to a secondary source when the primary fails. A cycle step fails only when
// both sources fail.
type Client struct {
	http          *httpx.Client
	coinGeckoBase string
	coinCapBase   string
}

func New(httpClient *httpx.Client) *Client {
	return &Client{
		http:          httpClient,
		coinGeckoBase: defaultCoinGeckoBase,
		coinCapBase:   defaultCoinCapBase,
	}
}

func (c *Client) GetPrices(ctx context.Context) (Snapshot, error) {
	snap, primaryErr := c.fromCoinGecko(ctx)
	if primaryErr == nil {
		return snap, nil
	}
	snap, fallbackErr := c.fromCoinCap(ctx)
	if fallbackErr == nil {
		return snap, nil
	}
	return Snapshot{}, cerr.Wrap(cerr.CodeUnavailable, "both price sources failed", primaryErr)
}

type coinGeckoAsset struct {
	USD       float64 `json:"usd"`
	Change24h float64 `json:"usd_24h_change"`
}

type coinGeckoResp struct {
	Chainlink coinGeckoAsset `json:"chainlink"`
	Weth      coinGeckoAsset `json:"weth"`
}

func (c *Client) fromCoinGecko(ctx context.Context) (Snapshot, error) {
	url := c.coinGeckoBase + "/api/v3/simple/price?ids=chainlink,weth&vs_currencies=usd&include_24hr_change=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Snapshot{}, cerr.Wrap(cerr.CodeInternal, "build coingecko request", err)
	}
	var resp coinGeckoResp
	if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
		return Snapshot{}, err
	}
	if resp.Chainlink.USD == 0 || resp.Weth.USD == 0 {
		return Snapshot{}, cerr.New(cerr.CodeUnavailable, "coingecko returned zero prices")
	}
	return Snapshot{
		LinkUSD:       resp.Chainlink.USD,
		WethUSD:       resp.Weth.USD,
		LinkPerWeth:   resp.Weth.USD / resp.Chainlink.USD,
		Change24hLink: resp.Chainlink.Change24h,
		Change24hWeth: resp.Weth.Change24h,
		Source:        "coingecko",
	}, nil
}

type coinCapResp struct {
	Data []struct {
		ID           string `json:"id"`
		PriceUSD     string `json:"priceUsd"`
		ChangePct24h string `json:"changePercent24Hr"`
	} `json:"data"`
}

func (c *Client) fromCoinCap(ctx context.Context) (Snapshot, error) {
	url := c.coinCapBase + "/v2/assets?ids=chainlink,ethereum"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Snapshot{}, cerr.Wrap(cerr.CodeInternal, "build coincap request", err)
	}
	var resp coinCapResp
	if _, err := c.http.DoJSON(ctx, req, &resp); err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	for _, asset := range resp.Data {
		price, err := strconv.ParseFloat(asset.PriceUSD, 64)
		if err != nil {
			continue
		}
		change, _ := strconv.ParseFloat(asset.ChangePct24h, 64)
		switch asset.ID {
		case "chainlink":
			snap.LinkUSD = price
			snap.Change24hLink = change
		case "ethereum":
			// ETH price stands in for WETH on the fallback source.
			snap.WethUSD = price
			snap.Change24hWeth = change
		}
	}
	if snap.LinkUSD == 0 || snap.WethUSD == 0 {
		return Snapshot{}, cerr.New(cerr.CodeUnavailable, "coincap response missing assets")
	}
	snap.LinkPerWeth = snap.WethUSD / snap.LinkUSD
	snap.Source = "coincap"
	return snap, nil
}
