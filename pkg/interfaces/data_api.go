package interfaces

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a current-price snapshot for one stock.
type Quote struct {
	StockCode   string          `json:"stock_code"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Change      decimal.Decimal `json:"change"`
	ChangeRate  float64         `json:"change_rate"`
	Volume      int64           `json:"volume"`
	TradeAmount decimal.Decimal `json:"trade_amount"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	PrevClose   decimal.Decimal `json:"prev_close"`
	Timestamp   time.Time       `json:"timestamp"`
	// Extra carries broker specific fields such as PER or PBR
	Extra map[string]any `json:"extra,omitempty"`
}

// Bar is one OHLCV candle. Prices are float64 because they only feed indicator math;
// ledgers convert them to decimal at the fill boundary.
type Bar struct {
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	Value      float64   `json:"value,omitempty"`
	Change     float64   `json:"change,omitempty"`
	ChangeRate float64   `json:"change_rate,omitempty"`
}

// OrderBook is a depth snapshot, best level first on both sides.
type OrderBook struct {
	StockCode      string    `json:"stock_code"`
	AskPrices      []float64 `json:"ask_prices"`
	AskVolumes     []int64   `json:"ask_volumes"`
	BidPrices      []float64 `json:"bid_prices"`
	BidVolumes     []int64   `json:"bid_volumes"`
	TotalAskVolume int64     `json:"total_ask_volume"`
	TotalBidVolume int64     `json:"total_bid_volume"`
	Timestamp      time.Time `json:"timestamp"`
}

// ExecutionData aggregates traded volume by aggressor side for the current session.
type ExecutionData struct {
	StockCode  string    `json:"stock_code"`
	BuyVolume  int64     `json:"buy_volume"`
	SellVolume int64     `json:"sell_volume"`
	Timestamp  time.Time `json:"timestamp"`
}

// Balance summarises the trading account.
type Balance struct {
	TotalAsset      decimal.Decimal `json:"total_asset"`
	AvailableCash   decimal.Decimal `json:"available_cash"`
	TotalPurchase   decimal.Decimal `json:"total_purchase"`
	TotalEvaluation decimal.Decimal `json:"total_evaluation"`
	TotalPnL        decimal.Decimal `json:"total_pnl"`
	TotalPnLRate    float64         `json:"total_pnl_rate"`
}

// HoldingStock is a position as the broker sees it.
type HoldingStock struct {
	StockCode    string          `json:"stock_code"`
	StockName    string          `json:"stock_name"`
	Quantity     int64           `json:"quantity"`
	AvgPrice     decimal.Decimal `json:"avg_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Evaluation   decimal.Decimal `json:"evaluation"`
	PnL          decimal.Decimal `json:"pnl"`
	PnLRate      float64         `json:"pnl_rate"`
}

// StockInfo is one row of the listed-stock universe used by screening.
type StockInfo struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Market    string          `json:"market"`
	Sector    string          `json:"sector,omitempty"`
	MarketCap decimal.Decimal `json:"market_cap"`
	Price     decimal.Decimal `json:"price"`
}
