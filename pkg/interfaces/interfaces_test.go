package interfaces

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderResultRejected(t *testing.T) {
	var nilResult *OrderResult
	assert.False(t, nilResult.Rejected())

	assert.True(t, (&OrderResult{Status: ExecutionRejected}).Rejected())
	assert.False(t, (&OrderResult{Status: ExecutionFilled}).Rejected())
}

func TestBarJSONFieldNames(t *testing.T) {
	bar := Bar{
		Timestamp:  time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Open:       50000,
		High:       51000,
		Low:        49500,
		Close:      50500,
		Volume:     120000,
		Value:      6060000000,
		Change:     500,
		ChangeRate: 1.0,
	}

	data, err := json.Marshal(bar)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	for _, key := range []string{"timestamp", "open", "high", "low", "close", "volume", "value", "change", "change_rate"} {
		assert.Contains(t, fields, key)
	}
}

func TestOrderRequestCarriesDecimalPrice(t *testing.T) {
	req := OrderRequest{
		StockCode: "005930",
		Side:      OrderSideBuy,
		Type:      OrderTypeLimit,
		Quantity:  10,
		Price:     decimal.NewFromInt(71000),
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"price":"71000"`)
	assert.Contains(t, string(data), `"side":"BUY"`)
}
