package backtest

import (
	"context"

	"github.com/irfndi/neurastock/internal/scoring"
	"github.com/irfndi/neurastock/internal/strategy"
	"github.com/irfndi/neurastock/pkg/indicators"
	"github.com/irfndi/neurastock/pkg/interfaces"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// signalWindow matches the bar count the live analysis requests.
	signalWindow = 150
	signalWarmup = 20
)

// IndicatorSignal scores each bar with the live indicator stack and classifier. History carries
// no tape, so execution strength is approximated from the bar direction.
func IndicatorSignal(profile strategy.Profile, logger *zap.Logger) SignalFunc {
	set := indicators.NewIndicatorSet(nil, logger)
	classifier := scoring.NewClassifier(profile)

	return func(ctx context.Context, code string, history []interfaces.Bar, bar interfaces.Bar) (scoring.Signal, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if len(history) < signalWarmup {
			return scoring.SignalHold, nil
		}
		if len(history) > signalWindow {
			history = history[len(history)-signalWindow:]
		}

		readings := set.Compute(indicators.Snapshot{
			StockCode: code,
			Bars:      history,
			Execution: syntheticExecution(code, bar),
		})
		return classifier.Classify(code, readings, decimal.NewFromFloat(bar.Close)).Signal, nil
	}
}

// syntheticExecution splits the bar volume 60/40 toward the side the bar closed on.
func syntheticExecution(code string, bar interfaces.Bar) *interfaces.ExecutionData {
	buy := bar.Volume * 6 / 10
	sell := bar.Volume - buy
	if bar.Close < bar.Open {
		buy, sell = sell, buy
	}
	return &interfaces.ExecutionData{
		StockCode:  code,
		BuyVolume:  buy,
		SellVolume: sell,
		Timestamp:  bar.Timestamp,
	}
}
