package indicators

import (
	"github.com/irfndi/neurastock/internal/talib"
	"github.com/irfndi/neurastock/pkg/interfaces"
)

// Strength is buy volume over sell volume in percent. No selling gives MaxStrength when there
// is buying and 100 when there is nothing at all.
func Strength(exec *interfaces.ExecutionData) StrengthReading {
	var buy, sell int64
	if exec != nil {
		buy, sell = exec.BuyVolume, exec.SellVolume
	}

	var strength float64
	switch {
	case sell == 0 && buy > 0:
		strength = MaxStrength
	case sell == 0:
		strength = 100
	default:
		strength = float64(buy) / float64(sell) * 100
	}

	pressure := StatusNeutral
	switch {
	case strength >= 120:
		pressure = PressureBuy
	case strength <= 80:
		pressure = PressureSell
	}

	return StrengthReading{
		Strength:   talib.Round(strength, 2),
		Pressure:   pressure,
		BuyVolume:  buy,
		SellVolume: sell,
	}
}

// Depth reads resting volume imbalance and walls (a level above three times its side's average).
// The ask side is checked first.
func Depth(book *interfaces.OrderBook) DepthReading {
	if book == nil {
		return DepthReading{BidAskRatio: 1, Imbalance: ImbalanceBalanced, WallSide: CrossNone}
	}

	var ratio float64
	switch {
	case book.TotalAskVolume == 0 && book.TotalBidVolume > 0:
		ratio = MaxStrength
	case book.TotalAskVolume == 0:
		ratio = 1
	default:
		ratio = float64(book.TotalBidVolume) / float64(book.TotalAskVolume)
	}

	imbalance := ImbalanceBalanced
	switch {
	case ratio >= 1.3:
		imbalance = ImbalanceBuy
	case ratio <= 0.7:
		imbalance = ImbalanceSell
	}

	r := DepthReading{BidAskRatio: talib.Round(ratio, 2), Imbalance: imbalance, WallSide: CrossNone}
	if hasWall(book.AskVolumes) {
		r.WallDetected, r.WallSide = true, WallAsk
	} else if hasWall(book.BidVolumes) {
		r.WallDetected, r.WallSide = true, WallBid
	}
	return r
}

func hasWall(levels []int64) bool {
	if len(levels) == 0 {
		return false
	}
	var sum float64
	for _, v := range levels {
		sum += float64(v)
	}
	avg := sum / float64(len(levels))
	for _, v := range levels {
		if float64(v) > avg*3 {
			return true
		}
	}
	return false
}
