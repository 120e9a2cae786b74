package orchestrator

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

const clockLayout = "15:04"

// MarketHours is one exchange's session in its own timezone. Weekends are closed; holidays are
// not modelled.
type MarketHours struct {
	Location  *time.Location
	PreMarket time.Duration
	Open      time.Duration
	Close     time.Duration
}

// NewMarketHours parses HH:MM boundaries in tz.
func NewMarketHours(tz, preMarket, open, closeAt string) (MarketHours, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return MarketHours{}, fmt.Errorf("timezone %q: %w", tz, err)
	}
	h := MarketHours{Location: loc}
	for _, f := range []struct {
		dst *time.Duration
		val string
	}{{&h.PreMarket, preMarket}, {&h.Open, open}, {&h.Close, closeAt}} {
		t, err := time.Parse(clockLayout, f.val)
		if err != nil {
			return MarketHours{}, fmt.Errorf("market time %q: must be HH:MM", f.val)
		}
		*f.dst = time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
	}
	if h.PreMarket > h.Open || h.Open >= h.Close {
		return MarketHours{}, fmt.Errorf("market times must satisfy pre_market <= open < close")
	}
	return h, nil
}

func (h MarketHours) local(t time.Time) time.Time {
	if h.Location == nil {
		return t
	}
	return t.In(h.Location)
}

// Day is local midnight of t's trading date.
func (h MarketHours) Day(t time.Time) time.Time {
	lt := h.local(t)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, lt.Location())
}

func (h MarketHours) sinceMidnight(t time.Time) time.Duration {
	return h.local(t).Sub(h.Day(t))
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsOpen is true from open to close inclusive on weekdays.
func (h MarketHours) IsOpen(t time.Time) bool {
	if !isWeekday(h.local(t)) {
		return false
	}
	s := h.sinceMidnight(t)
	return s >= h.Open && s <= h.Close
}

// IsPreMarket is true from the pre-market mark up to, not including, the open.
func (h MarketHours) IsPreMarket(t time.Time) bool {
	if !isWeekday(h.local(t)) {
		return false
	}
	s := h.sinceMidnight(t)
	return s >= h.PreMarket && s < h.Open
}

func (h MarketHours) AfterClose(t time.Time) bool {
	return h.sinceMidnight(t) > h.Close
}

// NextOpen is the first session open strictly after t.
func (h MarketHours) NextOpen(t time.Time) time.Time {
	day := h.Day(t)
	for i := 0; i < 8; i++ {
		d := day.AddDate(0, 0, i)
		open := d.Add(h.Open)
		if isWeekday(d) && open.After(h.local(t)) {
			return open
		}
	}
	return day.AddDate(0, 0, 8).Add(h.Open)
}
