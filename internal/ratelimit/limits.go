package ratelimit

import (
	"context"
	"time"
)

// Window granularities, in evaluation order.
type Granularity int

const (
	Minute Granularity = iota
	Hour
	Day
)

var granularities = [...]Granularity{Minute, Hour, Day}

func (g Granularity) Window() time.Duration {
	switch g {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Wire-format limit type, used in denial bodies and event rows.
func (g Granularity) String() string {
	switch g {
	case Minute:
		return "per_minute"
	case Hour:
		return "per_hour"
	case Day:
		return "per_day"
	default:
		return "unknown"
	}
}

// Effective request budget for one identity across all three windows.
type Limits struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
	PerDay    int `json:"per_day"`
}

func (l Limits) For(g Granularity) int {
	switch g {
	case Minute:
		return l.PerMinute
	case Hour:
		return l.PerHour
	case Day:
		return l.PerDay
	default:
		return 0
	}
}

// Outcome of one Take call. When Allowed is false, Exceeded names the first
// window (minute before hour before day) whose budget was exhausted, and
// Current/Limit/ResetAt describe that window.
type Result struct {
	Allowed  bool
	Exceeded Granularity
	Limit    int
	Current  int64
	ResetAt  time.Time
}

// Store maintains fixed-window counters per identity key.
//
// Take evaluates the minute, hour and day windows in that strict order and
// either consumes one unit from all three (atomically, as a unit) or denies
// without consuming anything. Fixed windows reset in place when their interval
// elapses, so bursts straddling a boundary can reach up to twice the nominal
// rate; that approximation is deliberate.
type Store interface {
	Take(ctx context.Context, key string, limits Limits) (Result, error)
}
