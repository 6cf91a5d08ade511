package health

import (
	"context"
	"strings"

	"github.com/mbd888/cryptoguard/internal/circuitbreaker"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Database reports whether the store database answers a ping.
func Database(db Pinger) Checker {
	return func(ctx context.Context) Status {
		if err := db.PingContext(ctx); err != nil {
			return Status{Name: "database", Healthy: false, Detail: err.Error()}
		}
		return Status{Name: "database", Healthy: true}
	}
}

// BreakerStates is satisfied by *circuitbreaker.Breaker.
type BreakerStates interface {
	State(key string) circuitbreaker.State
}

// Breakers is unhealthy while any of the keyed circuits is open. Half-open
// circuits are reported in the detail but count as healthy.
func Breakers(name string, b BreakerStates, keys ...string) Checker {
	return func(context.Context) Status {
		var open, probing []string
		for _, k := range keys {
			switch b.State(k) {
			case circuitbreaker.StateOpen:
				open = append(open, k)
			case circuitbreaker.StateHalfOpen:
				probing = append(probing, k)
			}
		}
		st := Status{Name: name, Healthy: len(open) == 0}
		switch {
		case len(open) > 0:
			st.Detail = "open: " + strings.Join(open, ",")
		case len(probing) > 0:
			st.Detail = "half-open: " + strings.Join(probing, ",")
		}
		return st
	}
}
