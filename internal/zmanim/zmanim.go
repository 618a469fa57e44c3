package zmanim

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/example/minyan-finder/internal/observability"
)

// Times holds resolved prayer times as 24-hour HH:MM strings plus the
// provenance of the data.
type Times struct {
	Shacharit string `json:"shacharit"`
	Mincha    string `json:"mincha"`
	Maariv    string `json:"maariv"`
	Sunrise   string `json:"sunrise"`
	Sunset    string `json:"sunset"`
	Source    string `json:"source"`
}

// Provider fetches prayer times from one upstream source.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, lat, lng float64, date time.Time) (Times, error)
}

// Resolver tries each provider in order under a bounded timeout and falls
// back to a local solar computation that cannot fail. Adding a provider
// means appending to the chain.
type Resolver struct {
	providers []Provider
	timeout   time.Duration
	logger    *slog.Logger
}

func NewResolver(logger *slog.Logger, timeout time.Duration, providers ...Provider) *Resolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Resolver{providers: providers, timeout: timeout, logger: logger}
}

// Resolve never fails: every provider error degrades one tier, and the
// terminal tier is pure arithmetic.
func (r *Resolver) Resolve(ctx context.Context, lat, lng float64, date time.Time) Times {
	for _, p := range r.providers {
		pctx, cancel := context.WithTimeout(ctx, r.timeout)
		t, err := p.Fetch(pctx, lat, lng, date)
		cancel()
		if err == nil {
			return t
		}
		observability.ZmanimFallbacks.WithLabelValues(p.Name()).Inc()
		if r.logger != nil {
			r.logger.Debug("zmanim provider failed", "provider", p.Name(), "error", err)
		}
	}
	return Calculate(lat, lng, date)
}

// Calculate derives sunrise/sunset from a simplified solar model and offsets
// the prayer times from them. Not halachically precise; it is the terminal
// fallback when no provider answers.
func Calculate(lat, lng float64, date time.Time) Times {
	dayOfYear := float64(date.YearDay())
	decl := 23.45 * math.Sin(2*math.Pi*(284+dayOfYear)/365)

	// clamp keeps acos defined through polar day/night; sunrise and sunset
	// collapse toward each other instead of producing NaN
	x := -math.Tan(lat*math.Pi/180) * math.Tan(decl*math.Pi/180)
	if x > 1 {
		x = 1
	} else if x < -1 {
		x = -1
	}
	hourAngle := math.Acos(x)

	sunriseH := 12 - hourAngle*12/math.Pi - lng/15
	sunsetH := 12 + hourAngle*12/math.Pi - lng/15

	sunrise := clockFromHours(sunriseH)
	sunset := clockFromHours(sunsetH)
	return Times{
		Shacharit: AddMinutes(sunrise, 30),
		Mincha:    AddMinutes(sunset, -30),
		Maariv:    AddMinutes(sunset, 15),
		Sunrise:   sunrise,
		Sunset:    sunset,
		Source:    "calculated",
	}
}

func clockFromHours(h float64) string {
	total := int(math.Floor(h * 60))
	total %= 24 * 60
	if total < 0 {
		total += 24 * 60
	}
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// AddMinutes shifts an HH:MM clock string, wrapping modulo 24h.
func AddMinutes(clock string, delta int) string {
	var h, m int
	if _, err := fmt.Sscanf(clock, "%d:%d", &h, &m); err != nil {
		return clock
	}
	total := (h*60 + m + delta) % (24 * 60)
	if total < 0 {
		total += 24 * 60
	}
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
