package rating

import (
	"math"

	"github.com/example/minyan-finder/internal/models"
)

// Summary is the display aggregate derived from raw reviews.
type Summary struct {
	Average      float64 `json:"average"`
	TotalReviews int     `json:"totalReviews"`
}

// ComputeAverage derives the display rating from raw review records.
// Recomputed on each read; the mean is rounded half-up to one decimal.
func ComputeAverage(reviews []models.Review) Summary {
	if len(reviews) == 0 {
		return Summary{}
	}
	sum := 0
	for _, r := range reviews {
		sum += r.Rating
	}
	avg := float64(sum) / float64(len(reviews))
	return Summary{
		Average:      math.Floor(avg*10+0.5) / 10,
		TotalReviews: len(reviews),
	}
}
