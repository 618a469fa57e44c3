package geo

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/example/minyan-finder/internal/models"
)

// RadiusCeilingKm is the radius at which the geographic filter is treated
// as disabled: a caller asking for everything within 500km effectively
// wants the whole corpus, and filtering would only lose results to
// floating point edge cases.
const RadiusCeilingKm = 500

// Searcher is the minimal interface the handlers need.
type Searcher interface {
	Search(ctx context.Context, f Filter) ([]Summary, error)
}

// Source supplies the synagogue corpus, normally the persistence layer.
type Source interface {
	ListSynagogues(ctx context.Context) ([]models.Synagogue, error)
}

// Filter is the caller-supplied search criteria. All fields are optional;
// a zero Filter matches everything.
type Filter struct {
	Center   *models.Coord
	RadiusKm float64
	Nusach   string
	Text     string
}

// Summary is the ranked search result row.
type Summary struct {
	ID               string        `json:"id"`
	Name             string        `json:"name"`
	Address          string        `json:"address"`
	City             string        `json:"city"`
	Latitude         float64       `json:"latitude"`
	Longitude        float64       `json:"longitude"`
	Nusach           models.Nusach `json:"nusach"`
	AverageRating    float64       `json:"averageRating"`
	TotalReviews     int           `json:"totalReviews"`
	WheelchairAccess bool          `json:"wheelchairAccess"`
	Parking          bool          `json:"parking"`
	AirConditioning  bool          `json:"airConditioning"`
	DistanceKm       float64       `json:"distanceKm,omitempty"`
}

// Rater recomputes the display rating for a synagogue. Optional; when nil
// the denormalized rating stored on the record is used as-is.
type Rater interface {
	Rate(ctx context.Context, synagogueID string) (average float64, total int, err error)
}

type Index struct {
	src   Source
	rater Rater
}

func NewIndex(src Source, rater Rater) *Index {
	return &Index{src: src, rater: rater}
}

// Search filters and ranks the corpus. Free text spans the whole corpus and
// suppresses the geographic filter; typed queries are not assumed to
// correlate with the caller's location.
func (ix *Index) Search(ctx context.Context, f Filter) ([]Summary, error) {
	if err := validateCenter(f.Center); err != nil {
		return nil, err
	}
	all, err := ix.src.ListSynagogues(ctx)
	if err != nil {
		return nil, err
	}

	text := strings.ToLower(strings.TrimSpace(f.Text))
	// unrecognized nusach values are ignored rather than excluding everything
	nusach := models.Nusach(f.Nusach)
	filterNusach := nusach.Valid()
	geoActive := text == "" && f.Center != nil && f.RadiusKm > 0 && f.RadiusKm < RadiusCeilingKm

	out := make([]Summary, 0, len(all))
	for _, s := range all {
		if filterNusach && s.Nusach != nusach {
			continue
		}
		if text != "" && !matchesText(&s, text) {
			continue
		}
		sum := toSummary(&s)
		if ix.rater != nil {
			if avg, total, err := ix.rater.Rate(ctx, s.ID); err == nil {
				sum.AverageRating = avg
				sum.TotalReviews = total
			}
		}
		if f.Center != nil && text == "" {
			sum.DistanceKm = HaversineKm(f.Center.Lat, f.Center.Lng, s.Latitude, s.Longitude)
			if geoActive && sum.DistanceKm > f.RadiusKm {
				continue
			}
		}
		out = append(out, sum)
	}

	// rank by display rating, ties keep input order
	sort.SliceStable(out, func(i, j int) bool { return out[i].AverageRating > out[j].AverageRating })
	return out, nil
}

func validateCenter(c *models.Coord) error {
	if c == nil {
		return nil
	}
	if c.Lat < -90 || c.Lat > 90 {
		return models.Invalid("lat", "must be within [-90, 90]")
	}
	if c.Lng < -180 || c.Lng > 180 {
		return models.Invalid("lng", "must be within [-180, 180]")
	}
	return nil
}

// matchesText does a case-insensitive substring match. strings.ToLower is a
// per-rune mapping, so Hebrew and other unaffected scripts pass through
// unchanged and still match.
func matchesText(s *models.Synagogue, lowered string) bool {
	return strings.Contains(strings.ToLower(s.Name), lowered) ||
		strings.Contains(strings.ToLower(s.Address), lowered) ||
		strings.Contains(strings.ToLower(s.City), lowered)
}

func toSummary(s *models.Synagogue) Summary {
	return Summary{
		ID:               s.ID,
		Name:             s.Name,
		Address:          s.Address,
		City:             s.City,
		Latitude:         s.Latitude,
		Longitude:        s.Longitude,
		Nusach:           s.Nusach,
		AverageRating:    s.AverageRating,
		TotalReviews:     s.TotalReviews,
		WheelchairAccess: s.WheelchairAccess,
		Parking:          s.Parking,
		AirConditioning:  s.AirConditioning,
	}
}

// HaversineKm is the great-circle distance in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
