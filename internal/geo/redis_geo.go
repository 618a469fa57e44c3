package geo

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/minyan-finder/internal/models"
)

// RedisIndex answers purely geographic queries from Redis GEO structures,
// which the consumer keeps warm. Text queries, degenerate radii and
// anything else it cannot answer fall back to the full index.
type RedisIndex struct {
	client   *redis.Client
	key      string
	fallback Searcher
}

func NewRedisIndex(addr, password, key string, fallback Searcher) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key, fallback: fallback}
}

func (r *RedisIndex) Search(ctx context.Context, f Filter) ([]Summary, error) {
	if err := validateCenter(f.Center); err != nil {
		return nil, err
	}
	if strings.TrimSpace(f.Text) != "" || f.Center == nil || f.RadiusKm <= 0 || f.RadiusKm >= RadiusCeilingKm {
		return r.fallback.Search(ctx, f)
	}
	res, err := r.client.GeoRadius(ctx, r.key, f.Center.Lng, f.Center.Lat, &redis.GeoRadiusQuery{
		Radius: f.RadiusKm, Unit: "km", WithCoord: true, WithDist: true, Sort: "ASC",
	}).Result()
	if err != nil {
		// redis down is not a reason to fail a search
		return r.fallback.Search(ctx, f)
	}
	nusach := models.Nusach(f.Nusach)
	filterNusach := nusach.Valid()

	out := make([]Summary, 0, len(res))
	for _, g := range res {
		sum := Summary{ID: g.Name, Latitude: g.Latitude, Longitude: g.Longitude, DistanceKm: g.Dist}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			sum.Name = m["name"]
			sum.Address = m["address"]
			sum.City = m["city"]
			sum.Nusach = models.Nusach(m["nusach"])
			if v, ok := m["rating"]; ok {
				if x, err := strconv.ParseFloat(v, 64); err == nil {
					sum.AverageRating = x
				}
			}
			if v, ok := m["reviews"]; ok {
				if n, err := strconv.Atoi(v); err == nil {
					sum.TotalReviews = n
				}
			}
		}
		if filterNusach && sum.Nusach != nusach {
			continue
		}
		out = append(out, sum)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AverageRating > out[j].AverageRating })
	return out, nil
}

// Upsert registers a synagogue in the GEO set and its metadata hash.
func (r *RedisIndex) Upsert(ctx context.Context, s models.Synagogue) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: s.Longitude, Latitude: s.Latitude, Name: s.ID}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(s.ID), map[string]interface{}{
		"name":    s.Name,
		"address": s.Address,
		"city":    s.City,
		"nusach":  string(s.Nusach),
		"rating":  strconv.FormatFloat(s.AverageRating, 'f', 1, 64),
		"reviews": strconv.Itoa(s.TotalReviews),
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func metaKey(id string) string { return "synagogue:meta:" + id }

// StatusKey is the hash the consumer writes latest per-prayer statuses to.
func StatusKey(id string) string { return "synagogue:status:" + id }

// LiveStatus is one (prayer, status) observation from the latest-status
// hash the consumer keeps current.
type LiveStatus struct {
	PrayerType models.PrayerType   `json:"prayerType"`
	Status     models.ReportStatus `json:"status"`
	ReportID   string              `json:"reportId,omitempty"`
	Verified   bool                `json:"verified"`
	At         time.Time           `json:"at"`
}

// LiveStatuses reads the cached latest statuses for a synagogue. An
// empty slice means nothing has been observed yet.
func (r *RedisIndex) LiveStatuses(ctx context.Context, synagogueID string) ([]LiveStatus, error) {
	h, err := r.client.HGetAll(ctx, StatusKey(synagogueID)).Result()
	if err != nil {
		return nil, err
	}
	return ParseStatusHash(h), nil
}

// ParseStatusHash decodes the per-synagogue status hash. Each prayer type
// is a field holding the status, with ":at", ":report" and ":verified"
// companion fields. Unknown prayer types and statuses are skipped.
func ParseStatusHash(h map[string]string) []LiveStatus {
	out := make([]LiveStatus, 0, len(h))
	for field, val := range h {
		if strings.Contains(field, ":") {
			continue // companion field, read alongside its prayer type
		}
		pt := models.PrayerType(field)
		st := models.ReportStatus(val)
		if !pt.Valid() || !st.Valid() {
			continue
		}
		ls := LiveStatus{PrayerType: pt, Status: st, ReportID: h[field+":report"]}
		if v, err := strconv.ParseBool(h[field+":verified"]); err == nil {
			ls.Verified = v
		}
		if t, err := time.Parse(time.RFC3339, h[field+":at"]); err == nil {
			ls.At = t
		}
		out = append(out, ls)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrayerType < out[j].PrayerType })
	return out
}
