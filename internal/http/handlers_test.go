package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/minyan-finder/internal/config"
	"github.com/example/minyan-finder/internal/models"
	"github.com/example/minyan-finder/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	cfg := config.ServerConfig{
		DefaultRadiusKm: 10,
		ReportLimit:     20,
		ZmanimTimeout:   50 * time.Millisecond,
	}
	s := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ms, ok := s.Store.(*storage.MemoryStore)
	if !ok {
		t.Fatal("expected memory store without PG_DSN")
	}
	return s, ms
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("bad response body %q: %v", w.Body.String(), err)
	}
}

func TestCreateAndSearchSynagogues(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "POST", "/synagogues", map[string]any{
		"name": "Beit Tefila", "address": "Dizengoff 1", "city": "Tel Aviv",
		"latitude": 32.08, "longitude": 34.78, "nusach": "ASHKENAZ",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, "POST", "/synagogues", map[string]any{
		"name": "בית כנסת הגדול", "address": "King George 56", "city": "ירושלים",
		"latitude": 31.77, "longitude": 35.21, "nusach": "SEPHARD",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", w.Code)
	}

	var out struct {
		Synagogues []map[string]any `json:"synagogues"`
	}
	w = doJSON(t, s, "GET", "/synagogues?lat=32.08&lng=34.78&radius=30", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search: expected 200, got %d", w.Code)
	}
	decode(t, w, &out)
	if len(out.Synagogues) != 1 {
		t.Fatalf("expected 1 synagogue within 30km, got %d", len(out.Synagogues))
	}

	// free text spans the corpus even with a tiny radius supplied
	w = doJSON(t, s, "GET", "/synagogues?lat=32.08&lng=34.78&radius=1&search=ירושלים", nil)
	decode(t, w, &out)
	if len(out.Synagogues) != 1 {
		t.Fatalf("text search ignored: got %d results", len(out.Synagogues))
	}
}

func TestCreateSynagogueValidation(t *testing.T) {
	s, _ := newTestServer(t)
	cases := []map[string]any{
		{"address": "x", "city": "y", "latitude": 0.0, "longitude": 0.0},             // no name
		{"name": "a", "address": "x", "city": "y", "latitude": 91.0, "longitude": 0}, // bad lat
		{"name": "a", "address": "x", "city": "y", "latitude": 0, "longitude": 0, "nusach": "KARAITE"},
	}
	for i, body := range cases {
		if w := doJSON(t, s, "POST", "/synagogues", body); w.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d", i, w.Code)
		}
	}
}

func TestReportLifecycle(t *testing.T) {
	s, ms := newTestServer(t)
	seedSynagogue(t, ms, "syn1")

	w := doJSON(t, s, "POST", "/minyan-reports", map[string]any{
		"synagogueId": "syn1", "reporterId": "u1",
		"prayerType": "SHACHARIT", "status": "NEEDS_MORE", "needsMore": 3,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Report models.MinyanReport `json:"report"`
	}
	decode(t, w, &created)
	id := created.Report.ID

	// out-of-range needsMore is rejected
	w = doJSON(t, s, "POST", "/minyan-reports", map[string]any{
		"synagogueId": "syn1", "reporterId": "u1",
		"prayerType": "SHACHARIT", "status": "NEEDS_MORE", "needsMore": 11,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for needsMore=11, got %d", w.Code)
	}

	verify := func(user string) *httptest.ResponseRecorder {
		return doJSON(t, s, "PUT", fmt.Sprintf("/minyan-reports/%s/verify", id), map[string]any{"userId": user})
	}
	var verified struct {
		Report models.MinyanReport `json:"report"`
	}
	decode(t, verify("A"), &verified)
	decode(t, verify("A"), &verified)
	if len(verified.Report.VerifiedBy) != 1 || verified.Report.IsVerified {
		t.Fatalf("repeat verify must be a no-op: %+v", verified.Report)
	}
	decode(t, verify("B"), &verified)
	if !verified.Report.IsVerified {
		t.Fatalf("expected verified after second user: %+v", verified.Report)
	}

	if w := verify(""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty userId, got %d", w.Code)
	}
	w = doJSON(t, s, "PUT", "/minyan-reports/none/verify", map[string]any{"userId": "A"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown report, got %d", w.Code)
	}

	var listed struct {
		Reports []models.MinyanReport `json:"reports"`
	}
	w = doJSON(t, s, "GET", "/minyan-reports?synagogueId=syn1&limit=5", nil)
	decode(t, w, &listed)
	if len(listed.Reports) != 1 || listed.Reports[0].ID != id {
		t.Fatalf("unexpected listing: %+v", listed.Reports)
	}
}

func TestPrayerTimes(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, "GET", "/prayer-times?lat=32.08&lng=34.78&date=2024-06-21", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out struct {
		PrayerTimes struct {
			Shacharit string `json:"shacharit"`
			Source    string `json:"source"`
		} `json:"prayerTimes"`
	}
	decode(t, w, &out)
	// no provider endpoints configured in tests, so the local tier answers
	if out.PrayerTimes.Source != "calculated" {
		t.Fatalf("expected calculated source, got %q", out.PrayerTimes.Source)
	}
	if len(out.PrayerTimes.Shacharit) != 5 {
		t.Fatalf("malformed clock %q", out.PrayerTimes.Shacharit)
	}

	if w := doJSON(t, s, "GET", "/prayer-times?lng=34.78", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without lat, got %d", w.Code)
	}
	if w := doJSON(t, s, "GET", "/prayer-times?lat=32.08&lng=34.78&date=junk", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", w.Code)
	}
}

func TestSynagogueDetail(t *testing.T) {
	s, ms := newTestServer(t)
	seedSynagogue(t, ms, "syn1")
	ms.PutUser(models.User{ID: "u1", Name: "David M.", TrustScore: 92})
	ms.PutReview(models.Review{ID: "rev1", SynagogueID: "syn1", UserID: "u1", Rating: 4})
	ms.PutReview(models.Review{ID: "rev2", SynagogueID: "syn1", UserID: "u2", Rating: 5})
	ms.PutSchedule(models.PrayerSchedule{SynagogueID: "syn1", DayOfWeek: 1, PrayerType: models.PrayerShacharit, Time: "07:30"})

	w := doJSON(t, s, "POST", "/minyan-reports", map[string]any{
		"synagogueId": "syn1", "reporterId": "u1",
		"prayerType": "SHACHARIT", "status": "ACTIVE_NOW", "minyanCount": 12,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("seed report failed: %d", w.Code)
	}

	w = doJSON(t, s, "GET", "/synagogues/syn1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out struct {
		Synagogue struct {
			AverageRating  float64                 `json:"averageRating"`
			TotalReviews   int                     `json:"totalReviews"`
			PrayerSchedule []models.PrayerSchedule `json:"prayerSchedule"`
			RecentReports  []struct {
				Status string       `json:"status"`
				User   *models.User `json:"user"`
			} `json:"recentReports"`
		} `json:"synagogue"`
	}
	decode(t, w, &out)
	if out.Synagogue.AverageRating != 4.5 || out.Synagogue.TotalReviews != 2 {
		t.Fatalf("rating not recomputed: %+v", out.Synagogue)
	}
	if len(out.Synagogue.PrayerSchedule) != 1 {
		t.Fatalf("schedule missing: %+v", out.Synagogue)
	}
	if len(out.Synagogue.RecentReports) != 1 || out.Synagogue.RecentReports[0].User == nil {
		t.Fatalf("recent reports missing reporter info: %+v", out.Synagogue.RecentReports)
	}
	if out.Synagogue.RecentReports[0].User.TrustScore != 92 {
		t.Fatalf("trust score not surfaced: %+v", out.Synagogue.RecentReports[0].User)
	}

	if w := doJSON(t, s, "GET", "/synagogues/none", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func seedSynagogue(t *testing.T, ms *storage.MemoryStore, id string) {
	t.Helper()
	err := ms.CreateSynagogue(context.Background(), &models.Synagogue{
		ID: id, Name: "Beit Tefila", Address: "Dizengoff 1", City: "Tel Aviv",
		Latitude: 32.08, Longitude: 34.78, Nusach: models.NusachAshkenaz,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestServersGetSeparateFeedRegistries(t *testing.T) {
	a, _ := newTestServer(t)
	b, _ := newTestServer(t)
	if a.Feed == b.Feed {
		t.Fatal("servers must not share a feed registry")
	}
	if any(a.Ledger.Notifier) != any(a.Feed) {
		t.Fatal("ledger must broadcast through its own server's registry")
	}
}
