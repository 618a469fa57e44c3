package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/minyan-finder/internal/models"
	"github.com/example/minyan-finder/internal/storage"
)

func newService(t *testing.T) (*Service, *storage.MemoryStore) {
	t.Helper()
	ms := storage.NewMemoryStore()
	if err := ms.CreateSynagogue(context.Background(), &models.Synagogue{ID: "syn1", Name: "Beit Tefila"}); err != nil {
		t.Fatal(err)
	}
	return &Service{Store: ms}, ms
}

func intPtr(v int) *int { return &v }

func TestCreateValidates(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	cases := []struct {
		name string
		in   CreateInput
	}{
		{"missing synagogue", CreateInput{ReporterID: "u1", PrayerType: models.PrayerShacharit, Status: models.StatusActiveNow}},
		{"missing reporter", CreateInput{SynagogueID: "syn1", PrayerType: models.PrayerShacharit, Status: models.StatusActiveNow}},
		{"bad prayer type", CreateInput{SynagogueID: "syn1", ReporterID: "u1", PrayerType: "BRUNCH", Status: models.StatusActiveNow}},
		{"bad status", CreateInput{SynagogueID: "syn1", ReporterID: "u1", PrayerType: models.PrayerShacharit, Status: "MAYBE"}},
		{"needsMore out of range", CreateInput{SynagogueID: "syn1", ReporterID: "u1", PrayerType: models.PrayerShacharit, Status: models.StatusNeedsMore, NeedsMore: intPtr(11)}},
		{"needsMore wrong status", CreateInput{SynagogueID: "syn1", ReporterID: "u1", PrayerType: models.PrayerShacharit, Status: models.StatusActiveNow, NeedsMore: intPtr(3)}},
		{"minyanCount below quorum", CreateInput{SynagogueID: "syn1", ReporterID: "u1", PrayerType: models.PrayerShacharit, Status: models.StatusActiveNow, MinyanCount: intPtr(5)}},
		{"minyanCount too high", CreateInput{SynagogueID: "syn1", ReporterID: "u1", PrayerType: models.PrayerShacharit, Status: models.StatusActiveNow, MinyanCount: intPtr(300)}},
		{"minyanCount wrong status", CreateInput{SynagogueID: "syn1", ReporterID: "u1", PrayerType: models.PrayerShacharit, Status: models.StatusFinished, MinyanCount: intPtr(12)}},
	}
	for _, c := range cases {
		if _, err := s.Create(ctx, c.in); !models.IsValidation(err) {
			t.Fatalf("%s: expected validation error, got %v", c.name, err)
		}
	}
}

func TestCreateAccepts(t *testing.T) {
	s, _ := newService(t)
	r, err := s.Create(context.Background(), CreateInput{
		SynagogueID: "syn1", ReporterID: "u1",
		PrayerType: models.PrayerMincha, Status: models.StatusNeedsMore,
		NeedsMore: intPtr(3), Notes: "two more and we start",
	})
	if err != nil {
		t.Fatal(err)
	}
	if r.ID == "" || r.IsVerified || len(r.VerifiedBy) != 0 {
		t.Fatalf("fresh report should be unverified with no verifiers: %+v", r)
	}
	if r.ReportTime.IsZero() {
		t.Fatal("report time not set")
	}
}

func TestCreateUnknownSynagogue(t *testing.T) {
	s, _ := newService(t)
	_, err := s.Create(context.Background(), CreateInput{
		SynagogueID: "nope", ReporterID: "u1",
		PrayerType: models.PrayerMaariv, Status: models.StatusNoMinyan,
	})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestVerifyIdempotent(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	r, err := s.Create(ctx, CreateInput{SynagogueID: "syn1", ReporterID: "u1", PrayerType: models.PrayerShacharit, Status: models.StatusActiveNow})
	if err != nil {
		t.Fatal(err)
	}
	first, err := s.Verify(ctx, r.ID, "A")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Verify(ctx, r.ID, "A")
	if err != nil {
		t.Fatal(err)
	}
	if len(first.VerifiedBy) != 1 || len(second.VerifiedBy) != 1 {
		t.Fatalf("repeat verification must not double-count: %v then %v", first.VerifiedBy, second.VerifiedBy)
	}
	if second.IsVerified {
		t.Fatal("one verifier must not reach the threshold")
	}
}

func TestVerifyThreshold(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	r, _ := s.Create(ctx, CreateInput{SynagogueID: "syn1", ReporterID: "u1", PrayerType: models.PrayerShacharit, Status: models.StatusActiveNow})

	if _, err := s.Verify(ctx, r.ID, "A"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Verify(ctx, r.ID, "B")
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsVerified {
		t.Fatalf("two distinct verifiers should verify: %+v", got)
	}
	got, err = s.Verify(ctx, r.ID, "C")
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsVerified || len(got.VerifiedBy) != 3 {
		t.Fatalf("third verifier should keep verified with size 3: %+v", got)
	}
}

func TestVerifySelfRejected(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	r, _ := s.Create(ctx, CreateInput{SynagogueID: "syn1", ReporterID: "u1", PrayerType: models.PrayerShacharit, Status: models.StatusActiveNow})
	if _, err := s.Verify(ctx, r.ID, "u1"); !models.IsValidation(err) {
		t.Fatalf("reporter verifying their own report should fail validation, got %v", err)
	}
}

func TestVerifyUnknownReport(t *testing.T) {
	s, _ := newService(t)
	if _, err := s.Verify(context.Background(), "missing", "A"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestVerifyConcurrentSameVerifier(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	r, _ := s.Create(ctx, CreateInput{SynagogueID: "syn1", ReporterID: "u1", PrayerType: models.PrayerShacharit, Status: models.StatusActiveNow})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Verify(ctx, r.ID, "A")
		}()
	}
	wg.Wait()
	got, err := s.Store.GetReport(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.VerifiedBy) != 1 {
		t.Fatalf("concurrent same-verifier calls double-added: %v", got.VerifiedBy)
	}
}

func TestVerifyConcurrentDistinctVerifiers(t *testing.T) {
	s, _ := newService(t)
	ctx := context.Background()
	r, _ := s.Create(ctx, CreateInput{SynagogueID: "syn1", ReporterID: "u1", PrayerType: models.PrayerShacharit, Status: models.StatusActiveNow})

	verifiers := []string{"A", "B", "C", "D"}
	var wg sync.WaitGroup
	for _, v := range verifiers {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			_, _ = s.Verify(ctx, r.ID, v)
		}(v)
	}
	wg.Wait()
	got, err := s.Store.GetReport(ctx, r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.VerifiedBy) != len(verifiers) {
		t.Fatalf("lost a concurrent verification: %v", got.VerifiedBy)
	}
	if !got.IsVerified {
		t.Fatal("report should be verified")
	}
}

func TestListOrderAndLimit(t *testing.T) {
	s, ms := newService(t)
	ctx := context.Background()
	if err := ms.CreateSynagogue(ctx, &models.Synagogue{ID: "syn2", Name: "Other"}); err != nil {
		t.Fatal(err)
	}
	base := time.Now().UTC()
	for i := 0; i < 8; i++ {
		synID := "syn1"
		if i%2 == 1 {
			synID = "syn2"
		}
		r := &models.MinyanReport{
			ID:          string(rune('a' + i)),
			SynagogueID: synID,
			ReporterID:  "u1",
			PrayerType:  models.PrayerShacharit,
			Status:      models.StatusActiveNow,
			VerifiedBy:  []string{},
			ReportTime:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := ms.CreateReport(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.List(ctx, ListFilter{SynagogueID: "syn1", Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].ReportTime.After(got[i-1].ReportTime) {
			t.Fatalf("reports not ordered newest first: %v", got)
		}
	}
	for _, r := range got {
		if r.SynagogueID != "syn1" {
			t.Fatalf("filter leak: %+v", r)
		}
	}
}

func TestListRejectsUnknownEnums(t *testing.T) {
	s, _ := newService(t)
	if _, err := s.List(context.Background(), ListFilter{PrayerType: "BRUNCH"}); !models.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := s.List(context.Background(), ListFilter{Status: "MAYBE"}); !models.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListDefaultLimit(t *testing.T) {
	s, ms := newService(t)
	ctx := context.Background()
	for i := 0; i < DefaultLimit+5; i++ {
		r := &models.MinyanReport{
			ID:          uuidLike(i),
			SynagogueID: "syn1",
			ReporterID:  "u1",
			PrayerType:  models.PrayerMaariv,
			Status:      models.StatusFinished,
			VerifiedBy:  []string{},
			ReportTime:  time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := ms.CreateReport(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.List(ctx, ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != DefaultLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultLimit, len(got))
	}
}

func TestListConfiguredDefaultLimit(t *testing.T) {
	s, ms := newService(t)
	s.DefaultLimit = 3
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		r := &models.MinyanReport{
			ID:          uuidLike(i),
			SynagogueID: "syn1",
			ReporterID:  "u1",
			PrayerType:  models.PrayerMaariv,
			Status:      models.StatusFinished,
			VerifiedBy:  []string{},
			ReportTime:  time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := ms.CreateReport(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.List(ctx, ListFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected configured limit 3, got %d", len(got))
	}
	// an explicit limit still wins
	got, err = s.List(ctx, ListFilter{Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("expected explicit limit 5, got %d", len(got))
	}
}

func uuidLike(i int) string { return string(rune('a'+i%26)) + string(rune('0'+i/26)) }
