package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/minyan-finder/internal/models"
	"github.com/example/minyan-finder/internal/observability"
	"github.com/example/minyan-finder/internal/storage"
)

const (
	// DefaultLimit bounds List when the caller gives none.
	DefaultLimit = 20
	// MaxLimit caps caller-supplied limits; no cursor pagination here.
	MaxLimit = 100
)

// Publisher receives every created report, best-effort.
type Publisher interface {
	PublishReport(r models.MinyanReport) error
}

// Notifier fans a created report out to live subscribers.
type Notifier interface {
	Broadcast(r models.MinyanReport)
}

// Service is the append-only ledger of quorum observations. Reports are
// immutable once written; the only mutation is the verification set-union,
// which the store applies atomically.
type Service struct {
	Store     storage.Store
	Publisher Publisher // optional
	Notifier  Notifier  // optional
	Logger    *slog.Logger

	// DefaultLimit replaces the package default for List when > 0.
	DefaultLimit int
}

// CreateInput carries the fields of one observation.
type CreateInput struct {
	SynagogueID string              `json:"synagogueId"`
	ReporterID  string              `json:"reporterId"`
	PrayerType  models.PrayerType   `json:"prayerType"`
	Status      models.ReportStatus `json:"status"`
	MinyanCount *int                `json:"minyanCount,omitempty"`
	NeedsMore   *int                `json:"needsMore,omitempty"`
	Notes       string              `json:"notes,omitempty"`
}

func (in *CreateInput) validate() error {
	if in.SynagogueID == "" {
		return models.Invalid("synagogueId", "required")
	}
	if in.ReporterID == "" {
		return models.Invalid("reporterId", "required")
	}
	if !in.PrayerType.Valid() {
		return models.Invalid("prayerType", "unknown prayer type")
	}
	if !in.Status.Valid() {
		return models.Invalid("status", "unknown status")
	}
	if in.MinyanCount != nil {
		if in.Status != models.StatusActiveNow {
			return models.Invalid("minyanCount", "only meaningful with status ACTIVE_NOW")
		}
		// a count below the quorum of ten is nonsensical for an active minyan
		if *in.MinyanCount < 10 || *in.MinyanCount > 200 {
			return models.Invalid("minyanCount", "must be within [10, 200]")
		}
	}
	if in.NeedsMore != nil {
		if in.Status != models.StatusNeedsMore {
			return models.Invalid("needsMore", "only meaningful with status NEEDS_MORE")
		}
		if *in.NeedsMore < 1 || *in.NeedsMore > 9 {
			return models.Invalid("needsMore", "must be within [1, 9]")
		}
	}
	return nil
}

// Create validates and persists one immutable observation with an empty
// verification set.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.MinyanReport, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := s.Store.GetSynagogue(ctx, in.SynagogueID); err != nil {
		return nil, fmt.Errorf("synagogue %s: %w", in.SynagogueID, err)
	}
	r := &models.MinyanReport{
		ID:          uuid.NewString(),
		SynagogueID: in.SynagogueID,
		ReporterID:  in.ReporterID,
		PrayerType:  in.PrayerType,
		Status:      in.Status,
		MinyanCount: in.MinyanCount,
		NeedsMore:   in.NeedsMore,
		Notes:       in.Notes,
		VerifiedBy:  []string{},
		ReportTime:  time.Now().UTC(),
	}
	if err := s.Store.CreateReport(ctx, r); err != nil {
		return nil, err
	}
	observability.ReportsCreatedTotal.Inc()
	if s.Publisher != nil {
		if err := s.Publisher.PublishReport(*r); err != nil && s.Logger != nil {
			s.Logger.Warn("report publish failed", "report_id", r.ID, "error", err)
		}
	}
	if s.Notifier != nil {
		s.Notifier.Broadcast(*r)
	}
	return r, nil
}

// Verify adds verifierID to the report's verification set. Idempotent:
// repeating the call with the same verifier changes nothing. The reporter
// cannot corroborate their own observation.
func (s *Service) Verify(ctx context.Context, reportID, verifierID string) (*models.MinyanReport, error) {
	if reportID == "" {
		return nil, models.Invalid("id", "required")
	}
	if verifierID == "" {
		return nil, models.Invalid("userId", "required")
	}
	r, err := s.Store.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.ReporterID == verifierID {
		return nil, models.Invalid("userId", "reporter cannot verify their own report")
	}
	updated, err := s.Store.AddVerifier(ctx, reportID, verifierID)
	if err != nil {
		return nil, err
	}
	observability.VerificationsTotal.Inc()
	return updated, nil
}

// ListFilter narrows List; all fields optional.
type ListFilter struct {
	SynagogueID string
	PrayerType  string
	Status      string
	Limit       int
}

// List returns matching reports newest first. Current status for a
// (synagogue, prayer) pair is by definition the first entry of such a
// query: recency is the primary trust signal.
func (s *Service) List(ctx context.Context, f ListFilter) ([]models.MinyanReport, error) {
	if f.PrayerType != "" && !models.PrayerType(f.PrayerType).Valid() {
		return nil, models.Invalid("prayerType", "unknown prayer type")
	}
	if f.Status != "" && !models.ReportStatus(f.Status).Valid() {
		return nil, models.Invalid("status", "unknown status")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = s.DefaultLimit
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return s.Store.ListReports(ctx, storage.ReportFilter{
		SynagogueID: f.SynagogueID,
		PrayerType:  models.PrayerType(f.PrayerType),
		Status:      models.ReportStatus(f.Status),
		Limit:       limit,
	})
}
