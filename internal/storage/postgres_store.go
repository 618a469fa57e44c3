package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/example/minyan-finder/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

const synagogueColumns = `id, name, address, city, state, country, postal_code, latitude, longitude,
	nusach, rabbi, phone, email, website, description, wheelchair_access, parking,
	air_conditioning, womens_section, mikveh, average_rating, total_reviews, created_at`

func (p *PostgresStore) CreateSynagogue(ctx context.Context, s *models.Synagogue) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO synagogues(`+synagogueColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		s.ID, s.Name, s.Address, s.City, s.State, s.Country, s.PostalCode, s.Latitude, s.Longitude,
		s.Nusach, s.Rabbi, s.Phone, s.Email, s.Website, s.Description, s.WheelchairAccess, s.Parking,
		s.AirConditioning, s.WomensSection, s.Mikveh, s.AverageRating, s.TotalReviews, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert synagogue: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetSynagogue(ctx context.Context, id string) (*models.Synagogue, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+synagogueColumns+` FROM synagogues WHERE id=$1`, id)
	s, err := scanSynagogue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return s, err
}

func (p *PostgresStore) ListSynagogues(ctx context.Context) ([]models.Synagogue, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+synagogueColumns+` FROM synagogues ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Synagogue
	for rows.Next() {
		s, err := scanSynagogue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSynagogue(row rowScanner) (*models.Synagogue, error) {
	var s models.Synagogue
	err := row.Scan(&s.ID, &s.Name, &s.Address, &s.City, &s.State, &s.Country, &s.PostalCode,
		&s.Latitude, &s.Longitude, &s.Nusach, &s.Rabbi, &s.Phone, &s.Email, &s.Website,
		&s.Description, &s.WheelchairAccess, &s.Parking, &s.AirConditioning, &s.WomensSection,
		&s.Mikveh, &s.AverageRating, &s.TotalReviews, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) SchedulesBySynagogue(ctx context.Context, synagogueID string) ([]models.PrayerSchedule, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT synagogue_id, day_of_week, prayer_type, prayer_time FROM prayer_schedules
		 WHERE synagogue_id=$1 ORDER BY day_of_week, prayer_type`, synagogueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PrayerSchedule
	for rows.Next() {
		var s models.PrayerSchedule
		if err := rows.Scan(&s.SynagogueID, &s.DayOfWeek, &s.PrayerType, &s.Time); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) PhotosBySynagogue(ctx context.Context, synagogueID string, limit int) ([]models.SynagoguePhoto, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, synagogue_id, url, caption, is_primary FROM synagogue_photos
		 WHERE synagogue_id=$1 ORDER BY is_primary DESC, id LIMIT $2`, synagogueID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.SynagoguePhoto
	for rows.Next() {
		var ph models.SynagoguePhoto
		if err := rows.Scan(&ph.ID, &ph.SynagogueID, &ph.URL, &ph.Caption, &ph.IsPrimary); err != nil {
			return nil, err
		}
		out = append(out, ph)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ReviewsBySynagogue(ctx context.Context, synagogueID string) ([]models.Review, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, synagogue_id, user_id, rating, comment, created_at FROM reviews
		 WHERE synagogue_id=$1 ORDER BY created_at DESC`, synagogueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.SynagogueID, &r.UserID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, trust_score FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Name, &u.TrustScore)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

const reportColumns = `id, synagogue_id, reporter_id, prayer_type, status, minyan_count, needs_more,
	notes, verified_by, report_time`

func (p *PostgresStore) CreateReport(ctx context.Context, r *models.MinyanReport) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO minyan_reports(`+reportColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.SynagogueID, r.ReporterID, r.PrayerType, r.Status, r.MinyanCount, r.NeedsMore,
		r.Notes, pq.Array(r.VerifiedBy), r.ReportTime)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetReport(ctx context.Context, id string) (*models.MinyanReport, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM minyan_reports WHERE id=$1`, id)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return r, err
}

// AddVerifier is a single conditional UPDATE, so the set-union applies
// atomically: racing calls with distinct verifiers both append, and a
// verifier already in the array leaves the row untouched.
func (p *PostgresStore) AddVerifier(ctx context.Context, reportID, verifierID string) (*models.MinyanReport, error) {
	row := p.db.QueryRowContext(ctx,
		`UPDATE minyan_reports
		    SET verified_by = array_append(verified_by, $2)
		  WHERE id = $1 AND NOT (verified_by @> ARRAY[$2::text])
		RETURNING `+reportColumns, reportID, verifierID)
	r, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		// no-op append or unknown id; GetReport distinguishes the two
		return p.GetReport(ctx, reportID)
	}
	return r, err
}

func (p *PostgresStore) ListReports(ctx context.Context, f ReportFilter) ([]models.MinyanReport, error) {
	query := `SELECT ` + reportColumns + ` FROM minyan_reports WHERE 1=1`
	args := []any{}
	if f.SynagogueID != "" {
		args = append(args, f.SynagogueID)
		query += fmt.Sprintf(" AND synagogue_id=$%d", len(args))
	}
	if f.PrayerType != "" {
		args = append(args, f.PrayerType)
		query += fmt.Sprintf(" AND prayer_type=$%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status=$%d", len(args))
	}
	query += " ORDER BY report_time DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MinyanReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanReport(row rowScanner) (*models.MinyanReport, error) {
	var r models.MinyanReport
	err := row.Scan(&r.ID, &r.SynagogueID, &r.ReporterID, &r.PrayerType, &r.Status,
		&r.MinyanCount, &r.NeedsMore, &r.Notes, pq.Array(&r.VerifiedBy), &r.ReportTime)
	if err != nil {
		return nil, err
	}
	r.IsVerified = r.Verified()
	return &r, nil
}
