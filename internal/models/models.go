package models

import "time"

// Nusach is the liturgical rite a synagogue follows.
type Nusach string

const (
	NusachAshkenaz    Nusach = "ASHKENAZ"
	NusachSephard     Nusach = "SEPHARD"
	NusachEdotMizrach Nusach = "EDOT_MIZRACH"
	NusachChabad      Nusach = "CHABAD"
	NusachTemani      Nusach = "TEMANI"
)

func (n Nusach) Valid() bool {
	switch n {
	case NusachAshkenaz, NusachSephard, NusachEdotMizrach, NusachChabad, NusachTemani:
		return true
	}
	return false
}

// PrayerType names a daily or occasion service.
type PrayerType string

const (
	PrayerShacharit PrayerType = "SHACHARIT"
	PrayerMincha    PrayerType = "MINCHA"
	PrayerMaariv    PrayerType = "MAARIV"
	PrayerMusaf     PrayerType = "MUSAF"
	PrayerNeilah    PrayerType = "NEILAH"
)

func (p PrayerType) Valid() bool {
	switch p {
	case PrayerShacharit, PrayerMincha, PrayerMaariv, PrayerMusaf, PrayerNeilah:
		return true
	}
	return false
}

// ReportStatus is the observed quorum state at report time.
type ReportStatus string

const (
	StatusActiveNow    ReportStatus = "ACTIVE_NOW"
	StatusStartingSoon ReportStatus = "STARTING_SOON"
	StatusNeedsMore    ReportStatus = "NEEDS_MORE"
	StatusFinished     ReportStatus = "FINISHED"
	StatusNoMinyan     ReportStatus = "NO_MINYAN"
	StatusCancelled    ReportStatus = "CANCELLED"
)

func (s ReportStatus) Valid() bool {
	switch s {
	case StatusActiveNow, StatusStartingSoon, StatusNeedsMore, StatusFinished, StatusNoMinyan, StatusCancelled:
		return true
	}
	return false
}

// VerificationThreshold is the number of distinct corroborating users
// required before a report counts as verified.
const VerificationThreshold = 2

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Synagogue struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Address          string    `json:"address"`
	City             string    `json:"city"`
	State            string    `json:"state,omitempty"`
	Country          string    `json:"country"`
	PostalCode       string    `json:"postalCode,omitempty"`
	Latitude         float64   `json:"latitude"`
	Longitude        float64   `json:"longitude"`
	Nusach           Nusach    `json:"nusach"`
	Rabbi            string    `json:"rabbi,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	Email            string    `json:"email,omitempty"`
	Website          string    `json:"website,omitempty"`
	Description      string    `json:"description,omitempty"`
	WheelchairAccess bool      `json:"wheelchairAccess"`
	Parking          bool      `json:"parking"`
	AirConditioning  bool      `json:"airConditioning"`
	WomensSection    bool      `json:"womensSection"`
	Mikveh           bool      `json:"mikveh"`
	AverageRating    float64   `json:"averageRating"`
	TotalReviews     int       `json:"totalReviews"`
	CreatedAt        time.Time `json:"createdAt"`
}

type SynagoguePhoto struct {
	ID          string `json:"id"`
	SynagogueID string `json:"synagogueId"`
	URL         string `json:"url"`
	Caption     string `json:"caption,omitempty"`
	IsPrimary   bool   `json:"isPrimary"`
}

// PrayerSchedule is static reference data: at most one time per
// (synagogue, day, prayer type).
type PrayerSchedule struct {
	SynagogueID string     `json:"synagogueId"`
	DayOfWeek   int        `json:"dayOfWeek"` // 0..6, Sunday = 0
	PrayerType  PrayerType `json:"prayerType"`
	Time        string     `json:"time"`
}

type Review struct {
	ID          string    `json:"id"`
	SynagogueID string    `json:"synagogueId"`
	UserID      string    `json:"userId"`
	Rating      int       `json:"rating"` // 1..5
	Comment     string    `json:"comment,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// User is recorded for display only. TrustScore is persisted and surfaced
// but feeds no computation in the ledger.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TrustScore int    `json:"trustScore"` // 0..100
}

// MinyanReport is an immutable point-in-time observation. After creation
// the only permitted mutation is appending to VerifiedBy.
type MinyanReport struct {
	ID          string       `json:"id"`
	SynagogueID string       `json:"synagogueId"`
	ReporterID  string       `json:"reporterId"`
	PrayerType  PrayerType   `json:"prayerType"`
	Status      ReportStatus `json:"status"`
	MinyanCount *int         `json:"minyanCount,omitempty"` // 10..200, only with ACTIVE_NOW
	NeedsMore   *int         `json:"needsMore,omitempty"`   // 1..9, only with NEEDS_MORE
	Notes       string       `json:"notes,omitempty"`
	VerifiedBy  []string     `json:"verifiedBy"`
	IsVerified  bool         `json:"isVerified"`
	ReportTime  time.Time    `json:"reportTime"`
}

// Verified reports whether the verification threshold has been reached.
func (r *MinyanReport) Verified() bool {
	return len(r.VerifiedBy) >= VerificationThreshold
}
