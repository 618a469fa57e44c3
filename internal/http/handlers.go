package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/minyan-finder/internal/config"
	"github.com/example/minyan-finder/internal/feed"
	"github.com/example/minyan-finder/internal/geo"
	"github.com/example/minyan-finder/internal/ingest"
	"github.com/example/minyan-finder/internal/ledger"
	"github.com/example/minyan-finder/internal/models"
	"github.com/example/minyan-finder/internal/observability"
	"github.com/example/minyan-finder/internal/payments"
	"github.com/example/minyan-finder/internal/rating"
	"github.com/example/minyan-finder/internal/storage"
	"github.com/example/minyan-finder/internal/zmanim"
)

type Server struct {
	Search   geo.Searcher
	Redis    *geo.RedisIndex // optional, nil without REDIS_ADDR
	Zmanim   *zmanim.Resolver
	Ledger   *ledger.Service
	Store    storage.Store
	Feed     *feed.Registry
	Payments *payments.StripeClient // optional

	cfg    config.ServerConfig
	logger *slog.Logger
	mux    *mux.Router
}

// New wires the core from configuration. Redis, Kafka and Stripe are
// optional collaborators; the server degrades to in-process equivalents
// when they are not configured.
func New(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var store storage.Store
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Warn("postgres unavailable, using memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	index := geo.NewIndex(store, &storeRater{store: store})
	var search geo.Searcher = index
	var rgeo *geo.RedisIndex
	if cfg.RedisAddr != "" {
		rgeo = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey, index)
		search = rgeo
	}

	reg := feed.NewRegistry()
	led := &ledger.Service{Store: store, Notifier: reg, Logger: logger, DefaultLimit: cfg.ReportLimit}
	if len(cfg.KafkaBrokers) > 0 {
		led.Publisher = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	resolver := zmanim.NewResolver(logger, cfg.ZmanimTimeout,
		zmanim.NewMyZmanimClient(cfg.MyZmanimURL, cfg.MyZmanimAPIKey),
		zmanim.NewHebcalClient(cfg.HebcalURL),
	)

	var pay *payments.StripeClient
	if cfg.StripeAPIKey != "" {
		pay = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	s := &Server{
		Search:   search,
		Redis:    rgeo,
		Zmanim:   resolver,
		Ledger:   led,
		Store:    store,
		Feed:     reg,
		Payments: pay,
		cfg:      cfg,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/synagogues", s.handleSearchSynagogues).Methods("GET")
	s.mux.HandleFunc("/synagogues", s.handleCreateSynagogue).Methods("POST")
	s.mux.HandleFunc("/synagogues/{id}", s.handleSynagogueDetail).Methods("GET")
	s.mux.HandleFunc("/synagogues/{id}/donations", s.handleDonation).Methods("POST")
	s.mux.HandleFunc("/prayer-times", s.handlePrayerTimes).Methods("GET")
	s.mux.HandleFunc("/minyan-reports", s.handleListReports).Methods("GET")
	s.mux.HandleFunc("/minyan-reports", s.handleCreateReport).Methods("POST")
	s.mux.HandleFunc("/minyan-reports/{id}/verify", s.handleVerifyReport).Methods("PUT")
	s.mux.HandleFunc("/ws/synagogues/{id}", s.handleWS).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleSearchSynagogues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := geo.Filter{
		Nusach:   q.Get("nusach"),
		Text:     q.Get("search"),
		RadiusKm: s.cfg.DefaultRadiusKm,
	}
	if latS, lngS := q.Get("lat"), q.Get("lng"); latS != "" || lngS != "" {
		lat, err := strconv.ParseFloat(latS, 64)
		if err != nil {
			s.writeError(w, models.Invalid("lat", "must be a number"))
			return
		}
		lng, err := strconv.ParseFloat(lngS, 64)
		if err != nil {
			s.writeError(w, models.Invalid("lng", "must be a number"))
			return
		}
		f.Center = &models.Coord{Lat: lat, Lng: lng}
	}
	if radS := q.Get("radius"); radS != "" {
		rad, err := strconv.ParseFloat(radS, 64)
		if err != nil {
			s.writeError(w, models.Invalid("radius", "must be a number"))
			return
		}
		f.RadiusKm = rad
	}
	results, err := s.Search.Search(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	observability.SearchesTotal.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"synagogues": results})
}

type createSynagogueRequest struct {
	Name             string  `json:"name"`
	Address          string  `json:"address"`
	City             string  `json:"city"`
	State            string  `json:"state"`
	Country          string  `json:"country"`
	PostalCode       string  `json:"postalCode"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Nusach           string  `json:"nusach"`
	Rabbi            string  `json:"rabbi"`
	Phone            string  `json:"phone"`
	Email            string  `json:"email"`
	Website          string  `json:"website"`
	Description      string  `json:"description"`
	WheelchairAccess bool    `json:"wheelchairAccess"`
	Parking          bool    `json:"parking"`
	AirConditioning  bool    `json:"airConditioning"`
	WomensSection    bool    `json:"womensSection"`
	Mikveh           bool    `json:"mikveh"`
}

func (s *Server) handleCreateSynagogue(w http.ResponseWriter, r *http.Request) {
	var req createSynagogueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, models.Invalid("body", "malformed json"))
		return
	}
	switch {
	case req.Name == "":
		s.writeError(w, models.Invalid("name", "required"))
		return
	case req.Address == "":
		s.writeError(w, models.Invalid("address", "required"))
		return
	case req.City == "":
		s.writeError(w, models.Invalid("city", "required"))
		return
	case req.Latitude < -90 || req.Latitude > 90:
		s.writeError(w, models.Invalid("latitude", "must be within [-90, 90]"))
		return
	case req.Longitude < -180 || req.Longitude > 180:
		s.writeError(w, models.Invalid("longitude", "must be within [-180, 180]"))
		return
	}
	nusach := models.NusachAshkenaz
	if req.Nusach != "" {
		nusach = models.Nusach(req.Nusach)
		if !nusach.Valid() {
			s.writeError(w, models.Invalid("nusach", "unknown nusach"))
			return
		}
	}
	country := req.Country
	if country == "" {
		country = "ישראל"
	}
	syn := &models.Synagogue{
		ID:               uuid.NewString(),
		Name:             req.Name,
		Address:          req.Address,
		City:             req.City,
		State:            req.State,
		Country:          country,
		PostalCode:       req.PostalCode,
		Latitude:         req.Latitude,
		Longitude:        req.Longitude,
		Nusach:           nusach,
		Rabbi:            req.Rabbi,
		Phone:            req.Phone,
		Email:            req.Email,
		Website:          req.Website,
		Description:      req.Description,
		WheelchairAccess: req.WheelchairAccess,
		Parking:          req.Parking,
		AirConditioning:  req.AirConditioning,
		WomensSection:    req.WomensSection,
		Mikveh:           req.Mikveh,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.Store.CreateSynagogue(r.Context(), syn); err != nil {
		s.writeError(w, err)
		return
	}
	if s.Redis != nil {
		if err := s.Redis.Upsert(r.Context(), *syn); err != nil {
			s.logger.Warn("redis upsert failed", "synagogue_id", syn.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"synagogue": syn})
}

type reportView struct {
	models.MinyanReport
	User *models.User `json:"user,omitempty"`
}

func (s *Server) handleSynagogueDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	syn, err := s.Store.GetSynagogue(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	schedule, err := s.Store.SchedulesBySynagogue(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	photos, err := s.Store.PhotosBySynagogue(ctx, id, 5)
	if err != nil {
		s.writeError(w, err)
		return
	}
	reviews, err := s.Store.ReviewsBySynagogue(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	agg := rating.ComputeAverage(reviews)
	syn.AverageRating = agg.Average
	syn.TotalReviews = agg.TotalReviews

	reports, err := s.Ledger.List(ctx, ledger.ListFilter{SynagogueID: id, Limit: 10})
	if err != nil {
		s.writeError(w, err)
		return
	}
	var live []geo.LiveStatus
	if s.Redis != nil {
		if ls, err := s.Redis.LiveStatuses(ctx, id); err == nil {
			live = ls
		} else {
			s.logger.Warn("live status read failed", "synagogue_id", id, "error", err)
		}
	}
	detail := struct {
		*models.Synagogue
		PrayerSchedule []models.PrayerSchedule `json:"prayerSchedule"`
		Photos         []models.SynagoguePhoto `json:"photos"`
		Rating         rating.Summary          `json:"rating"`
		LiveStatus     []geo.LiveStatus        `json:"liveStatus,omitempty"`
		RecentReports  []reportView            `json:"recentReports"`
	}{syn, schedule, photos, agg, live, s.withUsers(ctx, reports)}
	writeJSON(w, http.StatusOK, map[string]any{"synagogue": detail})
}

// withUsers attaches reporter display info; missing users are left off
// rather than failing the read.
func (s *Server) withUsers(ctx context.Context, reports []models.MinyanReport) []reportView {
	out := make([]reportView, 0, len(reports))
	for _, rep := range reports {
		v := reportView{MinyanReport: rep}
		if u, err := s.Store.GetUser(ctx, rep.ReporterID); err == nil {
			v.User = u
		}
		out = append(out, v)
	}
	return out
}

func (s *Server) handlePrayerTimes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	latS, lngS := q.Get("lat"), q.Get("lng")
	if latS == "" || lngS == "" {
		s.writeError(w, models.Invalid("lat,lng", "required"))
		return
	}
	lat, err := strconv.ParseFloat(latS, 64)
	if err != nil || lat < -90 || lat > 90 {
		s.writeError(w, models.Invalid("lat", "must be within [-90, 90]"))
		return
	}
	lng, err := strconv.ParseFloat(lngS, 64)
	if err != nil || lng < -180 || lng > 180 {
		s.writeError(w, models.Invalid("lng", "must be within [-180, 180]"))
		return
	}
	date := time.Now().UTC()
	if d := q.Get("date"); d != "" {
		date, err = time.Parse("2006-01-02", d)
		if err != nil {
			s.writeError(w, models.Invalid("date", "must be YYYY-MM-DD"))
			return
		}
	}
	times := s.Zmanim.Resolve(r.Context(), lat, lng, date)
	observability.ZmanimResolved.WithLabelValues(times.Source).Inc()
	writeJSON(w, http.StatusOK, map[string]any{"prayerTimes": times})
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.ListFilter{
		SynagogueID: q.Get("synagogueId"),
		PrayerType:  q.Get("prayerType"),
		Status:      q.Get("status"),
	}
	if limS := q.Get("limit"); limS != "" {
		lim, err := strconv.Atoi(limS)
		if err != nil {
			s.writeError(w, models.Invalid("limit", "must be an integer"))
			return
		}
		f.Limit = lim
	}
	reports, err := s.Ledger.List(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": s.withUsers(r.Context(), reports)})
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var in ledger.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.writeError(w, models.Invalid("body", "malformed json"))
		return
	}
	report, err := s.Ledger.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"report": report})
}

func (s *Server) handleVerifyReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, models.Invalid("body", "malformed json"))
		return
	}
	report, err := s.Ledger.Verify(r.Context(), id, body.UserID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report})
}

func (s *Server) handleDonation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body struct {
		Amount   int64  `json:"amount"` // smallest currency unit
		Currency string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, models.Invalid("body", "malformed json"))
		return
	}
	if body.Amount <= 0 {
		s.writeError(w, models.Invalid("amount", "must be > 0"))
		return
	}
	if body.Currency == "" {
		body.Currency = "ils"
	}
	if _, err := s.Store.GetSynagogue(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	if s.Payments == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "donations not configured"})
		return
	}
	intentID, err := s.Payments.Donate(r.Context(), body.Amount, body.Currency, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"paymentIntentId": intentID})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.Store.GetSynagogue(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	sess := s.Feed.Add(id, conn)
	// drain control frames; a read error means the subscriber went away
	go func() {
		defer s.Feed.Remove(id, sess)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case models.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not found"})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// storeRater recomputes display ratings from raw reviews on each read.
type storeRater struct {
	store storage.Store
}

func (sr *storeRater) Rate(ctx context.Context, synagogueID string) (float64, int, error) {
	reviews, err := sr.store.ReviewsBySynagogue(ctx, synagogueID)
	if err != nil {
		return 0, 0, err
	}
	agg := rating.ComputeAverage(reviews)
	return agg.Average, agg.TotalReviews, nil
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
