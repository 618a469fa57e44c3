package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/minyan-finder/internal/geo"
	"github.com/example/minyan-finder/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_reports_consumed_total",
		Help: "Total minyan report events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_reports_invalid_total",
		Help: "Total invalid report events received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_updates_total",
		Help: "Total successful redis status updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

// The consumer tails the report topic and keeps the per-synagogue latest
// status hash in Redis current, so readers get "what is happening now"
// without touching the primary store.
func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	if brokersEnv == "" {
		brokersEnv = os.Getenv("KAFKA_BROKER")
	}
	brokers := []string{}
	if brokersEnv != "" {
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	} else {
		brokers = []string{"localhost:9092"}
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "minyan-reports"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "minyan-finder-consumer"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: redisAddr})
	radapter := &redisAdapter{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("consumer metrics on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		cancel()
	}()

	log.Printf("consuming %s from %v", topic, brokers)
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var r models.MinyanReport
		if err := json.Unmarshal(m.Value, &r); err != nil {
			msgsInvalid.Inc()
			log.Printf("invalid report event: %v", err)
			continue
		}
		if r.SynagogueID == "" || !r.PrayerType.Valid() || !r.Status.Valid() {
			msgsInvalid.Inc()
			log.Printf("incomplete report event id=%s", r.ID)
			continue
		}

		if err := updateStatusWithRetry(ctx, radapter, &r, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			log.Printf("redis update failed for synagogue=%s: %v", r.SynagogueID, err)
			continue
		}
		redisUpdates.Inc()
	}
}

// StatusUpdater defines the small subset of redis operations needed for
// tests and production.
type StatusUpdater interface {
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

// updateStatusWithRetry writes the latest observation for the report's
// (synagogue, prayer) slot, retrying with backoff on redis errors.
func updateStatusWithRetry(ctx context.Context, rc StatusUpdater, r *models.MinyanReport, attempts int, delay time.Duration) error {
	key := geo.StatusKey(r.SynagogueID)
	values := map[string]interface{}{
		string(r.PrayerType):              string(r.Status),
		string(r.PrayerType) + ":at":      r.ReportTime.Format(time.RFC3339),
		string(r.PrayerType) + ":report":  r.ID,
		string(r.PrayerType) + ":verified": r.IsVerified,
	}
	for i := 0; i < attempts; i++ {
		if err := rc.HSet(ctx, key, values); err != nil {
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return nil
}
