package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/parkerroan/quotacache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gorilla/mux"
	"golang.org/x/exp/slog"
)

type Config struct {
	Port            int    `envconfig:"SERVER_PORT" default:"8080"`
	QuotaServiceURL string `envconfig:"QUOTA_SERVICE_URL" default:"http://localhost:8081"`
	QuotaAPIKey     string `envconfig:"QUOTA_API_KEY" default:"dev-key"`
	BucketSize      int    `envconfig:"BUCKET_SIZE" default:"10"`
}

func main() {
	// Load .env file from given path. We're assuming it's in the current directory.
	loadEnvFile()

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	client, err := quotacache.NewHTTPClient(cfg.QuotaServiceURL, cfg.QuotaAPIKey,
		quotacache.WithOutboundLimit(50, 10),
	)
	if err != nil {
		log.Fatalf("Error creating quota client: %v", err)
	}

	metrics := quotacache.NewMetrics()
	prometheus.MustRegister(metrics)

	qc := quotacache.New(client,
		quotacache.WithDefaultBucketSize(cfg.BucketSize),
		quotacache.WithMetrics(metrics),
	)

	// This function generates a key (in this case, the client's IP address)
	// that the quota cache uses to identify unique clients.
	keyGetter := func(r *http.Request) string {
		// You might want to improve this method to handle IP-forwarding, etc.
		return r.RemoteAddr
	}

	// Create a new router
	r := mux.NewRouter() // or http.NewServeMux()

	// Add the logging middleware first.
	r.Use(LoggingMiddleware)

	// Create a new rate limited HTTP handler using the middleware
	r.Use(quotacache.HTTPMiddleware(qc, keyGetter))

	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Hello, World!"))
	})

	// Diagnostic surface: every live bucket's remaining tokens.
	r.HandleFunc("/debug/buckets", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(qc.Statuses()); err != nil {
			slog.Error("error writing bucket statuses", slog.Any("error", err.Error()))
		}
	})

	r.Handle("/metrics", promhttp.Handler())

	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", cfg.Port), r))
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code and writes it to the response.
func (rec *statusRecorder) WriteHeader(code int) {
	rec.statusCode = code
	rec.ResponseWriter.WriteHeader(code)
}

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Create a new status recorder.
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK, // Default to 200 OK if WriteHeader is not called.
		}

		// Continue to the next middleware or handler.
		next.ServeHTTP(recorder, r)

		// Now that the handler has finished, the status code is set.
		log.Printf(
			"Method: %s | Path: %s | StatusCode: %d | RemoteAddr: %s | UserAgent: %s",
			r.Method,
			r.RequestURI,
			recorder.statusCode,
			r.RemoteAddr,
			r.UserAgent(),
		)
	})
}

func loadEnvFile() {
	if _, err := os.Stat(".env"); err == nil {
		// The file exists, now let's try to load it
		if err := godotenv.Load(); err != nil {
			// The file couldn't be loaded, log the error
			log.Fatalf("Error loading .env file: %s", err)
		}
	} else if !os.IsNotExist(err) {
		// There's an error other than "file does not exist", let's log it
		slog.Warn(fmt.Sprintf("Unexpected error looking for .env file: %s", err))
	}
}
