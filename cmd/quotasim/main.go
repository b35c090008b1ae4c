// Command quotasim is a small stand-in for the remote quota service, backed
// by redis counters. It exists so the example web app and local development
// have a consume endpoint to talk to; it is not a production rate limiter.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/kelseyhightower/envconfig"
	"github.com/parkerroan/quotacache"
	"github.com/parkerroan/quotacache/bucket"
	"golang.org/x/exp/slog"
)

type Config struct {
	Port     int           `envconfig:"SERVER_PORT" default:"8081"`
	RedisURL string        `envconfig:"REDIS_URL" default:"localhost:6379"`
	Window   time.Duration `envconfig:"WINDOW_DURATION" default:"60s"`
}

// simRule pairs a served rule with its per-window budget.
type simRule struct {
	rule   bucket.Rule
	budget int
}

var rules = []simRule{
	{rule: bucket.Rule{ID: "send-ops", Name: "send operations", Pattern: "send_.*", RefillRate: 10, BurstRate: 100}, budget: 100},
	{rule: bucket.Rule{ID: "api-get", Name: "api reads", Pattern: "/.*", HTTPMethod: "GET", RefillRate: 30, BurstRate: 300}, budget: 300},
	{rule: bucket.Rule{ID: "default", IsDefault: true, RefillRate: 5, BurstRate: 20}, budget: 20},
}

type server struct {
	rdb    *redis.Client
	window time.Duration
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	srv := &server{
		rdb:    redis.NewClient(&redis.Options{Addr: cfg.RedisURL}),
		window: cfg.Window,
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/consume", srv.handleConsume).Methods(http.MethodPost)

	slog.Info("quotasim listening", slog.Int("port", cfg.Port))
	log.Fatal(http.ListenAndServe(fmt.Sprintf(":%d", cfg.Port), r))
}

func (s *server) handleConsume(w http.ResponseWriter, r *http.Request) {
	var req quotacache.ConsumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	matched := match(req)

	// Fixed-window budget per (user, rule), tracked in redis. Good enough
	// for a simulator; real accounting lives in the real service.
	key := fmt.Sprintf("quotasim:%s:%s", req.UserID, matched.rule.ID)
	ctx := r.Context()

	used, err := s.rdb.IncrBy(ctx, key, int64(req.TokensRequested)).Result()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if used == int64(req.TokensRequested) {
		s.rdb.Expire(ctx, key, s.window)
	}

	granted := req.TokensRequested
	if over := used - int64(matched.budget); over > 0 {
		granted -= int(over)
		if granted < 0 {
			granted = 0
		}
		// Hand back the part of the increment we did not grant.
		s.rdb.DecrBy(ctx, key, over)
	}

	remaining := matched.budget - int(used-int64(req.TokensRequested)) - granted
	if remaining < 0 {
		remaining = 0
	}

	resp := quotacache.ConsumeResponse{
		TokensRemaining: remaining,
		TokensConsumed:  granted,
		Rule:            matched.rule,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("error writing consume response", slog.Any("error", err.Error()))
	}
}

// match finds the first named rule whose pattern and method fit the request,
// falling back to the default rule.
func match(req quotacache.ConsumeRequest) simRule {
	for _, sr := range rules {
		if sr.rule.IsDefault {
			continue
		}
		re, err := regexp.Compile(sr.rule.Pattern)
		if err != nil {
			continue
		}
		if req.Operation != "" && sr.rule.HTTPMethod == "" && re.MatchString(req.Operation) {
			return sr
		}
		if req.Path != "" && req.HTTPMethod == sr.rule.HTTPMethod && re.MatchString(req.Path) {
			return sr
		}
	}
	return rules[len(rules)-1]
}
