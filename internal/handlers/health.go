package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const probeTimeout = 2 * time.Second

// HealthHandler reports process liveness and backing-store reachability.
type HealthHandler struct {
	pg    *sql.DB
	mongo *mongo.Client
	redis *redis.Client
}

// NewHealthHandler constructs a HealthHandler. Any handle may be nil when
// the corresponding store is not configured.
func NewHealthHandler(pg *sql.DB, mongoClient *mongo.Client, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{pg: pg, mongo: mongoClient, redis: redisClient}
}

// Health reports that the process is up.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// DBInfo reports which backing stores are currently reachable.
func (h *HealthHandler) DBInfo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	writeJSON(w, http.StatusOK, map[string]bool{
		"postgres": h.pg != nil && h.pg.PingContext(ctx) == nil,
		"mongodb":  h.mongo != nil && h.mongo.Ping(ctx, readpref.Primary()) == nil,
		"redis":    h.redis != nil && h.redis.Ping(ctx).Err() == nil,
	})
}
