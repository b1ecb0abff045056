package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// Check probes one dependency. A nil error means "up".
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

func Postgres(pool *pgxpool.Pool) Check {
	return Check{Name: "database", Probe: pool.Ping}
}

func SQL(db *sql.DB) Check {
	return Check{Name: "database", Probe: db.PingContext}
}

func RabbitMQ(conn *amqp091.Connection) Check {
	return Check{Name: "rabbitmq", Probe: func(context.Context) error {
		if conn.IsClosed() {
			return amqp091.ErrClosed
		}
		return nil
	}}
}

func Redis(client *redis.Client) Check {
	return Check{Name: "redis", Probe: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// Handler creates a health check handler for a service
func Handler(serviceName string, checks ...Check) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := HealthResponse{
			Status:    "healthy",
			Service:   serviceName,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    make(map[string]string),
		}

		for _, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			err := c.Probe(ctx)
			cancel()
			if err != nil {
				health.Status = "unhealthy"
				health.Checks[c.Name] = "down"
			} else {
				health.Checks[c.Name] = "up"
			}
		}

		statusCode := http.StatusOK
		if health.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(health)
	}
}
