package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"memberauth/internal/http/response"
	"memberauth/internal/lib/logger/sl"
)

const healthTimeout = 2 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

// Health pings every dependency and answers 503 when any of them is down.
func Health(logger *slog.Logger, deps map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		report := make(map[string]string, len(names))
		healthy := true
		for _, name := range names {
			if err := deps[name].Ping(ctx); err != nil {
				logger.Warn("dependency is down", slog.String("dependency", name), sl.Err(err))
				report[name] = "down"
				healthy = false
				continue
			}
			report[name] = "up"
		}

		if !healthy {
			response.JSON(w, http.StatusServiceUnavailable, response.Envelope{
				Code:    response.CodeFail,
				Message: "Service unavailable",
				Data:    report,
			})
			return
		}

		response.OK(w, report)
	}
}
