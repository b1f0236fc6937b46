package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS applies the allowed origin policy for the web and mobile clients.
func CORS(origins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Idempotent-Replay"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}
