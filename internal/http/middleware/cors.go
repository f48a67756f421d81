package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// CORS allows the configured origins. An entry starting with "*." matches
// any subdomain over http or https.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := make([]string, 0, len(allowedOrigins))
	for _, entry := range allowedOrigins {
		e := strings.TrimSpace(entry)
		switch {
		case e == "":
		case strings.HasPrefix(e, "*."):
			origins = append(origins, "https://"+e, "http://"+e)
		default:
			origins = append(origins, e)
		}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
