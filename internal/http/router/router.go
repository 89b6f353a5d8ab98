package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vendaflow/broker-auth-service/internal/health"
	"github.com/vendaflow/broker-auth-service/internal/http/handler"
	"github.com/vendaflow/broker-auth-service/internal/http/middleware"
	"github.com/vendaflow/broker-auth-service/internal/http/response"
	"github.com/vendaflow/broker-auth-service/internal/service"
)

type Dependencies struct {
	AuthHandler                *handler.AuthHandler
	SessionHandler             *handler.SessionHandler
	AuthService                service.AuthServiceInterface
	CORSOrigins                []string
	AuthRateLimitRPM           int
	PasswordForgotRateLimitRPM int
	APIRateLimitRPM            int
	GlobalRateLimiter          GlobalRateLimiterFunc
	AuthRateLimiter            AuthRateLimiterFunc
	ForgotRateLimiter          ForgotRateLimiterFunc
	Readiness                  *health.ProbeRunner
	EnableOTelHTTP             bool
}

type GlobalRateLimiterFunc func(http.Handler) http.Handler
type AuthRateLimiterFunc func(http.Handler) http.Handler
type ForgotRateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	if dep.GlobalRateLimiter != nil {
		r.Use(dep.GlobalRateLimiter)
	} else {
		r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute, "api").Middleware())
	}

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute, "auth").Middleware()
	}
	forgotLimiter := dep.ForgotRateLimiter
	if forgotLimiter == nil {
		forgotLimiter = middleware.NewRateLimiter(dep.PasswordForgotRateLimitRPM, time.Minute, "password_forgot").Middleware()
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	sessionAuth := middleware.SessionAuth(dep.AuthService)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Post("/register", dep.AuthHandler.Register)
			r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
			r.With(forgotLimiter).Post("/password/forgot", dep.AuthHandler.PasswordForgot)
			r.With(authLimiter).Post("/password/reset", dep.AuthHandler.PasswordReset)
			r.With(sessionAuth).Post("/logout", dep.AuthHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(sessionAuth)
			r.Get("/me", dep.SessionHandler.Me)
			r.Get("/me/sessions", dep.SessionHandler.ListSessions)
			r.Delete("/me/sessions/{session_id}", dep.SessionHandler.RevokeSession)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
