package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swaggo/swag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"triptrack/internal/metrics"
	"triptrack/internal/service"
	"triptrack/internal/transport/rest/handler"
	"triptrack/internal/transport/rest/middleware"
	"triptrack/internal/validate"

	_ "triptrack/docs"
)

// Container holds all dependencies for the router
type Container struct {
	AuthService        *service.AuthService
	TripService        *service.TripService
	ParticipantService *service.ParticipantService
	DirectionsService  *service.DirectionsService
	WSHandler          http.Handler
	Health             map[string]handler.Pinger
	Metrics            *metrics.Metrics
	Gatherer           prometheus.Gatherer
	Validator          *validate.Validator
	Log                *zap.Logger
	ServiceName        string
	CORSOrigins        []string
	Development        bool
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	rs := handler.NewResponder(c.Log, c.Validator, c.Development)
	authHandler := handler.NewAuthHandler(rs, c.AuthService)
	userHandler := handler.NewUserHandler(rs, c.AuthService)
	tripHandler := handler.NewTripHandler(rs, c.TripService)
	participantHandler := handler.NewParticipantHandler(rs, c.ParticipantService)
	mapHandler := handler.NewMapHandler(rs, c.DirectionsService)

	authMW := middleware.NewAuthMiddleware(c.AuthService)

	r.Use(middleware.CORS(c.CORSOrigins))
	r.Use(middleware.Logging(c.Log, c.Metrics))

	r.HandleFunc("/health", handler.Health(c.Health)).Methods("GET")
	if c.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(c.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	r.HandleFunc("/swagger/doc.json", swaggerDoc).Methods("GET")
	if c.WSHandler != nil {
		r.Handle("/ws", c.WSHandler).Methods("GET")
	}

	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/auth/send-code", authHandler.SendCode).Methods("POST", "OPTIONS")
	v1.HandleFunc("/auth/verify-code", authHandler.VerifyCode).Methods("POST", "OPTIONS")
	v1.HandleFunc("/auth/guest", authHandler.Guest).Methods("POST", "OPTIONS")

	// Everything else needs a user or guest token
	authed := v1.NewRoute().Subrouter()
	authed.Use(authMW.RequireIdentity)

	authed.HandleFunc("/auth/me", authHandler.Me).Methods("GET", "OPTIONS")
	authed.HandleFunc("/users/me", userHandler.Get).Methods("GET", "OPTIONS")
	authed.HandleFunc("/users/me", userHandler.Update).Methods("PATCH", "OPTIONS")

	authed.HandleFunc("/trips", tripHandler.Create).Methods("POST", "OPTIONS")
	authed.HandleFunc("/trips", tripHandler.ListMine).Methods("GET", "OPTIONS")
	authed.HandleFunc("/trips/participated", tripHandler.ListParticipated).Methods("GET", "OPTIONS")
	authed.HandleFunc("/trips/{tripId}", tripHandler.Get).Methods("GET", "OPTIONS")
	authed.HandleFunc("/trips/{tripId}", tripHandler.Update).Methods("PATCH", "OPTIONS")
	authed.HandleFunc("/trips/{tripId}", tripHandler.Delete).Methods("DELETE", "OPTIONS")
	authed.HandleFunc("/trips/{tripId}/reward", tripHandler.UpdateReward).Methods("PUT", "OPTIONS")
	authed.HandleFunc("/trips/{tripId}/guides", tripHandler.UpdateGuides).Methods("PUT", "OPTIONS")
	authed.HandleFunc("/trips/{tripId}/start", tripHandler.Start).Methods("POST", "OPTIONS")
	authed.HandleFunc("/trips/{tripId}/experiences/{index}", tripHandler.SetExperienceActive).Methods("PATCH", "OPTIONS")
	authed.HandleFunc("/trips/{tripId}/end", tripHandler.End).Methods("POST", "OPTIONS")

	authed.HandleFunc("/trips/{tripId}/participants", participantHandler.Join).Methods("POST", "OPTIONS")
	authed.HandleFunc("/trips/{tripId}/participants", participantHandler.List).Methods("GET", "OPTIONS")
	authed.HandleFunc("/trips/{tripId}/participants/me", participantHandler.Me).Methods("GET", "OPTIONS")
	authed.HandleFunc("/trips/{tripId}/participants/me", participantHandler.Rename).Methods("PATCH", "OPTIONS")
	authed.HandleFunc("/trips/{tripId}/participants/me", participantHandler.Leave).Methods("DELETE", "OPTIONS")
	authed.HandleFunc("/trips/{tripId}/leaderboard", participantHandler.Leaderboard).Methods("GET", "OPTIONS")

	authed.HandleFunc("/map/directions", mapHandler.Directions).Methods("GET", "OPTIONS")

	name := c.ServiceName
	if name == "" {
		name = "triptrack"
	}
	return otelhttp.NewHandler(r, name,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func swaggerDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := swag.ReadDoc()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(doc))
}
