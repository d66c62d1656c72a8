package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", handler.SubmitOrder)
		r.Get("/{orderId}", handler.GetOrder)
		r.Post("/{orderId}/confirm", handler.ConfirmPayment)
		r.Post("/{orderId}/cancel", handler.CancelOrder)
		r.Get("/{orderId}/tickets", handler.OrderTickets)
	})

	r.Route("/listings", func(r chi.Router) {
		r.Post("/", handler.CreateListing)
		r.Get("/{listingId}", handler.GetListing)
		r.Post("/{listingId}/cancel", handler.CancelListing)
		r.Post("/{listingId}/fulfill", handler.FulfillListing)
		r.Post("/{listingId}/purchase", handler.PurchaseListing)
	})

	r.Post("/tickets/{ticketId}/redeem", handler.RedeemTicket)

	return &Server{Router: r}
}
