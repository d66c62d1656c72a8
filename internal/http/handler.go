package http

import (
	"encoding/json"
	"net/http"
	"time"

	"TicketMint/internal/models"
	"TicketMint/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const userHeader = "X-User-Id"

type Handler struct {
	Orders   services.OrderService
	Listings services.ListingService
	Tickets  services.TicketService
	Log      *logrus.Entry
}

type submitOrderRequest struct {
	EventID  string `json:"eventId"`
	Quantity int    `json:"quantity"`
}

type confirmPaymentRequest struct {
	TxHash string `json:"txHash"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type createListingRequest struct {
	TicketID  string          `json:"ticketId"`
	Price     decimal.Decimal `json:"price"`
	Signature string          `json:"signature"`
}

type fulfillListingRequest struct {
	TxHash string `json:"txHash"`
}

type orderResponse struct {
	OrderID        string          `json:"orderId"`
	EventID        string          `json:"eventId"`
	Quantity       int             `json:"quantity"`
	TotalPrice     decimal.Decimal `json:"totalPrice"`
	Status         string          `json:"status"`
	DepositAddress string          `json:"depositAddress,omitempty"`
	ExpiresAt      string          `json:"expiresAt"`
	PaidAt         string          `json:"paidAt,omitempty"`
	TxHash         string          `json:"txHash,omitempty"`
	NftMintAddress string          `json:"nftMintAddress,omitempty"`
	FailureReason  string          `json:"failureReason,omitempty"`
}

type ticketResponse struct {
	TicketID       string `json:"ticketId"`
	OrderID        string `json:"orderId"`
	EventID        string `json:"eventId"`
	OwnerID        string `json:"ownerId"`
	NftMintAddress string `json:"nftMintAddress"`
	TokenID        string `json:"tokenId"`
	IsValid        bool   `json:"isValid"`
	IsUsed         bool   `json:"isUsed"`
}

type listingResponse struct {
	ListingID      string          `json:"listingId"`
	TicketID       string          `json:"ticketId"`
	NftMintAddress string          `json:"nftMintAddress"`
	SellerID       string          `json:"sellerId"`
	Price          decimal.Decimal `json:"price"`
	OriginalPrice  decimal.Decimal `json:"originalPrice"`
	Status         string          `json:"status"`
	SoldTo         string          `json:"soldTo,omitempty"`
	SoldAt         string          `json:"soldAt,omitempty"`
	CancelledAt    string          `json:"cancelledAt,omitempty"`
	TxHash         string          `json:"txHash,omitempty"`
	PendingTxHash  string          `json:"pendingTxHash,omitempty"`
}

func NewHandler(orders services.OrderService, listings services.ListingService, tickets services.TicketService, log *logrus.Entry) *Handler {
	return &Handler{Orders: orders, Listings: listings, Tickets: tickets, Log: log}
}

func (h *Handler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if !decode(w, r, &req) {
		return
	}
	order, err := h.Orders.SubmitOrder(r.Context(), req.EventID, r.Header.Get(userHeader), req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrder(order))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(order))
}

func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if !decode(w, r, &req) {
		return
	}
	order, err := h.Orders.ConfirmPayment(r.Context(), chi.URLParam(r, "orderId"), req.TxHash)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(order))
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	order, err := h.Orders.CancelOrder(r.Context(), chi.URLParam(r, "orderId"), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(order))
}

func (h *Handler) OrderTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.Tickets.OrderTickets(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]ticketResponse, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, toTicket(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if !decode(w, r, &req) {
		return
	}
	listing, err := h.Listings.CreateListing(r.Context(), r.Header.Get(userHeader), req.TicketID, req.Price, req.Signature)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListing(listing))
}

func (h *Handler) GetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.Listings.GetListing(r.Context(), chi.URLParam(r, "listingId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListing(listing))
}

func (h *Handler) CancelListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.Listings.CancelListing(r.Context(), chi.URLParam(r, "listingId"), r.Header.Get(userHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListing(listing))
}

func (h *Handler) FulfillListing(w http.ResponseWriter, r *http.Request) {
	var req fulfillListingRequest
	if !decode(w, r, &req) {
		return
	}
	listing, err := h.Listings.FulfillListing(r.Context(), chi.URLParam(r, "listingId"), r.Header.Get(userHeader), req.TxHash)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListing(listing))
}

func (h *Handler) PurchaseListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.Listings.PurchaseListing(r.Context(), chi.URLParam(r, "listingId"), r.Header.Get(userHeader))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toListing(listing))
}

func (h *Handler) RedeemTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := h.Tickets.Redeem(r.Context(), chi.URLParam(r, "ticketId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTicket(ticket))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		log := h.Log
		if log == nil {
			log = logrus.NewEntry(logrus.StandardLogger())
		}
		log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeError(w, status, code, "internal error")
		return
	}
	writeError(w, status, code, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid json body")
		return false
	}
	return true
}

func toOrder(o *models.Order) orderResponse {
	resp := orderResponse{
		OrderID:    o.ID,
		EventID:    o.EventID,
		Quantity:   o.Quantity,
		TotalPrice: o.TotalPrice,
		Status:     string(o.Status),
		ExpiresAt:  o.ExpiresAt.Format(time.RFC3339),
	}
	if o.DepositAddress != nil {
		resp.DepositAddress = *o.DepositAddress
	}
	if o.PaidAt != nil {
		resp.PaidAt = o.PaidAt.Format(time.RFC3339)
	}
	if o.TransactionHash != nil {
		resp.TxHash = *o.TransactionHash
	}
	if o.NftMintAddress != nil {
		resp.NftMintAddress = *o.NftMintAddress
	}
	if o.FailureReason != nil {
		resp.FailureReason = *o.FailureReason
	}
	return resp
}

func toTicket(t *models.Ticket) ticketResponse {
	return ticketResponse{
		TicketID:       t.ID,
		OrderID:        t.OrderID,
		EventID:        t.EventID,
		OwnerID:        t.OwnerID,
		NftMintAddress: t.NftMintAddress,
		TokenID:        t.TokenID,
		IsValid:        t.IsValid,
		IsUsed:         t.IsUsed,
	}
}

func toListing(l *models.Listing) listingResponse {
	resp := listingResponse{
		ListingID:      l.ID,
		TicketID:       l.TicketID,
		NftMintAddress: l.NftMintAddress,
		SellerID:       l.SellerID,
		Price:          l.Price,
		OriginalPrice:  l.OriginalPrice,
		Status:         string(l.Status),
	}
	if l.SoldTo != nil {
		resp.SoldTo = *l.SoldTo
	}
	if l.SoldAt != nil {
		resp.SoldAt = l.SoldAt.Format(time.RFC3339)
	}
	if l.CancelledAt != nil {
		resp.CancelledAt = l.CancelledAt.Format(time.RFC3339)
	}
	if l.TransactionHash != nil {
		resp.TxHash = *l.TransactionHash
	}
	if l.PendingTxHash != nil {
		resp.PendingTxHash = *l.PendingTxHash
	}
	return resp
}
