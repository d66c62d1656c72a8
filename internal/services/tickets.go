package services

import (
	"context"
	"errors"

	"TicketMint/internal/models"
	"TicketMint/internal/store"

	"github.com/sirupsen/logrus"
)

type TicketService struct {
	Store store.Store
	Log   *logrus.Entry
}

func (s TicketService) GetTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	var ticket *models.Ticket
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		ticket, err = tx.Tickets().Get(ctx, ticketID)
		return notFound(err, ErrTicketNotFound)
	})
	return ticket, err
}

func (s TicketService) OrderTickets(ctx context.Context, orderID string) ([]*models.Ticket, error) {
	var tickets []*models.Ticket
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Orders().Get(ctx, orderID); err != nil {
			return notFound(err, ErrOrderNotFound)
		}
		var err error
		tickets, err = tx.Tickets().ListByOrder(ctx, orderID)
		return err
	})
	return tickets, err
}

// Redeem marks a ticket used at the venue. A used ticket stays used.
func (s TicketService) Redeem(ctx context.Context, ticketID string) (*models.Ticket, error) {
	var ticket *models.Ticket
	err := s.Store.InTx(ctx, func(tx store.Tx) error {
		var err error
		ticket, err = tx.Tickets().GetForUpdate(ctx, ticketID)
		if err != nil {
			return notFound(err, ErrTicketNotFound)
		}
		switch {
		case ticket.IsUsed:
			return ErrTicketUsed
		case !ticket.IsValid:
			return ErrTicketNotValid
		}
		if _, err := tx.Listings().GetActiveByMint(ctx, ticket.NftMintAddress); err == nil {
			return ErrTicketListed
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		ok, err := tx.Tickets().MarkUsed(ctx, ticketID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTicketUsed
		}
		ticket.IsUsed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger(s.Log).WithField("ticket_id", ticketID).Info("ticket redeemed")
	return ticket, nil
}
