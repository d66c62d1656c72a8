package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TicketMint/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

func (s *Postgres) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.Pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(pgTx{q: tx})
	})
}

func (s *Postgres) NextDerivationIndex(ctx context.Context) (int64, error) {
	var idx int64
	err := s.Pool.QueryRow(ctx, "SELECT nextval('order_derivation_index_seq')").Scan(&idx)
	return idx, err
}

type pgTx struct {
	q querier
}

func (t pgTx) Users() UserRepo                 { return pgUsers(t) }
func (t pgTx) Organizers() OrganizerRepo       { return pgOrganizers(t) }
func (t pgTx) Events() EventRepo               { return pgEvents(t) }
func (t pgTx) Orders() OrderRepo               { return pgOrders(t) }
func (t pgTx) Tickets() TicketRepo             { return pgTickets(t) }
func (t pgTx) Listings() ListingRepo           { return pgListings(t) }
func (t pgTx) Distributions() DistributionRepo { return pgDistributions(t) }
func (t pgTx) Config() ConfigRepo              { return pgConfig(t) }

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
		case "23514":
			return fmt.Errorf("%w: %s", ErrConstraint, pgErr.ConstraintName)
		}
	}
	return err
}

func parseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse money %q: %w", s, err)
	}
	return d, nil
}

func statusStrings(statuses []models.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// ---- users / organizers / config ----

type pgUsers pgTx

func (r pgUsers) Get(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := r.q.QueryRow(ctx, `SELECT id, wallet_address, created_at FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.WalletAddress, &u.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

type pgOrganizers pgTx

func (r pgOrganizers) Get(ctx context.Context, id string) (*models.Organizer, error) {
	var o models.Organizer
	err := r.q.QueryRow(ctx, `SELECT id, user_id, wallet_address FROM organizers WHERE id=$1`, id).
		Scan(&o.ID, &o.UserID, &o.WalletAddress)
	if err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

type pgConfig pgTx

func (r pgConfig) Get(ctx context.Context, key string) (string, error) {
	var v string
	if err := r.q.QueryRow(ctx, `SELECT value FROM platform_config WHERE key=$1`, key).Scan(&v); err != nil {
		return "", mapErr(err)
	}
	return v, nil
}

// ---- events ----

type pgEvents pgTx

const eventColumns = `id, organizer_id, name, ticket_price::text, tickets_available, tickets_sold,
	starts_at, created_at, updated_at`

func scanEvent(row scanner) (*models.Event, error) {
	var e models.Event
	var price string
	if err := row.Scan(&e.ID, &e.OrganizerID, &e.Name, &price, &e.TicketsAvailable, &e.TicketsSold,
		&e.StartsAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	var err error
	if e.TicketPrice, err = parseMoney(price); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r pgEvents) Get(ctx context.Context, id string) (*models.Event, error) {
	return scanEvent(r.q.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id=$1`, id))
}

func (r pgEvents) GetForUpdate(ctx context.Context, id string) (*models.Event, error) {
	return scanEvent(r.q.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id=$1 FOR UPDATE`, id))
}

func (r pgEvents) AdjustInventory(ctx context.Context, id string, availableDelta, soldDelta int) error {
	res, err := r.q.Exec(ctx, `
		UPDATE events
		SET tickets_available = tickets_available + $2,
			tickets_sold = tickets_sold + $3,
			updated_at = now()
		WHERE id=$1
	`, id, availableDelta, soldDelta)
	if err != nil {
		return mapErr(err)
	}
	if res.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- orders ----

type pgOrders pgTx

const orderColumns = `id, event_id, user_id, quantity, total_price::text, status,
	deposit_address, derivation_index, transaction_hash, nft_mint_address,
	expires_at, paid_at, mint_attempts, next_attempt_at, last_error, failure_reason,
	created_at, updated_at`

func scanOrder(row scanner) (*models.Order, error) {
	var o models.Order
	var total, status string
	if err := row.Scan(
		&o.ID, &o.EventID, &o.UserID, &o.Quantity, &total, &status,
		&o.DepositAddress, &o.DerivationIndex, &o.TransactionHash, &o.NftMintAddress,
		&o.ExpiresAt, &o.PaidAt, &o.MintAttempts, &o.NextAttemptAt, &o.LastError, &o.FailureReason,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, mapErr(err)
	}
	o.Status = models.OrderStatus(status)
	var err error
	if o.TotalPrice, err = parseMoney(total); err != nil {
		return nil, err
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows, err error) ([]*models.Order, error) {
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r pgOrders) Create(ctx context.Context, o *models.Order) error {
	if err := CheckCreated("orders", o.CreatedAt); err != nil {
		return err
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO orders (
			id, event_id, user_id, quantity, total_price, status,
			deposit_address, derivation_index, expires_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5::numeric,$6,$7,$8,$9,$10,$10)
	`,
		o.ID, o.EventID, o.UserID, o.Quantity, o.TotalPrice.String(), string(o.Status),
		o.DepositAddress, o.DerivationIndex, o.ExpiresAt, o.CreatedAt,
	)
	return mapErr(err)
}

func (r pgOrders) Get(ctx context.Context, id string) (*models.Order, error) {
	return scanOrder(r.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
}

func (r pgOrders) GetForUpdate(ctx context.Context, id string) (*models.Order, error) {
	return scanOrder(r.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, id))
}

func (r pgOrders) FindByTxHash(ctx context.Context, txHash string) (*models.Order, error) {
	return scanOrder(r.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE transaction_hash=$1`, txHash))
}

func (r pgOrders) Transition(ctx context.Context, id string, from []models.OrderStatus, to models.OrderStatus, reason *string) (bool, error) {
	res, err := r.q.Exec(ctx, `
		UPDATE orders
		SET status=$3, failure_reason=COALESCE($4, failure_reason), updated_at=now()
		WHERE id=$1 AND status = ANY($2)
	`, id, statusStrings(from), string(to), reason)
	if err != nil {
		return false, mapErr(err)
	}
	return res.RowsAffected() == 1, nil
}

func (r pgOrders) MarkPaid(ctx context.Context, id, txHash string, paidAt time.Time) (bool, error) {
	res, err := r.q.Exec(ctx, `
		UPDATE orders
		SET status='PAID', transaction_hash=$2, paid_at=$3, next_attempt_at=NULL, updated_at=now()
		WHERE id=$1 AND status='PENDING'
	`, id, txHash, paidAt)
	if err != nil {
		return false, mapErr(err)
	}
	return res.RowsAffected() == 1, nil
}

func (r pgOrders) Complete(ctx context.Context, id, nftMintAddress string) (bool, error) {
	res, err := r.q.Exec(ctx, `
		UPDATE orders
		SET status='COMPLETED', nft_mint_address=$2, last_error=NULL, next_attempt_at=NULL, updated_at=now()
		WHERE id=$1 AND status='MINTING'
	`, id, nftMintAddress)
	if err != nil {
		return false, mapErr(err)
	}
	return res.RowsAffected() == 1, nil
}

func (r pgOrders) RecordAttempt(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE orders
		SET mint_attempts=$2, next_attempt_at=$3, last_error=$4, updated_at=now()
		WHERE id=$1
	`, id, attempts, next, lastErr)
	return mapErr(err)
}

func (r pgOrders) ListDue(ctx context.Context, statuses []models.OrderStatus, now time.Time, limit int) ([]*models.Order, error) {
	return collectOrders(r.q.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = ANY($1) AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		ORDER BY created_at
		LIMIT $3
	`, statusStrings(statuses), now, limit))
}

func (r pgOrders) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Order, error) {
	return collectOrders(r.q.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status='PENDING' AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2
	`, now, limit))
}

func (r pgOrders) ListCompletedUnsettled(ctx context.Context, limit int) ([]*models.Order, error) {
	return collectOrders(r.q.Query(ctx, `
		SELECT `+orderColumns+` FROM orders o
		WHERE o.status='COMPLETED'
			AND NOT EXISTS (SELECT 1 FROM payment_distributions d WHERE d.order_id = o.id)
		ORDER BY o.updated_at
		LIMIT $1
	`, limit))
}

// ---- tickets ----

type pgTickets pgTx

const ticketColumns = `id, order_id, unit_index, event_id, owner_id, nft_mint_address, token_id,
	mint_nonce, mint_tx_hash, mint_confirmed, is_valid, is_used, created_at, updated_at`

func scanTicket(row scanner) (*models.Ticket, error) {
	var t models.Ticket
	if err := row.Scan(&t.ID, &t.OrderID, &t.UnitIndex, &t.EventID, &t.OwnerID, &t.NftMintAddress, &t.TokenID,
		&t.MintNonce, &t.MintTxHash, &t.MintConfirmed, &t.IsValid, &t.IsUsed, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r pgTickets) Insert(ctx context.Context, t *models.Ticket) (bool, error) {
	if err := CheckCreated("tickets", t.CreatedAt); err != nil {
		return false, err
	}
	res, err := r.q.Exec(ctx, `
		INSERT INTO tickets (
			id, order_id, unit_index, event_id, owner_id, nft_mint_address, token_id,
			mint_nonce, mint_tx_hash, mint_confirmed, is_valid, is_used, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
		ON CONFLICT (order_id, unit_index) DO NOTHING
	`,
		t.ID, t.OrderID, t.UnitIndex, t.EventID, t.OwnerID, t.NftMintAddress, t.TokenID,
		t.MintNonce, t.MintTxHash, t.MintConfirmed, t.IsValid, t.IsUsed, t.CreatedAt,
	)
	if err != nil {
		return false, mapErr(err)
	}
	return res.RowsAffected() == 1, nil
}

func (r pgTickets) Get(ctx context.Context, id string) (*models.Ticket, error) {
	return scanTicket(r.q.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id))
}

func (r pgTickets) GetForUpdate(ctx context.Context, id string) (*models.Ticket, error) {
	return scanTicket(r.q.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1 FOR UPDATE`, id))
}

func (r pgTickets) ListByOrder(ctx context.Context, orderID string) ([]*models.Ticket, error) {
	rows, err := r.q.Query(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE order_id=$1 ORDER BY unit_index`, orderID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var tickets []*models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r pgTickets) FindByMintTx(ctx context.Context, txHash string) (*models.Ticket, error) {
	return scanTicket(r.q.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE mint_tx_hash=$1 LIMIT 1`, txHash))
}

func (r pgTickets) MarkMintConfirmed(ctx context.Context, id string) error {
	_, err := r.q.Exec(ctx, `UPDATE tickets SET mint_confirmed=true, updated_at=now() WHERE id=$1`, id)
	return mapErr(err)
}

func (r pgTickets) SetValidityForOrder(ctx context.Context, orderID string, valid bool) (int64, error) {
	res, err := r.q.Exec(ctx, `UPDATE tickets SET is_valid=$2, updated_at=now() WHERE order_id=$1`, orderID, valid)
	if err != nil {
		return 0, mapErr(err)
	}
	return res.RowsAffected(), nil
}

func (r pgTickets) TransferOwnership(ctx context.Context, id, from, to string) (bool, error) {
	res, err := r.q.Exec(ctx, `UPDATE tickets SET owner_id=$3, updated_at=now() WHERE id=$1 AND owner_id=$2`, id, from, to)
	if err != nil {
		return false, mapErr(err)
	}
	return res.RowsAffected() == 1, nil
}

func (r pgTickets) MarkUsed(ctx context.Context, id string) (bool, error) {
	res, err := r.q.Exec(ctx, `
		UPDATE tickets SET is_used=true, updated_at=now()
		WHERE id=$1 AND is_used=false AND is_valid=true
	`, id)
	if err != nil {
		return false, mapErr(err)
	}
	return res.RowsAffected() == 1, nil
}

// ---- listings ----

type pgListings pgTx

const listingColumns = `id, ticket_id, nft_mint_address, seller_id, price::text, original_price::text, status,
	sold_to, sold_at, cancelled_at, seller_signature, transaction_hash, pending_buyer_id, pending_tx_hash,
	pending_attempts, next_check_at, created_at, updated_at`

func scanListing(row scanner) (*models.Listing, error) {
	var l models.Listing
	var price, original, status string
	if err := row.Scan(&l.ID, &l.TicketID, &l.NftMintAddress, &l.SellerID, &price, &original, &status,
		&l.SoldTo, &l.SoldAt, &l.CancelledAt, &l.SellerSignature, &l.TransactionHash, &l.PendingBuyerID, &l.PendingTxHash,
		&l.PendingAttempts, &l.NextCheckAt, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	l.Status = models.ListingStatus(status)
	var err error
	if l.Price, err = parseMoney(price); err != nil {
		return nil, err
	}
	if l.OriginalPrice, err = parseMoney(original); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r pgListings) Create(ctx context.Context, l *models.Listing) error {
	if err := CheckCreated("listings", l.CreatedAt); err != nil {
		return err
	}
	_, err := r.q.Exec(ctx, `
		INSERT INTO listings (
			id, ticket_id, nft_mint_address, seller_id, price, original_price, status,
			seller_signature, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5::numeric,$6::numeric,$7,$8,$9,$9)
	`,
		l.ID, l.TicketID, l.NftMintAddress, l.SellerID, l.Price.String(), l.OriginalPrice.String(),
		string(l.Status), l.SellerSignature, l.CreatedAt,
	)
	return mapErr(err)
}

func (r pgListings) Get(ctx context.Context, id string) (*models.Listing, error) {
	return scanListing(r.q.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id=$1`, id))
}

func (r pgListings) GetForUpdate(ctx context.Context, id string) (*models.Listing, error) {
	return scanListing(r.q.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id=$1 FOR UPDATE`, id))
}

func (r pgListings) GetActiveByMint(ctx context.Context, mint string) (*models.Listing, error) {
	return scanListing(r.q.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE nft_mint_address=$1 AND status='ACTIVE'`, mint))
}

func (r pgListings) FindByPendingTx(ctx context.Context, txHash string) (*models.Listing, error) {
	return scanListing(r.q.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE pending_tx_hash=$1 LIMIT 1`, txHash))
}

func (r pgListings) MarkSold(ctx context.Context, id, buyerID, txHash string, soldAt time.Time) (bool, error) {
	res, err := r.q.Exec(ctx, `
		UPDATE listings
		SET status='SOLD', sold_to=$2, transaction_hash=$3, sold_at=$4, cancelled_at=NULL,
			pending_buyer_id=NULL, pending_tx_hash=NULL, next_check_at=NULL, updated_at=now()
		WHERE id=$1 AND (status='ACTIVE' OR (status='CANCELLED' AND cancelled_at >= $4))
	`, id, buyerID, txHash, soldAt)
	if err != nil {
		return false, mapErr(err)
	}
	return res.RowsAffected() == 1, nil
}

func (r pgListings) Cancel(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.q.Exec(ctx, `
		UPDATE listings
		SET status='CANCELLED', cancelled_at=$2, pending_buyer_id=NULL, pending_tx_hash=NULL, next_check_at=NULL, updated_at=now()
		WHERE id=$1 AND status='ACTIVE'
	`, id, at)
	if err != nil {
		return false, mapErr(err)
	}
	return res.RowsAffected() == 1, nil
}

func (r pgListings) SetPendingSale(ctx context.Context, id, buyerID, txHash string, nextCheck time.Time) (bool, error) {
	res, err := r.q.Exec(ctx, `
		UPDATE listings
		SET pending_buyer_id=$2, pending_tx_hash=$3, pending_attempts=0, next_check_at=$4, updated_at=now()
		WHERE id=$1 AND status='ACTIVE' AND (pending_tx_hash IS NULL OR pending_tx_hash=$3)
	`, id, buyerID, txHash, nextCheck)
	if err != nil {
		return false, mapErr(err)
	}
	return res.RowsAffected() == 1, nil
}

func (r pgListings) ClearPendingSale(ctx context.Context, id string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE listings
		SET pending_buyer_id=NULL, pending_tx_hash=NULL, pending_attempts=0, next_check_at=NULL, updated_at=now()
		WHERE id=$1
	`, id)
	return mapErr(err)
}

func (r pgListings) RecordPendingAttempt(ctx context.Context, id string, attempts int, next time.Time) error {
	_, err := r.q.Exec(ctx, `
		UPDATE listings SET pending_attempts=$2, next_check_at=$3, updated_at=now() WHERE id=$1
	`, id, attempts, next)
	return mapErr(err)
}

func (r pgListings) ListPendingSales(ctx context.Context, now time.Time, limit int) ([]*models.Listing, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+listingColumns+` FROM listings
		WHERE status='ACTIVE' AND pending_tx_hash IS NOT NULL
			AND (next_check_at IS NULL OR next_check_at <= $1)
		ORDER BY next_check_at NULLS FIRST
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var listings []*models.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// ---- distributions ----

type pgDistributions pgTx

func (r pgDistributions) InsertPayment(ctx context.Context, d *models.PaymentDistribution) (bool, error) {
	if err := CheckCreated("payment_distributions", d.CreatedAt); err != nil {
		return false, err
	}
	res, err := r.q.Exec(ctx, `
		INSERT INTO payment_distributions (
			id, order_id, total_amount, organizer_share, platform_share,
			organizer_wallet, platform_wallet, transaction_hash, created_at
		) VALUES ($1,$2,$3::numeric,$4::numeric,$5::numeric,$6,$7,$8,$9)
		ON CONFLICT (order_id) DO NOTHING
	`,
		d.ID, d.OrderID, d.TotalAmount.String(), d.OrganizerShare.String(), d.PlatformShare.String(),
		d.OrganizerWallet, d.PlatformWallet, d.TransactionHash, d.CreatedAt,
	)
	if err != nil {
		return false, mapErr(err)
	}
	return res.RowsAffected() == 1, nil
}

func (r pgDistributions) GetByOrder(ctx context.Context, orderID string) (*models.PaymentDistribution, error) {
	var d models.PaymentDistribution
	var total, org, plat string
	err := r.q.QueryRow(ctx, `
		SELECT id, order_id, total_amount::text, organizer_share::text, platform_share::text,
			organizer_wallet, platform_wallet, transaction_hash, created_at
		FROM payment_distributions WHERE order_id=$1
	`, orderID).Scan(&d.ID, &d.OrderID, &total, &org, &plat,
		&d.OrganizerWallet, &d.PlatformWallet, &d.TransactionHash, &d.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if d.TotalAmount, err = parseMoney(total); err != nil {
		return nil, err
	}
	if d.OrganizerShare, err = parseMoney(org); err != nil {
		return nil, err
	}
	if d.PlatformShare, err = parseMoney(plat); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r pgDistributions) InsertResale(ctx context.Context, d *models.ResaleDistribution) (bool, error) {
	if err := CheckCreated("resale_distributions", d.CreatedAt); err != nil {
		return false, err
	}
	res, err := r.q.Exec(ctx, `
		INSERT INTO resale_distributions (
			id, listing_id, total_amount, seller_share, platform_share,
			seller_wallet, platform_wallet, transaction_hash, created_at
		) VALUES ($1,$2,$3::numeric,$4::numeric,$5::numeric,$6,$7,$8,$9)
		ON CONFLICT (listing_id) DO NOTHING
	`,
		d.ID, d.ListingID, d.TotalAmount.String(), d.SellerShare.String(), d.PlatformShare.String(),
		d.SellerWallet, d.PlatformWallet, d.TransactionHash, d.CreatedAt,
	)
	if err != nil {
		return false, mapErr(err)
	}
	return res.RowsAffected() == 1, nil
}

func (r pgDistributions) GetByListing(ctx context.Context, listingID string) (*models.ResaleDistribution, error) {
	var d models.ResaleDistribution
	var total, seller, plat string
	err := r.q.QueryRow(ctx, `
		SELECT id, listing_id, total_amount::text, seller_share::text, platform_share::text,
			seller_wallet, platform_wallet, transaction_hash, created_at
		FROM resale_distributions WHERE listing_id=$1
	`, listingID).Scan(&d.ID, &d.ListingID, &total, &seller, &plat,
		&d.SellerWallet, &d.PlatformWallet, &d.TransactionHash, &d.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if d.TotalAmount, err = parseMoney(total); err != nil {
		return nil, err
	}
	if d.SellerShare, err = parseMoney(seller); err != nil {
		return nil, err
	}
	if d.PlatformShare, err = parseMoney(plat); err != nil {
		return nil, err
	}
	return &d, nil
}

var _ Store = (*Postgres)(nil)
