// Package memstore keeps the whole data set in process memory behind one
// mutex. Every InTx call is serialized and rolled back on error, which
// gives tests the same all-or-nothing behaviour as Postgres.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"TicketMint/internal/models"
	"TicketMint/internal/store"
)

type state struct {
	users         map[string]models.User
	organizers    map[string]models.Organizer
	events        map[string]models.Event
	orders        map[string]models.Order
	tickets       map[string]models.Ticket
	listings      map[string]models.Listing
	distributions map[string]models.PaymentDistribution
	resales       map[string]models.ResaleDistribution
	config        map[string]string
}

func newState() *state {
	return &state{
		users:         map[string]models.User{},
		organizers:    map[string]models.Organizer{},
		events:        map[string]models.Event{},
		orders:        map[string]models.Order{},
		tickets:       map[string]models.Ticket{},
		listings:      map[string]models.Listing{},
		distributions: map[string]models.PaymentDistribution{},
		resales:       map[string]models.ResaleDistribution{},
		config:        map[string]string{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		users:         cloneMap(s.users),
		organizers:    cloneMap(s.organizers),
		events:        cloneMap(s.events),
		orders:        cloneMap(s.orders),
		tickets:       cloneMap(s.tickets),
		listings:      cloneMap(s.listings),
		distributions: cloneMap(s.distributions),
		resales:       cloneMap(s.resales),
		config:        cloneMap(s.config),
	}
}

type Store struct {
	mu    sync.Mutex
	st    *state
	seq   atomic.Int64
	clock func() time.Time
}

func New() *Store {
	return &Store{st: newState(), clock: func() time.Time { return time.Now().UTC() }}
}

// InTx must not be called re-entrantly from fn.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(&memTx{st: s.st, now: s.clock()}); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *Store) NextDerivationIndex(ctx context.Context) (int64, error) {
	return s.seq.Add(1), nil
}

func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

func (s *Store) PutOrganizer(o models.Organizer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.organizers[o.ID] = o
}

func (s *Store) PutEvent(e models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.events[e.ID] = e
}

func (s *Store) SetConfig(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.config[key] = value
}

type memTx struct {
	st  *state
	now time.Time
}

func (t *memTx) Users() store.UserRepo                 { return memUsers{t} }
func (t *memTx) Organizers() store.OrganizerRepo       { return memOrganizers{t} }
func (t *memTx) Events() store.EventRepo               { return memEvents{t} }
func (t *memTx) Orders() store.OrderRepo               { return memOrders{t} }
func (t *memTx) Tickets() store.TicketRepo             { return memTickets{t} }
func (t *memTx) Listings() store.ListingRepo           { return memListings{t} }
func (t *memTx) Distributions() store.DistributionRepo { return memDistributions{t} }
func (t *memTx) Config() store.ConfigRepo              { return memConfig{t} }

func ptr[T any](v T) *T { return &v }

type memUsers struct{ *memTx }

func (r memUsers) Get(ctx context.Context, id string) (*models.User, error) {
	u, ok := r.st.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

type memOrganizers struct{ *memTx }

func (r memOrganizers) Get(ctx context.Context, id string) (*models.Organizer, error) {
	o, ok := r.st.organizers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

type memConfig struct{ *memTx }

func (r memConfig) Get(ctx context.Context, key string) (string, error) {
	v, ok := r.st.config[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return v, nil
}

type memEvents struct{ *memTx }

func (r memEvents) Get(ctx context.Context, id string) (*models.Event, error) {
	e, ok := r.st.events[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &e, nil
}

func (r memEvents) GetForUpdate(ctx context.Context, id string) (*models.Event, error) {
	return r.Get(ctx, id)
}

func (r memEvents) AdjustInventory(ctx context.Context, id string, availableDelta, soldDelta int) error {
	e, ok := r.st.events[id]
	if !ok {
		return store.ErrNotFound
	}
	e.TicketsAvailable += availableDelta
	e.TicketsSold += soldDelta
	if e.TicketsAvailable < 0 || e.TicketsSold < 0 {
		return fmt.Errorf("%w: events inventory", store.ErrConstraint)
	}
	e.UpdatedAt = r.now
	r.st.events[id] = e
	return nil
}

type memOrders struct{ *memTx }

func (r memOrders) Create(ctx context.Context, o *models.Order) error {
	if _, ok := r.st.orders[o.ID]; ok {
		return fmt.Errorf("%w: orders_pkey", store.ErrDuplicate)
	}
	if _, ok := r.st.events[o.EventID]; !ok {
		return store.ErrNotFound
	}
	if err := store.CheckCreated("orders", o.CreatedAt); err != nil {
		return err
	}
	c := *o
	c.UpdatedAt = c.CreatedAt
	r.st.orders[o.ID] = c
	return nil
}

func (r memOrders) Get(ctx context.Context, id string) (*models.Order, error) {
	o, ok := r.st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &o, nil
}

func (r memOrders) GetForUpdate(ctx context.Context, id string) (*models.Order, error) {
	return r.Get(ctx, id)
}

func (r memOrders) FindByTxHash(ctx context.Context, txHash string) (*models.Order, error) {
	for _, o := range r.st.orders {
		if o.TransactionHash != nil && *o.TransactionHash == txHash {
			return &o, nil
		}
	}
	return nil, store.ErrNotFound
}

func statusIn(s models.OrderStatus, set []models.OrderStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func (r memOrders) Transition(ctx context.Context, id string, from []models.OrderStatus, to models.OrderStatus, reason *string) (bool, error) {
	o, ok := r.st.orders[id]
	if !ok || !statusIn(o.Status, from) {
		return false, nil
	}
	o.Status = to
	if reason != nil {
		o.FailureReason = ptr(*reason)
	}
	o.UpdatedAt = r.now
	r.st.orders[id] = o
	return true, nil
}

func (r memOrders) MarkPaid(ctx context.Context, id, txHash string, paidAt time.Time) (bool, error) {
	o, ok := r.st.orders[id]
	if !ok || o.Status != models.OrderPending {
		return false, nil
	}
	if other, err := r.FindByTxHash(ctx, txHash); err == nil && other.ID != id {
		return false, fmt.Errorf("%w: orders_transaction_hash_key", store.ErrDuplicate)
	}
	o.Status = models.OrderPaid
	o.TransactionHash = ptr(txHash)
	o.PaidAt = ptr(paidAt)
	o.NextAttemptAt = nil
	o.UpdatedAt = r.now
	r.st.orders[id] = o
	return true, nil
}

func (r memOrders) Complete(ctx context.Context, id, nftMintAddress string) (bool, error) {
	o, ok := r.st.orders[id]
	if !ok || o.Status != models.OrderMinting {
		return false, nil
	}
	o.Status = models.OrderCompleted
	o.NftMintAddress = ptr(nftMintAddress)
	o.LastError = nil
	o.NextAttemptAt = nil
	o.UpdatedAt = r.now
	r.st.orders[id] = o
	return true, nil
}

func (r memOrders) RecordAttempt(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	o, ok := r.st.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	o.MintAttempts = attempts
	o.NextAttemptAt = ptr(next)
	o.LastError = ptr(lastErr)
	o.UpdatedAt = r.now
	r.st.orders[id] = o
	return nil
}

func (r memOrders) list(match func(o models.Order) bool, limit int) []*models.Order {
	var out []*models.Order
	for _, o := range r.st.orders {
		if match(o) {
			o := o
			out = append(out, &o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r memOrders) ListDue(ctx context.Context, statuses []models.OrderStatus, now time.Time, limit int) ([]*models.Order, error) {
	return r.list(func(o models.Order) bool {
		return statusIn(o.Status, statuses) && (o.NextAttemptAt == nil || !o.NextAttemptAt.After(now))
	}, limit), nil
}

func (r memOrders) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Order, error) {
	return r.list(func(o models.Order) bool {
		return o.Status == models.OrderPending && o.ExpiresAt.Before(now)
	}, limit), nil
}

func (r memOrders) ListCompletedUnsettled(ctx context.Context, limit int) ([]*models.Order, error) {
	return r.list(func(o models.Order) bool {
		if o.Status != models.OrderCompleted {
			return false
		}
		_, settled := r.st.distributions[o.ID]
		return !settled
	}, limit), nil
}

type memTickets struct{ *memTx }

func (r memTickets) Insert(ctx context.Context, t *models.Ticket) (bool, error) {
	if err := store.CheckCreated("tickets", t.CreatedAt); err != nil {
		return false, err
	}
	for _, existing := range r.st.tickets {
		if existing.OrderID == t.OrderID && existing.UnitIndex == t.UnitIndex {
			return false, nil
		}
		if existing.NftMintAddress == t.NftMintAddress {
			return false, fmt.Errorf("%w: tickets_nft_mint_address_key", store.ErrDuplicate)
		}
		if existing.MintNonce == t.MintNonce {
			return false, fmt.Errorf("%w: tickets_mint_nonce_key", store.ErrDuplicate)
		}
	}
	c := *t
	c.UpdatedAt = c.CreatedAt
	r.st.tickets[t.ID] = c
	return true, nil
}

func (r memTickets) Get(ctx context.Context, id string) (*models.Ticket, error) {
	t, ok := r.st.tickets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (r memTickets) GetForUpdate(ctx context.Context, id string) (*models.Ticket, error) {
	return r.Get(ctx, id)
}

func (r memTickets) ListByOrder(ctx context.Context, orderID string) ([]*models.Ticket, error) {
	var out []*models.Ticket
	for _, t := range r.st.tickets {
		if t.OrderID == orderID {
			t := t
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UnitIndex < out[j].UnitIndex })
	return out, nil
}

func (r memTickets) FindByMintTx(ctx context.Context, txHash string) (*models.Ticket, error) {
	for _, t := range r.st.tickets {
		if t.MintTxHash == txHash {
			return &t, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r memTickets) MarkMintConfirmed(ctx context.Context, id string) error {
	t, ok := r.st.tickets[id]
	if !ok {
		return store.ErrNotFound
	}
	t.MintConfirmed = true
	t.UpdatedAt = r.now
	r.st.tickets[id] = t
	return nil
}

func (r memTickets) SetValidityForOrder(ctx context.Context, orderID string, valid bool) (int64, error) {
	var n int64
	for id, t := range r.st.tickets {
		if t.OrderID != orderID {
			continue
		}
		t.IsValid = valid
		t.UpdatedAt = r.now
		r.st.tickets[id] = t
		n++
	}
	return n, nil
}

func (r memTickets) TransferOwnership(ctx context.Context, id, from, to string) (bool, error) {
	t, ok := r.st.tickets[id]
	if !ok || t.OwnerID != from {
		return false, nil
	}
	t.OwnerID = to
	t.UpdatedAt = r.now
	r.st.tickets[id] = t
	return true, nil
}

func (r memTickets) MarkUsed(ctx context.Context, id string) (bool, error) {
	t, ok := r.st.tickets[id]
	if !ok || t.IsUsed || !t.IsValid {
		return false, nil
	}
	t.IsUsed = true
	t.UpdatedAt = r.now
	r.st.tickets[id] = t
	return true, nil
}

type memListings struct{ *memTx }

func (r memListings) Create(ctx context.Context, l *models.Listing) error {
	if err := store.CheckCreated("listings", l.CreatedAt); err != nil {
		return err
	}
	for _, existing := range r.st.listings {
		if existing.Status == models.ListingActive && existing.NftMintAddress == l.NftMintAddress {
			return fmt.Errorf("%w: listings_active_mint_idx", store.ErrDuplicate)
		}
	}
	c := *l
	c.UpdatedAt = c.CreatedAt
	r.st.listings[l.ID] = c
	return nil
}

func (r memListings) Get(ctx context.Context, id string) (*models.Listing, error) {
	l, ok := r.st.listings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (r memListings) GetForUpdate(ctx context.Context, id string) (*models.Listing, error) {
	return r.Get(ctx, id)
}

func (r memListings) find(match func(l models.Listing) bool) (*models.Listing, error) {
	for _, l := range r.st.listings {
		if match(l) {
			return &l, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r memListings) GetActiveByMint(ctx context.Context, mint string) (*models.Listing, error) {
	return r.find(func(l models.Listing) bool {
		return l.Status == models.ListingActive && l.NftMintAddress == mint
	})
}

func (r memListings) FindByPendingTx(ctx context.Context, txHash string) (*models.Listing, error) {
	return r.find(func(l models.Listing) bool {
		return l.PendingTxHash != nil && *l.PendingTxHash == txHash
	})
}

func clearPending(l *models.Listing) {
	l.PendingBuyerID = nil
	l.PendingTxHash = nil
	l.NextCheckAt = nil
}

func (r memListings) MarkSold(ctx context.Context, id, buyerID, txHash string, soldAt time.Time) (bool, error) {
	l, ok := r.st.listings[id]
	if !ok || !sellable(l, soldAt) {
		return false, nil
	}
	if _, err := r.find(func(o models.Listing) bool {
		return o.ID != id && o.TransactionHash != nil && *o.TransactionHash == txHash
	}); err == nil {
		return false, fmt.Errorf("%w: listings_transaction_hash_key", store.ErrDuplicate)
	}
	l.Status = models.ListingSold
	l.SoldTo = ptr(buyerID)
	l.SoldAt = ptr(soldAt)
	l.CancelledAt = nil
	l.TransactionHash = ptr(txHash)
	clearPending(&l)
	l.UpdatedAt = r.now
	r.st.listings[id] = l
	return true, nil
}

func sellable(l models.Listing, soldAt time.Time) bool {
	switch l.Status {
	case models.ListingActive:
		return true
	case models.ListingCancelled:
		return l.CancelledAt != nil && !l.CancelledAt.Before(soldAt)
	}
	return false
}

func (r memListings) Cancel(ctx context.Context, id string, at time.Time) (bool, error) {
	l, ok := r.st.listings[id]
	if !ok || l.Status != models.ListingActive {
		return false, nil
	}
	l.Status = models.ListingCancelled
	l.CancelledAt = ptr(at)
	clearPending(&l)
	l.UpdatedAt = r.now
	r.st.listings[id] = l
	return true, nil
}

func (r memListings) SetPendingSale(ctx context.Context, id, buyerID, txHash string, nextCheck time.Time) (bool, error) {
	l, ok := r.st.listings[id]
	if !ok || l.Status != models.ListingActive {
		return false, nil
	}
	if l.PendingTxHash != nil && *l.PendingTxHash != txHash {
		return false, nil
	}
	l.PendingBuyerID = ptr(buyerID)
	l.PendingTxHash = ptr(txHash)
	l.PendingAttempts = 0
	l.NextCheckAt = ptr(nextCheck)
	l.UpdatedAt = r.now
	r.st.listings[id] = l
	return true, nil
}

func (r memListings) ClearPendingSale(ctx context.Context, id string) error {
	l, ok := r.st.listings[id]
	if !ok {
		return store.ErrNotFound
	}
	clearPending(&l)
	l.PendingAttempts = 0
	l.UpdatedAt = r.now
	r.st.listings[id] = l
	return nil
}

func (r memListings) RecordPendingAttempt(ctx context.Context, id string, attempts int, next time.Time) error {
	l, ok := r.st.listings[id]
	if !ok {
		return store.ErrNotFound
	}
	l.PendingAttempts = attempts
	l.NextCheckAt = ptr(next)
	l.UpdatedAt = r.now
	r.st.listings[id] = l
	return nil
}

func (r memListings) ListPendingSales(ctx context.Context, now time.Time, limit int) ([]*models.Listing, error) {
	var out []*models.Listing
	for _, l := range r.st.listings {
		if l.Status != models.ListingActive || l.PendingTxHash == nil {
			continue
		}
		if l.NextCheckAt != nil && l.NextCheckAt.After(now) {
			continue
		}
		l := l
		out = append(out, &l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memDistributions struct{ *memTx }

func (r memDistributions) InsertPayment(ctx context.Context, d *models.PaymentDistribution) (bool, error) {
	if err := store.CheckCreated("payment_distributions", d.CreatedAt); err != nil {
		return false, err
	}
	if _, ok := r.st.distributions[d.OrderID]; ok {
		return false, nil
	}
	c := *d
	r.st.distributions[d.OrderID] = c
	return true, nil
}

func (r memDistributions) GetByOrder(ctx context.Context, orderID string) (*models.PaymentDistribution, error) {
	d, ok := r.st.distributions[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

func (r memDistributions) InsertResale(ctx context.Context, d *models.ResaleDistribution) (bool, error) {
	if err := store.CheckCreated("resale_distributions", d.CreatedAt); err != nil {
		return false, err
	}
	if _, ok := r.st.resales[d.ListingID]; ok {
		return false, nil
	}
	c := *d
	r.st.resales[d.ListingID] = c
	return true, nil
}

func (r memDistributions) GetByListing(ctx context.Context, listingID string) (*models.ResaleDistribution, error) {
	d, ok := r.st.resales[listingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

var _ store.Store = (*Store)(nil)
