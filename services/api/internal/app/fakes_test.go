package app

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/cimillas/pixelgrid/services/api/internal/domain"
	"github.com/cimillas/pixelgrid/services/api/internal/notify"
	"github.com/shopspring/decimal"
)

type fakeTxKey struct{}

// fakeTx is the state of one WithTx call: how to undo its writes and which
// zone rows it holds.
type fakeTx struct {
	undo   []func()
	locked []string
}

// fakeStore is an in-memory store with transaction semantics. Transactions
// run concurrently: writes are applied in place and undone when fn fails,
// GetZoneForUpdate holds a per-zone lock until the transaction ends, and
// ApplyBidUpdate compares against the shared state like a conditional UPDATE.
type fakeStore struct {
	mu       sync.Mutex
	zones    map[string]domain.Zone
	bids     map[string]domain.Bid
	txns     map[string]domain.Transaction
	rowLocks map[string]*sync.Mutex

	// conflicts makes the next N ApplyBidUpdate calls lose their
	// compare-and-set, as if a competing writer got there first.
	conflicts   int
	finalizeErr error
	casCalls    int
	// casLost counts compare-and-sets lost to a real competing write.
	casLost int
	// beforeCAS runs at the start of every ApplyBidUpdate, outside any lock.
	beforeCAS func()
}

func newFakeStore(zones ...domain.Zone) *fakeStore {
	f := &fakeStore{
		zones:    make(map[string]domain.Zone),
		bids:     make(map[string]domain.Bid),
		txns:     make(map[string]domain.Transaction),
		rowLocks: make(map[string]*sync.Mutex),
	}
	for _, z := range zones {
		f.zones[z.ID] = z
	}
	return f
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(fakeTxKey{}) != nil {
		return fn(ctx)
	}
	tx := &fakeTx{}
	err := fn(context.WithValue(ctx, fakeTxKey{}, tx))
	if err != nil {
		f.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		f.mu.Unlock()
	}
	for _, id := range tx.locked {
		f.rowLock(id).Unlock()
	}
	return err
}

// track records how to restore m[key] if the surrounding transaction fails.
// Callers hold f.mu.
func track[V any](ctx context.Context, m map[string]V, key string) {
	tx, ok := ctx.Value(fakeTxKey{}).(*fakeTx)
	if !ok {
		return
	}
	prev, existed := m[key]
	tx.undo = append(tx.undo, func() {
		if existed {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
}

func (f *fakeStore) rowLock(zoneID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.rowLocks[zoneID]
	if !ok {
		l = &sync.Mutex{}
		f.rowLocks[zoneID] = l
	}
	return l
}

func (f *fakeStore) zone(id string) domain.Zone {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zones[id]
}

func (f *fakeStore) txnBySession(sessionID string) (domain.Transaction, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.txns {
		if t.SessionID == sessionID {
			return t, true
		}
	}
	return domain.Transaction{}, false
}

func (f *fakeStore) bidCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.bids)
}

func (f *fakeStore) GetZone(_ context.Context, zoneID string) (domain.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	z, ok := f.zones[zoneID]
	if !ok {
		return domain.Zone{}, domain.ErrZoneNotFound
	}
	return z, nil
}

func (f *fakeStore) GetZoneForUpdate(ctx context.Context, zoneID string) (domain.Zone, error) {
	if tx, ok := ctx.Value(fakeTxKey{}).(*fakeTx); ok && !slices.Contains(tx.locked, zoneID) {
		f.rowLock(zoneID).Lock()
		tx.locked = append(tx.locked, zoneID)
	}
	return f.GetZone(ctx, zoneID)
}

func (f *fakeStore) ListActiveZones(_ context.Context) ([]domain.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Zone
	for _, z := range f.zones {
		if z.Status == domain.ZoneStatusActive {
			out = append(out, z)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListZones(_ context.Context) ([]domain.Zone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Zone, 0, len(f.zones))
	for _, z := range f.zones {
		out = append(out, z)
	}
	return out, nil
}

func (f *fakeStore) ApplyBidUpdate(ctx context.Context, upd domain.BidUpdate) error {
	if f.beforeCAS != nil {
		f.beforeCAS()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.casCalls++
	if f.conflicts > 0 {
		f.conflicts--
		return domain.ErrBidConflict
	}
	z, ok := f.zones[upd.ZoneID]
	if !ok || z.Status != domain.ZoneStatusActive || !z.CurrentBid.Equal(upd.ExpectedPrior) {
		f.casLost++
		return domain.ErrBidConflict
	}
	track(ctx, f.zones, z.ID)
	z.CurrentBid = upd.Amount
	z.CurrentBidderID = upd.BidderID
	z.CurrentBidID = upd.BidID
	f.zones[z.ID] = z
	return nil
}

func (f *fakeStore) FinalizeZone(ctx context.Context, zoneID string, outcome domain.ZoneStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	z, ok := f.zones[zoneID]
	if !ok {
		return domain.ErrZoneNotFound
	}
	if !z.Status.CanFinalize(outcome) {
		return domain.ErrZoneTerminal
	}
	track(ctx, f.zones, zoneID)
	z.Status = outcome
	f.zones[zoneID] = z
	return nil
}

func (f *fakeStore) LockListings(context.Context) error { return nil }

func (f *fakeStore) CreateZone(ctx context.Context, zone domain.Zone) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	track(ctx, f.zones, zone.ID)
	f.zones[zone.ID] = zone
	return nil
}

func (f *fakeStore) DeleteZone(ctx context.Context, zoneID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.zones[zoneID]; !ok {
		return domain.ErrZoneNotFound
	}
	track(ctx, f.zones, zoneID)
	delete(f.zones, zoneID)
	return nil
}

func (f *fakeStore) CountZoneReferences(_ context.Context, zoneID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.bids {
		if b.ZoneID == zoneID {
			n++
		}
	}
	for _, t := range f.txns {
		if t.ZoneID == zoneID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) AppendBid(ctx context.Context, bid domain.Bid) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	track(ctx, f.bids, bid.ID)
	f.bids[bid.ID] = bid
	return nil
}

func (f *fakeStore) GetBid(_ context.Context, bidID string) (domain.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bids[bidID]
	if !ok {
		return domain.Bid{}, domain.ErrBidNotFound
	}
	return b, nil
}

func (f *fakeStore) HighestBid(_ context.Context, zoneID string, excluding []string) (*domain.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	skip := make(map[string]bool, len(excluding))
	for _, id := range excluding {
		skip[id] = true
	}
	var best *domain.Bid
	for _, b := range f.bids {
		if b.ZoneID != zoneID || b.Moderation == domain.ModerationRejected || skip[b.ID] {
			continue
		}
		if best == nil || b.Amount.GreaterThan(best.Amount) ||
			(b.Amount.Equal(best.Amount) && b.CreatedAt.Before(best.CreatedAt)) {
			b := b
			best = &b
		}
	}
	return best, nil
}

func (f *fakeStore) SetModeration(ctx context.Context, bidID string, from, to domain.ModerationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.bids[bidID]
	if !ok {
		return domain.ErrBidNotFound
	}
	if b.Moderation != from {
		return domain.ErrInvalidTransition
	}
	track(ctx, f.bids, bidID)
	b.Moderation = to
	f.bids[bidID] = b
	return nil
}

func (f *fakeStore) ListBidsForZone(_ context.Context, zoneID string) ([]domain.Bid, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Bid
	for _, b := range f.bids {
		if b.ZoneID == zoneID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) CreateTransaction(ctx context.Context, txn domain.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.txns {
		if t.SessionID == txn.SessionID {
			return domain.ErrSessionConflict
		}
	}
	track(ctx, f.txns, txn.ID)
	f.txns[txn.ID] = txn
	return nil
}

func (f *fakeStore) GetTransactionBySession(_ context.Context, sessionID string) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.txns {
		if t.SessionID == sessionID {
			t := t
			return &t, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetCompletedTransaction(_ context.Context, zoneID string) (*domain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.txns {
		if t.ZoneID == zoneID && t.Status == domain.TransactionCompleted {
			t := t
			return &t, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpdateTransactionStatus(ctx context.Context, txnID string, from, to domain.TransactionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.txns[txnID]
	if !ok {
		return domain.ErrTransactionNotFound
	}
	if t.Status != from {
		return domain.ErrInvalidTxState
	}
	track(ctx, f.txns, txnID)
	t.Status = to
	f.txns[txnID] = t
	return nil
}

// recordingNotifier hands every event to a buffered channel.
type recordingNotifier struct {
	events chan notify.Event
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(chan notify.Event, 64)}
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	r.events <- ev
	return nil
}

func (r *recordingNotifier) next(timeout time.Duration) (notify.Event, bool) {
	select {
	case ev := <-r.events:
		return ev, true
	case <-time.After(timeout):
		return notify.Event{}, false
	}
}

func auctionZone(id string, endsAt time.Time) domain.Zone {
	return domain.Zone{
		ID:            id,
		Title:         "Auction " + id,
		Rect:          domain.Rect{X: 0, Y: 0, Width: 10, Height: 10},
		PixelCount:    100,
		PricePerPixel: decimal.NewFromInt(1),
		Mode:          domain.SaleModeAuction,
		AuctionEndsAt: endsAt,
		CurrentBid:    decimal.Zero,
		Status:        domain.ZoneStatusActive,
	}
}

func buyNowZone(id string, pricePerPixel int64) domain.Zone {
	return domain.Zone{
		ID:            id,
		Title:         "Buy now " + id,
		Rect:          domain.Rect{X: 20, Y: 20, Width: 10, Height: 10},
		PixelCount:    100,
		PricePerPixel: decimal.NewFromInt(pricePerPixel),
		Mode:          domain.SaleModeBuyNow,
		CurrentBid:    decimal.Zero,
		Status:        domain.ZoneStatusActive,
	}
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
