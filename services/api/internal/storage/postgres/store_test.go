package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cimillas/pixelgrid/services/api/internal/domain"
	"github.com/cimillas/pixelgrid/services/api/internal/testutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newBid(zoneID, bidder string, amount int64, at time.Time) domain.Bid {
	return domain.Bid{
		ID:         uuid.NewString(),
		ZoneID:     zoneID,
		BidderID:   bidder,
		PixelCount: 100,
		Amount:     decimal.NewFromInt(amount),
		Moderation: domain.ModerationPending,
		CreatedAt:  at,
	}
}

func TestStore_Zones(t *testing.T) {
	pool := testutil.NewTestPool(t)
	store := NewStore(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	t.Run("CreateZone round trips and GetZone reports missing", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)

		now := time.Now().UTC().Truncate(time.Microsecond)
		zone := domain.Zone{
			ID:            uuid.NewString(),
			Title:         "Hero",
			Rect:          domain.Rect{X: 5, Y: 6, Width: 7, Height: 8},
			PixelCount:    56,
			PricePerPixel: decimal.RequireFromString("0.25"),
			Mode:          domain.SaleModeAuction,
			AuctionEndsAt: now.Add(time.Hour),
			CurrentBid:    decimal.Zero,
			Status:        domain.ZoneStatusActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := store.CreateZone(ctx, zone); err != nil {
			t.Fatalf("create zone: %v", err)
		}

		got, err := store.GetZone(ctx, zone.ID)
		if err != nil {
			t.Fatalf("get zone: %v", err)
		}
		if got.Rect != zone.Rect || got.Mode != zone.Mode || !got.PricePerPixel.Equal(zone.PricePerPixel) {
			t.Fatalf("unexpected zone: %+v", got)
		}
		if !got.AuctionEndsAt.Equal(zone.AuctionEndsAt) || got.CurrentBidID != "" || !got.CurrentBid.IsZero() {
			t.Fatalf("unexpected auction fields: %+v", got)
		}

		if _, err := store.GetZone(ctx, "00000000-0000-0000-0000-000000000001"); err != domain.ErrZoneNotFound {
			t.Fatalf("expected ErrZoneNotFound, got %v", err)
		}
		if _, err := store.GetZone(ctx, "not-a-uuid"); err != domain.ErrInvalidID {
			t.Fatalf("expected ErrInvalidID, got %v", err)
		}
	})

	t.Run("ApplyBidUpdate only matches expected prior", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		zoneID := testutil.InsertZone(t, ctx, pool, domain.Zone{Mode: domain.SaleModeAuction})
		bid := newBid(zoneID, "alice", 50, time.Now().UTC())
		if err := store.AppendBid(ctx, bid); err != nil {
			t.Fatalf("append bid: %v", err)
		}

		err := store.ApplyBidUpdate(ctx, domain.BidUpdate{
			ZoneID: zoneID, BidID: bid.ID, BidderID: "alice", Amount: bid.Amount, ExpectedPrior: decimal.NewFromInt(10),
		})
		if err != domain.ErrBidConflict {
			t.Fatalf("expected ErrBidConflict for stale prior, got %v", err)
		}

		err = store.ApplyBidUpdate(ctx, domain.BidUpdate{
			ZoneID: zoneID, BidID: bid.ID, BidderID: "alice", Amount: bid.Amount, ExpectedPrior: decimal.Zero,
		})
		if err != nil {
			t.Fatalf("expected update, got %v", err)
		}
		z, err := store.GetZone(ctx, zoneID)
		if err != nil {
			t.Fatalf("get zone: %v", err)
		}
		if !z.CurrentBid.Equal(bid.Amount) || z.CurrentBidID != bid.ID || z.CurrentBidderID != "alice" {
			t.Fatalf("unexpected zone bid fields: %+v", z)
		}

		err = store.ApplyBidUpdate(ctx, domain.BidUpdate{ZoneID: zoneID, Amount: decimal.Zero, ExpectedPrior: bid.Amount})
		if err != nil {
			t.Fatalf("expected clear, got %v", err)
		}
		z, _ = store.GetZone(ctx, zoneID)
		if z.CurrentBidID != "" || z.CurrentBidderID != "" || !z.CurrentBid.IsZero() {
			t.Fatalf("expected cleared zone, got %+v", z)
		}
	})

	t.Run("FinalizeZone is one-way", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		zoneID := testutil.InsertZone(t, ctx, pool, domain.Zone{})

		if err := store.FinalizeZone(ctx, zoneID, domain.ZoneStatusSold); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if err := store.FinalizeZone(ctx, zoneID, domain.ZoneStatusExpired); err != domain.ErrZoneTerminal {
			t.Fatalf("expected ErrZoneTerminal, got %v", err)
		}
		if err := store.FinalizeZone(ctx, "00000000-0000-0000-0000-000000000001", domain.ZoneStatusSold); err != domain.ErrZoneNotFound {
			t.Fatalf("expected ErrZoneNotFound, got %v", err)
		}
		err := store.ApplyBidUpdate(ctx, domain.BidUpdate{ZoneID: zoneID, Amount: decimal.NewFromInt(1), ExpectedPrior: decimal.Zero})
		if err != domain.ErrBidConflict {
			t.Fatalf("expected terminal zone to refuse bids, got %v", err)
		}
	})

	t.Run("ListActiveZones and DeleteZone", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		active := testutil.InsertZone(t, ctx, pool, domain.Zone{})
		testutil.InsertZone(t, ctx, pool, domain.Zone{Rect: domain.Rect{X: 50, Width: 5, Height: 5}, Status: domain.ZoneStatusSold})

		zones, err := store.ListActiveZones(ctx)
		if err != nil {
			t.Fatalf("list active: %v", err)
		}
		if len(zones) != 1 || zones[0].ID != active {
			t.Fatalf("expected only %s, got %+v", active, zones)
		}

		refs, err := store.CountZoneReferences(ctx, active)
		if err != nil || refs != 0 {
			t.Fatalf("expected no references, got %d (%v)", refs, err)
		}
		if err := store.DeleteZone(ctx, active); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if err := store.DeleteZone(ctx, active); err != domain.ErrZoneNotFound {
			t.Fatalf("expected ErrZoneNotFound, got %v", err)
		}
	})
}

func TestStore_Bids(t *testing.T) {
	pool := testutil.NewTestPool(t)
	store := NewStore(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	t.Run("HighestBid skips rejected and excluded bids", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		zoneID := testutil.InsertZone(t, ctx, pool, domain.Zone{Mode: domain.SaleModeAuction})
		base := time.Now().UTC()

		low := newBid(zoneID, "a", 40, base)
		tieEarly := newBid(zoneID, "b", 50, base.Add(time.Second))
		tieLate := newBid(zoneID, "c", 50, base.Add(2*time.Second))
		top := newBid(zoneID, "d", 60, base.Add(3*time.Second))
		for _, b := range []domain.Bid{low, tieEarly, tieLate, top} {
			if err := store.AppendBid(ctx, b); err != nil {
				t.Fatalf("append: %v", err)
			}
		}

		got, err := store.HighestBid(ctx, zoneID, nil)
		if err != nil || got == nil || got.ID != top.ID {
			t.Fatalf("expected top bid, got %+v (%v)", got, err)
		}
		got, err = store.HighestBid(ctx, zoneID, []string{top.ID})
		if err != nil || got == nil || got.ID != tieEarly.ID {
			t.Fatalf("expected earliest of tied bids, got %+v (%v)", got, err)
		}

		if err := store.SetModeration(ctx, tieEarly.ID, domain.ModerationPending, domain.ModerationRejected); err != nil {
			t.Fatalf("reject: %v", err)
		}
		got, err = store.HighestBid(ctx, zoneID, []string{top.ID})
		if err != nil || got == nil || got.ID != tieLate.ID {
			t.Fatalf("expected rejected bid skipped, got %+v (%v)", got, err)
		}

		got, err = store.HighestBid(ctx, zoneID, []string{top.ID, tieLate.ID, low.ID})
		if err != nil || got != nil {
			t.Fatalf("expected no bid left, got %+v (%v)", got, err)
		}
	})

	t.Run("SetModeration checks the stored state", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		zoneID := testutil.InsertZone(t, ctx, pool, domain.Zone{Mode: domain.SaleModeAuction})
		bid := newBid(zoneID, "a", 10, time.Now().UTC())
		if err := store.AppendBid(ctx, bid); err != nil {
			t.Fatalf("append: %v", err)
		}

		if err := store.SetModeration(ctx, bid.ID, domain.ModerationPending, domain.ModerationApproved); err != nil {
			t.Fatalf("approve: %v", err)
		}
		if err := store.SetModeration(ctx, bid.ID, domain.ModerationPending, domain.ModerationRejected); err != domain.ErrInvalidTransition {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
		if err := store.SetModeration(ctx, uuid.NewString(), domain.ModerationPending, domain.ModerationRejected); err != domain.ErrBidNotFound {
			t.Fatalf("expected ErrBidNotFound, got %v", err)
		}

		bids, err := store.ListBidsForZone(ctx, zoneID)
		if err != nil || len(bids) != 1 || bids[0].Moderation != domain.ModerationApproved {
			t.Fatalf("unexpected bids %+v (%v)", bids, err)
		}
	})

	t.Run("AppendBid on unknown zone", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		err := store.AppendBid(ctx, newBid(uuid.NewString(), "a", 1, time.Now()))
		if err != domain.ErrZoneNotFound {
			t.Fatalf("expected ErrZoneNotFound, got %v", err)
		}
	})

	t.Run("rolled back transaction leaves no bid", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		zoneID := testutil.InsertZone(t, ctx, pool, domain.Zone{Mode: domain.SaleModeAuction})
		bid := newBid(zoneID, "a", 10, time.Now().UTC())

		err := store.WithTx(ctx, func(txCtx context.Context) error {
			if err := store.AppendBid(txCtx, bid); err != nil {
				return err
			}
			return store.ApplyBidUpdate(txCtx, domain.BidUpdate{
				ZoneID: zoneID, BidID: bid.ID, BidderID: "a", Amount: bid.Amount, ExpectedPrior: decimal.NewFromInt(99),
			})
		})
		if err != domain.ErrBidConflict {
			t.Fatalf("expected ErrBidConflict, got %v", err)
		}
		if _, err := store.GetBid(ctx, bid.ID); err != domain.ErrBidNotFound {
			t.Fatalf("expected bid rolled back, got %v", err)
		}
	})
}

func TestStore_ConcurrentCompareAndSet(t *testing.T) {
	pool := testutil.NewTestPool(t)
	store := NewStore(pool)
	ctx := context.Background()
	testutil.ApplyMigrations(t, ctx, pool)
	testutil.TruncateAll(t, ctx, pool)

	zoneID := testutil.InsertZone(t, ctx, pool, domain.Zone{Mode: domain.SaleModeAuction})

	const writers = 6
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bid := newBid(zoneID, "w", 70, time.Now().UTC())
			err := store.WithTx(ctx, func(txCtx context.Context) error {
				if err := store.AppendBid(txCtx, bid); err != nil {
					return err
				}
				return store.ApplyBidUpdate(txCtx, domain.BidUpdate{
					ZoneID: zoneID, BidID: bid.ID, BidderID: "w", Amount: bid.Amount, ExpectedPrior: decimal.Zero,
				})
			})
			switch {
			case err == nil:
				mu.Lock()
				wins++
				mu.Unlock()
			case errors.Is(err, domain.ErrBidConflict):
			default:
				t.Errorf("writer %d: unexpected error %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one compare-and-set winner, got %d", wins)
	}
	bids, err := store.ListBidsForZone(ctx, zoneID)
	if err != nil {
		t.Fatalf("list bids: %v", err)
	}
	if len(bids) != 1 {
		t.Fatalf("expected losers to leave no bids, got %d", len(bids))
	}
}

func TestStore_Transactions(t *testing.T) {
	pool := testutil.NewTestPool(t)
	store := NewStore(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	newTxn := func(zoneID, session string) domain.Transaction {
		now := time.Now().UTC()
		return domain.Transaction{
			ID:            uuid.NewString(),
			UserID:        "u1",
			ZoneID:        zoneID,
			Amount:        decimal.NewFromInt(100),
			PixelCount:    100,
			Status:        domain.TransactionPending,
			PaymentMethod: "card",
			SessionID:     session,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	}

	t.Run("session lookup and duplicate session", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		zoneID := testutil.InsertZone(t, ctx, pool, domain.Zone{})

		txn := newTxn(zoneID, "s1")
		if err := store.CreateTransaction(ctx, txn); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := store.GetTransactionBySession(ctx, "s1")
		if err != nil || got == nil || got.ID != txn.ID || got.BidID != "" {
			t.Fatalf("unexpected transaction %+v (%v)", got, err)
		}
		missing, err := store.GetTransactionBySession(ctx, "nope")
		if err != nil || missing != nil {
			t.Fatalf("expected nil for unknown session, got %+v (%v)", missing, err)
		}
		if err := store.CreateTransaction(ctx, newTxn(zoneID, "s1")); err != domain.ErrSessionConflict {
			t.Fatalf("expected ErrSessionConflict, got %v", err)
		}
	})

	t.Run("only one completed transaction per zone", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		zoneID := testutil.InsertZone(t, ctx, pool, domain.Zone{})

		first, second := newTxn(zoneID, "s1"), newTxn(zoneID, "s2")
		for _, txn := range []domain.Transaction{first, second} {
			if err := store.CreateTransaction(ctx, txn); err != nil {
				t.Fatalf("create: %v", err)
			}
		}
		if err := store.UpdateTransactionStatus(ctx, first.ID, domain.TransactionPending, domain.TransactionCompleted); err != nil {
			t.Fatalf("complete first: %v", err)
		}
		err := store.UpdateTransactionStatus(ctx, second.ID, domain.TransactionPending, domain.TransactionCompleted)
		if err != domain.ErrAlreadyFinalized {
			t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
		}
		if err := store.UpdateTransactionStatus(ctx, first.ID, domain.TransactionPending, domain.TransactionFailed); err != domain.ErrInvalidTxState {
			t.Fatalf("expected ErrInvalidTxState, got %v", err)
		}

		done, err := store.GetCompletedTransaction(ctx, zoneID)
		if err != nil || done == nil || done.SessionID != "s1" {
			t.Fatalf("expected completed s1, got %+v (%v)", done, err)
		}
	})

	t.Run("failed transaction can still complete", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		zoneID := testutil.InsertZone(t, ctx, pool, domain.Zone{})

		txn := newTxn(zoneID, "s1")
		if err := store.CreateTransaction(ctx, txn); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := store.UpdateTransactionStatus(ctx, txn.ID, domain.TransactionPending, domain.TransactionFailed); err != nil {
			t.Fatalf("fail: %v", err)
		}
		if err := store.UpdateTransactionStatus(ctx, txn.ID, domain.TransactionFailed, domain.TransactionCompleted); err != nil {
			t.Fatalf("complete after failure: %v", err)
		}
		got, err := store.GetTransactionBySession(ctx, "s1")
		if err != nil || got == nil || got.Status != domain.TransactionCompleted {
			t.Fatalf("expected completed s1, got %+v (%v)", got, err)
		}
	})
}
