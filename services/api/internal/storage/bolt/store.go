// Package bolt stores zones, bids and payment transactions in a single
// BoltDB file. Bolt allows one writer at a time, so WithTx gives the same
// isolation the Postgres store gets from row locks.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/cimillas/pixelgrid/services/api/internal/clock"
	"github.com/cimillas/pixelgrid/services/api/internal/domain"
)

var (
	zonesBucket    = []byte("zones")
	bidsBucket     = []byte("bids")
	txnsBucket     = []byte("transactions")
	sessionsBucket = []byte("sessions")
)

type txKey struct{}

type Store struct {
	db    *bolt.DB
	clock clock.Clock
}

type Option func(*Store)

// WithClock sets the clock used to stamp UpdatedAt on writes.
func WithClock(clk clock.Clock) Option {
	return func(s *Store) {
		s.clock = clk
	}
}

// Open opens (or creates) the database at path and ensures every bucket exists.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w: %w", domain.ErrTransientStorage, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{zonesBucket, bidsBucket, txnsBucket, sessionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	s := &Store{db: db, clock: clock.NewSystem()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database file is still open.
func (s *Store) Ping(context.Context) error {
	return s.db.View(func(*bolt.Tx) error { return nil })
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFromContext(ctx) != nil {
		return fn(ctx)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func txFromContext(ctx context.Context) *bolt.Tx {
	tx, _ := ctx.Value(txKey{}).(*bolt.Tx)
	return tx
}

func (s *Store) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if tx := txFromContext(ctx); tx != nil {
		return fn(tx)
	}
	return s.db.Update(fn)
}

func (s *Store) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if tx := txFromContext(ctx); tx != nil {
		return fn(tx)
	}
	return s.db.View(fn)
}

// LockListings is a no-op: the surrounding write transaction is already exclusive.
func (s *Store) LockListings(context.Context) error { return nil }

func get[T any](b *bolt.Bucket, id string, notFound error) (T, error) {
	var v T
	raw := b.Get([]byte(id))
	if raw == nil {
		return v, notFound
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", id, err)
	}
	return v, nil
}

func put(b *bolt.Bucket, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	return b.Put([]byte(id), data)
}

func all[T any](b *bolt.Bucket, keep func(T) bool) ([]T, error) {
	var out []T
	err := b.ForEach(func(k, raw []byte) error {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		if keep(v) {
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

func (s *Store) GetZone(ctx context.Context, zoneID string) (domain.Zone, error) {
	var z domain.Zone
	err := s.view(ctx, func(tx *bolt.Tx) error {
		var err error
		z, err = get[domain.Zone](tx.Bucket(zonesBucket), zoneID, domain.ErrZoneNotFound)
		return err
	})
	return z, err
}

func (s *Store) GetZoneForUpdate(ctx context.Context, zoneID string) (domain.Zone, error) {
	return s.GetZone(ctx, zoneID)
}

func (s *Store) ListActiveZones(ctx context.Context) ([]domain.Zone, error) {
	return s.listZones(ctx, func(z domain.Zone) bool { return z.Status == domain.ZoneStatusActive })
}

func (s *Store) ListZones(ctx context.Context) ([]domain.Zone, error) {
	return s.listZones(ctx, func(domain.Zone) bool { return true })
}

func (s *Store) listZones(ctx context.Context, keep func(domain.Zone) bool) ([]domain.Zone, error) {
	var zones []domain.Zone
	err := s.view(ctx, func(tx *bolt.Tx) error {
		var err error
		zones, err = all(tx.Bucket(zonesBucket), keep)
		return err
	})
	sort.Slice(zones, func(i, j int) bool {
		if zones[i].CreatedAt.Equal(zones[j].CreatedAt) {
			return zones[i].ID < zones[j].ID
		}
		return zones[i].CreatedAt.Before(zones[j].CreatedAt)
	})
	return zones, err
}

func (s *Store) CreateZone(ctx context.Context, zone domain.Zone) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(zonesBucket)
		if b.Get([]byte(zone.ID)) != nil {
			return fmt.Errorf("zone %s already exists", zone.ID)
		}
		return put(b, zone.ID, zone)
	})
}

func (s *Store) DeleteZone(ctx context.Context, zoneID string) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(zonesBucket)
		if b.Get([]byte(zoneID)) == nil {
			return domain.ErrZoneNotFound
		}
		return b.Delete([]byte(zoneID))
	})
}

func (s *Store) CountZoneReferences(ctx context.Context, zoneID string) (int, error) {
	n := 0
	err := s.view(ctx, func(tx *bolt.Tx) error {
		bids, err := all(tx.Bucket(bidsBucket), func(b domain.Bid) bool { return b.ZoneID == zoneID })
		if err != nil {
			return err
		}
		txns, err := all(tx.Bucket(txnsBucket), func(t domain.Transaction) bool { return t.ZoneID == zoneID })
		if err != nil {
			return err
		}
		n = len(bids) + len(txns)
		return nil
	})
	return n, err
}

func (s *Store) ApplyBidUpdate(ctx context.Context, upd domain.BidUpdate) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(zonesBucket)
		z, err := get[domain.Zone](b, upd.ZoneID, domain.ErrZoneNotFound)
		if err != nil {
			return err
		}
		if z.Status != domain.ZoneStatusActive || !z.CurrentBid.Equal(upd.ExpectedPrior) {
			return domain.ErrBidConflict
		}
		z.CurrentBid = upd.Amount
		z.CurrentBidderID = upd.BidderID
		z.CurrentBidID = upd.BidID
		z.UpdatedAt = s.clock.Now().UTC()
		return put(b, z.ID, z)
	})
}

func (s *Store) FinalizeZone(ctx context.Context, zoneID string, outcome domain.ZoneStatus) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(zonesBucket)
		z, err := get[domain.Zone](b, zoneID, domain.ErrZoneNotFound)
		if err != nil {
			return err
		}
		if !z.Status.CanFinalize(outcome) {
			return domain.ErrZoneTerminal
		}
		z.Status = outcome
		z.UpdatedAt = s.clock.Now().UTC()
		return put(b, z.ID, z)
	})
}

func (s *Store) AppendBid(ctx context.Context, bid domain.Bid) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		if tx.Bucket(zonesBucket).Get([]byte(bid.ZoneID)) == nil {
			return domain.ErrZoneNotFound
		}
		return put(tx.Bucket(bidsBucket), bid.ID, bid)
	})
}

func (s *Store) GetBid(ctx context.Context, bidID string) (domain.Bid, error) {
	var bid domain.Bid
	err := s.view(ctx, func(tx *bolt.Tx) error {
		var err error
		bid, err = get[domain.Bid](tx.Bucket(bidsBucket), bidID, domain.ErrBidNotFound)
		return err
	})
	return bid, err
}

func (s *Store) HighestBid(ctx context.Context, zoneID string, excluding []string) (*domain.Bid, error) {
	skip := make(map[string]bool, len(excluding))
	for _, id := range excluding {
		skip[id] = true
	}
	var best *domain.Bid
	err := s.view(ctx, func(tx *bolt.Tx) error {
		bids, err := all(tx.Bucket(bidsBucket), func(b domain.Bid) bool {
			return b.ZoneID == zoneID && b.Moderation != domain.ModerationRejected && !skip[b.ID]
		})
		if err != nil {
			return err
		}
		for i := range bids {
			b := bids[i]
			if best == nil || b.Amount.GreaterThan(best.Amount) ||
				(b.Amount.Equal(best.Amount) && b.CreatedAt.Before(best.CreatedAt)) {
				best = &b
			}
		}
		return nil
	})
	return best, err
}

func (s *Store) SetModeration(ctx context.Context, bidID string, from, to domain.ModerationState) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bidsBucket)
		bid, err := get[domain.Bid](b, bidID, domain.ErrBidNotFound)
		if err != nil {
			return err
		}
		if bid.Moderation != from {
			return domain.ErrInvalidTransition
		}
		bid.Moderation = to
		return put(b, bid.ID, bid)
	})
}

func (s *Store) ListBidsForZone(ctx context.Context, zoneID string) ([]domain.Bid, error) {
	var bids []domain.Bid
	err := s.view(ctx, func(tx *bolt.Tx) error {
		var err error
		bids, err = all(tx.Bucket(bidsBucket), func(b domain.Bid) bool { return b.ZoneID == zoneID })
		return err
	})
	sort.Slice(bids, func(i, j int) bool {
		if bids[i].CreatedAt.Equal(bids[j].CreatedAt) {
			return bids[i].ID < bids[j].ID
		}
		return bids[i].CreatedAt.After(bids[j].CreatedAt)
	})
	return bids, err
}

func (s *Store) CreateTransaction(ctx context.Context, txn domain.Transaction) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		sessions := tx.Bucket(sessionsBucket)
		if sessions.Get([]byte(txn.SessionID)) != nil {
			return domain.ErrSessionConflict
		}
		if tx.Bucket(zonesBucket).Get([]byte(txn.ZoneID)) == nil {
			return domain.ErrZoneNotFound
		}
		if txn.BidID != "" && tx.Bucket(bidsBucket).Get([]byte(txn.BidID)) == nil {
			return domain.ErrBidNotFound
		}
		if err := put(tx.Bucket(txnsBucket), txn.ID, txn); err != nil {
			return err
		}
		return sessions.Put([]byte(txn.SessionID), []byte(txn.ID))
	})
}

func (s *Store) GetTransactionBySession(ctx context.Context, sessionID string) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := s.view(ctx, func(tx *bolt.Tx) error {
		id := tx.Bucket(sessionsBucket).Get([]byte(sessionID))
		if id == nil {
			return nil
		}
		txn, err := get[domain.Transaction](tx.Bucket(txnsBucket), string(id), domain.ErrTransactionNotFound)
		if err != nil {
			return err
		}
		out = &txn
		return nil
	})
	return out, err
}

func (s *Store) GetCompletedTransaction(ctx context.Context, zoneID string) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := s.view(ctx, func(tx *bolt.Tx) error {
		txns, err := all(tx.Bucket(txnsBucket), func(t domain.Transaction) bool {
			return t.ZoneID == zoneID && t.Status == domain.TransactionCompleted
		})
		if err != nil || len(txns) == 0 {
			return err
		}
		out = &txns[0]
		return nil
	})
	return out, err
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, txnID string, from, to domain.TransactionStatus) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(txnsBucket)
		txn, err := get[domain.Transaction](b, txnID, domain.ErrTransactionNotFound)
		if err != nil {
			return err
		}
		if txn.Status != from {
			return domain.ErrInvalidTxState
		}
		if to == domain.TransactionCompleted {
			done, err := all(b, func(t domain.Transaction) bool {
				return t.ZoneID == txn.ZoneID && t.Status == domain.TransactionCompleted
			})
			if err != nil {
				return err
			}
			if len(done) > 0 {
				return domain.ErrAlreadyFinalized
			}
		}
		txn.Status = to
		txn.UpdatedAt = s.clock.Now().UTC()
		return put(b, txn.ID, txn)
	})
}
