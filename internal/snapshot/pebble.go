package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Section keys inside the pebble keyspace. Each Persist touches only the
// sections present in the patch, in one synced batch.
var (
	keyUsers    = []byte("state/users")
	keyLedger   = []byte("state/ledger")
	keyAdverts  = []byte("state/adverts")
	keyDisputes = []byte("state/disputes")
	keyRate     = []byte("state/rate")
)

// PebbleStore persists state sections into an embedded pebble database with
// synchronous WAL writes.
type PebbleStore struct {
	db *pebble.DB
}

func OpenPebbleStore(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false, // durability over write throughput
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble snapshot: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

func (s *PebbleStore) Load(ctx context.Context) (*State, error) {
	state := NewState()
	if err := s.readSection(keyUsers, &state.Users); err != nil {
		return nil, err
	}
	ledger := LedgerSection{}
	if err := s.readSection(keyLedger, &ledger); err != nil {
		return nil, err
	}
	if ledger.Balances != nil {
		state.Balances = ledger.Balances
		state.Events = ledger.Events
		state.Deals = ledger.Deals
		state.DealSeq = ledger.DealSeq
	}
	adverts := AdvertsSection{}
	if err := s.readSection(keyAdverts, &adverts); err != nil {
		return nil, err
	}
	if adverts.Adverts != nil {
		state.Adverts = adverts.Adverts
		state.AdvertSeq = adverts.AdvertSeq
	}
	if err := s.readSection(keyDisputes, &state.Disputes); err != nil {
		return nil, err
	}
	if err := s.readSection(keyRate, &state.Rate); err != nil {
		return nil, err
	}
	return state, nil
}

func (s *PebbleStore) Persist(ctx context.Context, patch Patch) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	if patch.Users != nil {
		if err := setSection(batch, keyUsers, patch.Users.Users); err != nil {
			return err
		}
	}
	if patch.Ledger != nil {
		if err := setSection(batch, keyLedger, patch.Ledger); err != nil {
			return err
		}
	}
	if patch.Adverts != nil {
		if err := setSection(batch, keyAdverts, patch.Adverts); err != nil {
			return err
		}
	}
	if patch.Disputes != nil {
		if err := setSection(batch, keyDisputes, patch.Disputes.Disputes); err != nil {
			return err
		}
	}
	if patch.Rate != nil {
		if err := setSection(batch, keyRate, patch.Rate); err != nil {
			return err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit snapshot batch: %w", err)
	}
	return nil
}

func (s *PebbleStore) readSection(key []byte, dest any) error {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read section %s: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(value, dest); err != nil {
		return fmt.Errorf("decode section %s: %w", key, err)
	}
	return nil
}

func setSection(batch *pebble.Batch, key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode section %s: %w", key, err)
	}
	return batch.Set(key, data, nil)
}
