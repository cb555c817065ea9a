package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"otcdesk/internal/db"
)

// PostgresStore keeps each state section as a JSONB row keyed by section
// name. All sections of a patch land in one serializable transaction.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(database *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: database}
}

// EnsureSchema creates the snapshot table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS desk_state (
			section    text PRIMARY KEY,
			data       jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		)
	`)
	return err
}

func (s *PostgresStore) Load(ctx context.Context) (*State, error) {
	rows := []struct {
		Section string `db:"section"`
		Data    []byte `db:"data"`
	}{}
	err := s.db.SelectContext(ctx, &rows, `SELECT section, data FROM desk_state`)
	if err != nil {
		return nil, fmt.Errorf("load snapshot sections: %w", err)
	}
	state := NewState()
	for _, row := range rows {
		var dest any
		switch row.Section {
		case "users":
			dest = &state.Users
		case "ledger":
			ledger := LedgerSection{}
			if err := json.Unmarshal(row.Data, &ledger); err != nil {
				return nil, fmt.Errorf("decode ledger section: %w", err)
			}
			state.Balances = ledger.Balances
			state.Events = ledger.Events
			state.Deals = ledger.Deals
			state.DealSeq = ledger.DealSeq
			continue
		case "adverts":
			adverts := AdvertsSection{}
			if err := json.Unmarshal(row.Data, &adverts); err != nil {
				return nil, fmt.Errorf("decode adverts section: %w", err)
			}
			state.Adverts = adverts.Adverts
			state.AdvertSeq = adverts.AdvertSeq
			continue
		case "disputes":
			dest = &state.Disputes
		case "rate":
			dest = &state.Rate
		default:
			continue
		}
		if err := json.Unmarshal(row.Data, dest); err != nil {
			return nil, fmt.Errorf("decode %s section: %w", row.Section, err)
		}
	}
	if state.Balances == nil {
		state.Balances = NewState().Balances
	}
	if state.Deals == nil {
		state.Deals = NewState().Deals
	}
	if state.Adverts == nil {
		state.Adverts = NewState().Adverts
	}
	return state, nil
}

func (s *PostgresStore) Persist(ctx context.Context, patch Patch) error {
	sections := map[string]any{}
	if patch.Users != nil {
		sections["users"] = patch.Users.Users
	}
	if patch.Ledger != nil {
		sections["ledger"] = patch.Ledger
	}
	if patch.Adverts != nil {
		sections["adverts"] = patch.Adverts
	}
	if patch.Disputes != nil {
		sections["disputes"] = patch.Disputes.Disputes
	}
	if patch.Rate != nil {
		sections["rate"] = patch.Rate
	}
	if len(sections) == 0 {
		return nil
	}
	return db.WithTx(ctx, s.db, func(tx *sqlx.Tx) error {
		for name, value := range sections {
			data, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("encode %s section: %w", name, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO desk_state (section, data, updated_at)
				VALUES ($1, $2, now())
				ON CONFLICT (section) DO UPDATE SET data = $2, updated_at = now()
			`, name, data); err != nil {
				return fmt.Errorf("persist %s section: %w", name, err)
			}
		}
		return nil
	})
}
