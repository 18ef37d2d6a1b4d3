package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/account-relay/account-relay/internal/domain/account"
)

// AccountRepository implements account.Repository.
type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func (r *AccountRepository) GetLatest(ctx context.Context, key account.Key) (*account.State, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT pubkey, slot, owner, lamports, account_type, data_json, observed_at
		FROM account_states WHERE pubkey=$1
	`, string(key))
	st := &account.State{}
	err := row.Scan(&st.Key, &st.Slot, &st.Owner, &st.Lamports, &st.TypeTag, &st.Data, &st.ObservedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, account.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// UpsertLatest writes the latest-state row. The slot guard keeps a
// delayed background write from regressing a newer row.
func (r *AccountRepository) UpsertLatest(ctx context.Context, st *account.State) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO account_states (pubkey, slot, owner, lamports, account_type, data_json, observed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (pubkey) DO UPDATE
		SET slot=excluded.slot, owner=excluded.owner, lamports=excluded.lamports,
		    account_type=excluded.account_type, data_json=excluded.data_json,
		    observed_at=excluded.observed_at
		WHERE excluded.slot > account_states.slot
	`, string(st.Key), st.Slot, st.Owner, st.Lamports, st.TypeTag, st.Data, st.ObservedAt)
	return err
}

func (r *AccountRepository) AppendAudit(ctx context.Context, st *account.State) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO account_updates (pubkey, slot, owner, lamports, account_type, data_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (pubkey, slot) DO NOTHING
	`, string(st.Key), st.Slot, st.Owner, st.Lamports, st.TypeTag, st.Data, st.ObservedAt)
	return err
}
