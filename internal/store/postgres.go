package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/m3rciful/vatwatch/internal/vat"
)

const uniqueViolation = "23505"

const pendingColumns = `owner_id, country_code, vat_number, expiration_date`

const errorColumns = `id::text AS id, owner_id, country_code, vat_number, expiration_date, error_text, created_at`

// PostgresStore persists requests in PostgreSQL through sqlx.
type PostgresStore struct {
	db   *sqlx.DB
	opts Options
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres builds a store over an open connection pool. Schema comes from migrations/.
func NewPostgres(db *sqlx.DB, opts Options) *PostgresStore {
	return &PostgresStore{db: db, opts: opts.withDefaults()}
}

func (s *PostgresStore) ops() pgOps { return pgOps{q: s.db} }

// withTx runs fn in one database transaction, rolling back on any error.
func (s *PostgresStore) withTx(ctx context.Context, op string, fn func(pgOps) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return wrap(op, fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(pgOps{q: tx}); err != nil {
		return wrap(op, err)
	}
	if err := tx.Commit(); err != nil {
		return wrap(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *PostgresStore) AddPending(ctx context.Context, id vat.Identity, expiration time.Time) (vat.PendingRequest, error) {
	var p vat.PendingRequest
	err := sqlx.GetContext(ctx, s.db, &p, `
		INSERT INTO pending_requests (owner_id, country_code, vat_number, expiration_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id, country_code, vat_number) DO UPDATE SET
			expiration_date = EXCLUDED.expiration_date
		RETURNING `+pendingColumns,
		id.OwnerID, id.CountryCode, id.VatNumber, s.opts.expiration(expiration),
	)
	if err != nil {
		return vat.PendingRequest{}, wrap("add pending", err)
	}
	return p, nil
}

func (s *PostgresStore) TryAddUniquePending(ctx context.Context, id vat.Identity, expiration time.Time) (vat.PendingRequest, bool, error) {
	p := vat.PendingRequest{Identity: id, ExpirationDate: s.opts.expiration(expiration)}
	added, err := s.ops().insertUniquePending(ctx, p)
	if err != nil {
		return vat.PendingRequest{}, false, wrap("try add unique pending", err)
	}
	if !added {
		return vat.PendingRequest{}, false, nil
	}
	return p, true, nil
}

func (s *PostgresStore) FindPending(ctx context.Context, id vat.Identity) (*vat.PendingRequest, error) {
	var p vat.PendingRequest
	err := sqlx.GetContext(ctx, s.db, &p, `
		SELECT `+pendingColumns+`
		FROM pending_requests
		WHERE owner_id = $1 AND country_code = $2 AND vat_number = $3`,
		id.OwnerID, id.CountryCode, id.VatNumber,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("find pending", err)
	}
	return &p, nil
}

func (s *PostgresStore) RemovePending(ctx context.Context, id vat.Identity) (bool, error) {
	ok, err := s.ops().deletePending(ctx, id)
	return ok, wrap("remove pending", err)
}

func (s *PostgresStore) ListPending(ctx context.Context) ([]vat.PendingRequest, error) {
	var out []vat.PendingRequest
	err := sqlx.SelectContext(ctx, s.db, &out, `
		SELECT `+pendingColumns+`
		FROM pending_requests
		ORDER BY id`)
	if err != nil {
		return nil, wrap("list pending", err)
	}
	return out, nil
}

func (s *PostgresStore) ListPendingByOwner(ctx context.Context, ownerID int64) ([]vat.PendingRequest, error) {
	var out []vat.PendingRequest
	err := sqlx.SelectContext(ctx, s.db, &out, `
		SELECT `+pendingColumns+`
		FROM pending_requests
		WHERE owner_id = $1
		ORDER BY id`, ownerID)
	if err != nil {
		return nil, wrap("list pending by owner", err)
	}
	return out, nil
}

func (s *PostgresStore) CountPending(ctx context.Context, ownerID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, s.db, &n, `SELECT count(*) FROM pending_requests WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, wrap("count pending", err)
	}
	return n, nil
}

func (s *PostgresStore) RemoveAllPending(ctx context.Context, ownerID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_requests WHERE owner_id = $1`, ownerID)
	if err != nil {
		return false, wrap("remove all pending", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("remove all pending", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) AddError(ctx context.Context, p vat.PendingRequest, text string) (vat.ErroredRequest, error) {
	e := s.newError(p, text)
	if err := s.ops().insertError(ctx, e); err != nil {
		return vat.ErroredRequest{}, wrap("add error", err)
	}
	return e, nil
}

func (s *PostgresStore) FindError(ctx context.Context, id string) (*vat.ErroredRequest, error) {
	e, err := s.ops().findError(ctx, id)
	return e, wrap("find error", err)
}

func (s *PostgresStore) CountErrors(ctx context.Context, id vat.Identity) (int, error) {
	n, err := s.ops().countErrors(ctx, id)
	return n, wrap("count errors", err)
}

func (s *PostgresStore) RemoveError(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	ok, err := s.ops().deleteError(ctx, id)
	return ok, wrap("remove error", err)
}

func (s *PostgresStore) ListErrors(ctx context.Context) ([]vat.ErroredRequest, error) {
	var out []vat.ErroredRequest
	err := sqlx.SelectContext(ctx, s.db, &out, `
		SELECT `+errorColumns+`
		FROM errored_requests
		ORDER BY created_at, id`)
	if err != nil {
		return nil, wrap("list errors", err)
	}
	return out, nil
}

func (s *PostgresStore) ResolveError(ctx context.Context, id string) (vat.ResolveResult, error) {
	var res vat.ResolveResult
	err := s.withTx(ctx, "resolve error", func(ops pgOps) error {
		var err error
		res, err = resolveErrorTx(ctx, ops, id)
		return err
	})
	if err != nil {
		return vat.ResolveResult{}, err
	}
	return res, nil
}

func (s *PostgresStore) DemoteToError(ctx context.Context, p vat.PendingRequest, text string) (vat.ErroredRequest, error) {
	e := s.newError(p, text)
	err := s.withTx(ctx, "demote to error", func(ops pgOps) error {
		return demoteTx(ctx, ops, e)
	})
	if err != nil {
		return vat.ErroredRequest{}, err
	}
	return e, nil
}

func (s *PostgresStore) UpdateIdentity(ctx context.Context, old vat.Identity, countryCode, vatNumber string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_requests
		SET country_code = $4, vat_number = $5
		WHERE owner_id = $1 AND country_code = $2 AND vat_number = $3`,
		old.OwnerID, old.CountryCode, old.VatNumber, countryCode, vatNumber,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, wrap("update identity", ErrIdentityTaken)
		}
		return false, wrap("update identity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("update identity", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) newError(p vat.PendingRequest, text string) vat.ErroredRequest {
	return vat.ErroredRequest{
		ID:             uuid.NewString(),
		Identity:       p.Identity,
		ExpirationDate: p.ExpirationDate,
		ErrorText:      text,
		CreatedAt:      s.opts.Now().UTC(),
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// pgOps runs the transition steps on either the pool or an open transaction.
type pgOps struct {
	q sqlx.ExtContext
}

func (o pgOps) lockIdentity(ctx context.Context, id vat.Identity) error {
	key := fmt.Sprintf("%d:%s", id.OwnerID, id.String())
	if _, err := o.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("lock identity: %w", err)
	}
	return nil
}

func (o pgOps) findError(ctx context.Context, errorID string) (*vat.ErroredRequest, error) {
	if _, err := uuid.Parse(errorID); err != nil {
		return nil, nil
	}
	var e vat.ErroredRequest
	err := sqlx.GetContext(ctx, o.q, &e, `
		SELECT `+errorColumns+`
		FROM errored_requests
		WHERE id = $1`, errorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (o pgOps) deleteError(ctx context.Context, errorID string) (bool, error) {
	res, err := o.q.ExecContext(ctx, `DELETE FROM errored_requests WHERE id = $1`, errorID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (o pgOps) countErrors(ctx context.Context, id vat.Identity) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, o.q, &n, `
		SELECT count(*) FROM errored_requests
		WHERE owner_id = $1 AND country_code = $2 AND vat_number = $3`,
		id.OwnerID, id.CountryCode, id.VatNumber,
	)
	return n, err
}

func (o pgOps) insertUniquePending(ctx context.Context, p vat.PendingRequest) (bool, error) {
	var ownerID int64
	err := sqlx.GetContext(ctx, o.q, &ownerID, `
		INSERT INTO pending_requests (owner_id, country_code, vat_number, expiration_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id, country_code, vat_number) DO NOTHING
		RETURNING owner_id`,
		p.OwnerID, p.CountryCode, p.VatNumber, p.ExpirationDate,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (o pgOps) deletePending(ctx context.Context, id vat.Identity) (bool, error) {
	res, err := o.q.ExecContext(ctx, `
		DELETE FROM pending_requests
		WHERE owner_id = $1 AND country_code = $2 AND vat_number = $3`,
		id.OwnerID, id.CountryCode, id.VatNumber,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (o pgOps) insertError(ctx context.Context, e vat.ErroredRequest) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO errored_requests (id, owner_id, country_code, vat_number, expiration_date, error_text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.OwnerID, e.CountryCode, e.VatNumber, e.ExpirationDate, e.ErrorText, e.CreatedAt,
	)
	return err
}
