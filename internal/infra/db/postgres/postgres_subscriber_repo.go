package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"telegram-subscriber-notify/internal/domain"
	"telegram-subscriber-notify/internal/domain/model"
	"telegram-subscriber-notify/internal/domain/ports/repository"
	"telegram-subscriber-notify/internal/infra/metrics"
)

const backend = "postgres"

var _ repository.SubscriberRepository = (*SubscriberRepo)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS subscribers (
  chat_id       BIGINT PRIMARY KEY,
  first_name    TEXT,
  last_name     TEXT,
  username      TEXT,
  nip           VARCHAR(18),
  subscribed_at TIMESTAMPTZ,
  updated_at    TIMESTAMPTZ
);`

const selectCols = `chat_id, first_name, last_name, username, nip, subscribed_at, updated_at`

type SubscriberRepo struct {
	pool *pgxpool.Pool
	tm   repository.TransactionManager
	log  *zerolog.Logger
	now  func() time.Time
}

func NewSubscriberRepo(pool *pgxpool.Pool, tm repository.TransactionManager, logger *zerolog.Logger) *SubscriberRepo {
	l := logger.With().Str("component", "postgres_subscriber_repo").Logger()
	return &SubscriberRepo{pool: pool, tm: tm, log: &l, now: time.Now}
}

// EnsureSchema creates the subscribers table if it does not exist. Safe to call on every start.
func (r *SubscriberRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	r.log.Info().Msg("subscribers table ready")
	return nil
}

func (r *SubscriberRepo) LoadAll(ctx context.Context) (map[int64]*model.Subscriber, error) {
	ex, err := getExecutor(r.pool, nil)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, `SELECT `+selectCols+` FROM subscribers;`)
	if err != nil {
		return nil, fmt.Errorf("load subscribers: %w", err)
	}
	defer rows.Close()

	out := map[int64]*model.Subscriber{}
	for rows.Next() {
		s, err := scanSubscriber(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		out[s.ChatID] = s
	}
	return out, rows.Err()
}

func (r *SubscriberRepo) GetOne(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	return r.findOne(ctx, nil, chatID, false)
}

func (r *SubscriberRepo) Upsert(ctx context.Context, chatID int64, u model.SubscriberUpdate) (*model.Subscriber, bool, error) {
	u = r.normalize(chatID, u)
	var (
		out     *model.Subscriber
		written bool
		op      string
	)
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		now := r.now().UTC()
		cur, err := r.findOne(ctx, tx, chatID, true)
		if errors.Is(err, domain.ErrNotFound) {
			s := model.NewSubscriber(chatID, u, now)
			var inserted bool
			inserted, err = r.insert(ctx, tx, s)
			if err != nil {
				return err
			}
			if inserted {
				out, written, op = s, true, "create"
				return nil
			}
			// lost a race with a concurrent insert; fall through to the update path
			cur, err = r.findOne(ctx, tx, chatID, true)
		}
		if err != nil {
			return err
		}
		if !cur.Apply(u) {
			out = cur
			return nil
		}
		cur.UpdatedAt = &now
		if err := r.update(ctx, tx, cur); err != nil {
			return err
		}
		out, written, op = cur, true, "update"
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("upsert subscriber %d: %w", chatID, err)
	}
	if written {
		metrics.IncRegistryWrite(backend, op)
	}
	return out, written, nil
}

func (r *SubscriberRepo) Touch(ctx context.Context, chatID int64, u model.SubscriberUpdate) (*model.Subscriber, error) {
	u = r.normalize(chatID, u)
	var out *model.Subscriber
	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		now := r.now().UTC()
		cur, err := r.findOne(ctx, tx, chatID, true)
		if errors.Is(err, domain.ErrNotFound) {
			s := model.NewSubscriber(chatID, u, now)
			var inserted bool
			inserted, err = r.insert(ctx, tx, s)
			if err != nil {
				return err
			}
			if inserted {
				out = s
				return nil
			}
			cur, err = r.findOne(ctx, tx, chatID, true)
		}
		if err != nil {
			return err
		}
		cur.Apply(u)
		cur.UpdatedAt = &now
		if err := r.update(ctx, tx, cur); err != nil {
			return err
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("touch subscriber %d: %w", chatID, err)
	}
	metrics.IncRegistryWrite(backend, "touch")
	return out, nil
}

// SaveAll overwrites the text fields of existing rows (nil clears) and
// inserts the rest. Missing timestamps default to now; subscribed_at of an
// existing row is kept.
func (r *SubscriberRepo) SaveAll(ctx context.Context, subs map[int64]*model.Subscriber) error {
	const q = `
INSERT INTO subscribers (chat_id, first_name, last_name, username, nip, subscribed_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (chat_id) DO UPDATE SET
  first_name=EXCLUDED.first_name, last_name=EXCLUDED.last_name, username=EXCLUDED.username,
  nip=EXCLUDED.nip, updated_at=EXCLUDED.updated_at;`

	err := r.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		ex, err := getExecutor(r.pool, tx)
		if err != nil {
			return err
		}
		now := r.now().UTC()
		for id, s := range subs {
			row := &model.Subscriber{ChatID: id}
			if s != nil {
				row = s.Clone()
				row.ChatID = id
			}
			if row.NIP != nil {
				nip, _ := model.NormalizeNIP(*row.NIP)
				row.NIP = &nip
			}
			if row.SubscribedAt == nil {
				row.SubscribedAt = &now
			}
			if row.UpdatedAt == nil {
				row.UpdatedAt = &now
			}
			if _, err := ex.Exec(ctx, q, row.ChatID, row.FirstName, row.LastName, row.Username, row.NIP, row.SubscribedAt, row.UpdatedAt); err != nil {
				return fmt.Errorf("save subscriber %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	metrics.IncRegistryWrite(backend, "save_all")
	return nil
}

func (r *SubscriberRepo) Delete(ctx context.Context, chatID int64) error {
	ex, err := getExecutor(r.pool, nil)
	if err != nil {
		return err
	}
	tag, err := ex.Exec(ctx, `DELETE FROM subscribers WHERE chat_id=$1;`, chatID)
	if err != nil {
		return fmt.Errorf("delete subscriber %d: %w", chatID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("subscriber %d: %w", chatID, domain.ErrNotFound)
	}
	metrics.IncRegistryWrite(backend, "delete")
	return nil
}

func (r *SubscriberRepo) normalize(chatID int64, u model.SubscriberUpdate) model.SubscriberUpdate {
	u, truncated := u.Normalized()
	if truncated {
		r.log.Warn().Int64("chat_id", chatID).Int("max", model.MaxNIPLength).Msg("nip longer than limit; truncated")
	}
	return u
}

func (r *SubscriberRepo) findOne(ctx context.Context, tx repository.Tx, chatID int64, forUpdate bool) (*model.Subscriber, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + selectCols + ` FROM subscribers WHERE chat_id=$1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	s, err := scanSubscriber(ex.QueryRow(ctx, q, chatID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("subscriber %d: %w", chatID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find subscriber %d: %w", chatID, err)
	}
	return s, nil
}

// insert reports false when a row with the same chat id already exists.
func (r *SubscriberRepo) insert(ctx context.Context, tx repository.Tx, s *model.Subscriber) (bool, error) {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return false, err
	}
	const q = `
INSERT INTO subscribers (chat_id, first_name, last_name, username, nip, subscribed_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (chat_id) DO NOTHING;`
	tag, err := ex.Exec(ctx, q, s.ChatID, s.FirstName, s.LastName, s.Username, s.NIP, s.SubscribedAt, s.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("insert subscriber %d: %w", s.ChatID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SubscriberRepo) update(ctx context.Context, tx repository.Tx, s *model.Subscriber) error {
	ex, err := getExecutor(r.pool, tx)
	if err != nil {
		return err
	}
	const q = `
UPDATE subscribers
   SET first_name=$2, last_name=$3, username=$4, nip=$5, updated_at=$6
 WHERE chat_id=$1;`
	if _, err := ex.Exec(ctx, q, s.ChatID, s.FirstName, s.LastName, s.Username, s.NIP, s.UpdatedAt); err != nil {
		return fmt.Errorf("update subscriber %d: %w", s.ChatID, err)
	}
	return nil
}

func scanSubscriber(row pgx.Row) (*model.Subscriber, error) {
	var s model.Subscriber
	if err := row.Scan(&s.ChatID, &s.FirstName, &s.LastName, &s.Username, &s.NIP, &s.SubscribedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	if s.SubscribedAt != nil {
		t := s.SubscribedAt.UTC()
		s.SubscribedAt = &t
	}
	if s.UpdatedAt != nil {
		t := s.UpdatedAt.UTC()
		s.UpdatedAt = &t
	}
	return &s, nil
}
