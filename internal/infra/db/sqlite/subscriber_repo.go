package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"telegram-subscriber-notify/internal/domain"
	"telegram-subscriber-notify/internal/domain/model"
	"telegram-subscriber-notify/internal/domain/ports/repository"
	"telegram-subscriber-notify/internal/infra/metrics"
)

const backend = "sqlite"

var _ repository.SubscriberRepository = (*SubscriberRepo)(nil)

type subscriberRow struct {
	ChatID       int64      `gorm:"column:chat_id;primaryKey;autoIncrement:false"`
	FirstName    *string    `gorm:"column:first_name"`
	LastName     *string    `gorm:"column:last_name"`
	Username     *string    `gorm:"column:username"`
	NIP          *string    `gorm:"column:nip;size:18"`
	SubscribedAt *time.Time `gorm:"column:subscribed_at"`
	UpdatedAt    *time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (subscriberRow) TableName() string { return "subscribers" }

func (r subscriberRow) toModel() *model.Subscriber {
	s := &model.Subscriber{
		ChatID:    r.ChatID,
		FirstName: r.FirstName,
		LastName:  r.LastName,
		Username:  r.Username,
		NIP:       r.NIP,
	}
	if r.SubscribedAt != nil {
		t := r.SubscribedAt.UTC()
		s.SubscribedAt = &t
	}
	if r.UpdatedAt != nil {
		t := r.UpdatedAt.UTC()
		s.UpdatedAt = &t
	}
	return s
}

func fromModel(s *model.Subscriber) subscriberRow {
	return subscriberRow{
		ChatID:       s.ChatID,
		FirstName:    s.FirstName,
		LastName:     s.LastName,
		Username:     s.Username,
		NIP:          s.NIP,
		SubscribedAt: s.SubscribedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

type SubscriberRepo struct {
	db  *gorm.DB
	log *zerolog.Logger
	now func() time.Time
}

func NewSubscriberRepo(db *gorm.DB, logger *zerolog.Logger) *SubscriberRepo {
	l := logger.With().Str("component", "sqlite_subscriber_repo").Logger()
	return &SubscriberRepo{db: db, log: &l, now: time.Now}
}

// Close releases the underlying connection.
func (r *SubscriberRepo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *SubscriberRepo) LoadAll(ctx context.Context) (map[int64]*model.Subscriber, error) {
	var rows []subscriberRow
	if err := r.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load subscribers: %w", err)
	}
	out := make(map[int64]*model.Subscriber, len(rows))
	for _, row := range rows {
		out[row.ChatID] = row.toModel()
	}
	return out, nil
}

func (r *SubscriberRepo) GetOne(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	return findOne(r.db.WithContext(ctx), chatID)
}

func (r *SubscriberRepo) Upsert(ctx context.Context, chatID int64, u model.SubscriberUpdate) (*model.Subscriber, bool, error) {
	u = r.normalize(chatID, u)
	var (
		out     *model.Subscriber
		written bool
		op      string
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now().UTC()
		cur, err := findOne(tx, chatID)
		if errors.Is(err, domain.ErrNotFound) {
			s := model.NewSubscriber(chatID, u, now)
			row := fromModel(s)
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create subscriber %d: %w", chatID, err)
			}
			out, written, op = s, true, "create"
			return nil
		}
		if err != nil {
			return err
		}
		if !cur.Apply(u) {
			out = cur
			return nil
		}
		cur.UpdatedAt = &now
		row := fromModel(cur)
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("update subscriber %d: %w", chatID, err)
		}
		out, written, op = cur, true, "update"
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if written {
		metrics.IncRegistryWrite(backend, op)
	}
	return out, written, nil
}

func (r *SubscriberRepo) Touch(ctx context.Context, chatID int64, u model.SubscriberUpdate) (*model.Subscriber, error) {
	u = r.normalize(chatID, u)
	var out *model.Subscriber
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now().UTC()
		cur, err := findOne(tx, chatID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			cur = model.NewSubscriber(chatID, u, now)
		case err != nil:
			return err
		default:
			cur.Apply(u)
			cur.UpdatedAt = &now
		}
		row := fromModel(cur)
		if err := tx.Save(&row).Error; err != nil {
			return fmt.Errorf("touch subscriber %d: %w", chatID, err)
		}
		out = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncRegistryWrite(backend, "touch")
	return out, nil
}

func (r *SubscriberRepo) SaveAll(ctx context.Context, subs map[int64]*model.Subscriber) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now().UTC()
		for id, s := range subs {
			rec := &model.Subscriber{ChatID: id}
			if s != nil {
				rec = s.Clone()
				rec.ChatID = id
			}
			if rec.NIP != nil {
				nip, _ := model.NormalizeNIP(*rec.NIP)
				rec.NIP = &nip
			}
			if rec.SubscribedAt == nil {
				rec.SubscribedAt = &now
			}
			if rec.UpdatedAt == nil {
				rec.UpdatedAt = &now
			}
			row := fromModel(rec)
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "chat_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"first_name", "last_name", "username", "nip", "updated_at"}),
			}).Create(&row).Error
			if err != nil {
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
	res := r.db.WithContext(ctx).Where("chat_id = ?", chatID).Delete(&subscriberRow{})
	if res.Error != nil {
		return fmt.Errorf("delete subscriber %d: %w", chatID, res.Error)
	}
	if res.RowsAffected == 0 {
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

func findOne(db *gorm.DB, chatID int64) (*model.Subscriber, error) {
	var row subscriberRow
	err := db.Where("chat_id = ?", chatID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("subscriber %d: %w", chatID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find subscriber %d: %w", chatID, err)
	}
	return row.toModel(), nil
}
