// Package jsonfile stores the subscriber registry as one JSON object keyed by
// chat id. The file heals itself on load: legacy list stores are upgraded,
// records missing fields are completed and unparsable files are quarantined.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"telegram-subscriber-notify/internal/domain"
	"telegram-subscriber-notify/internal/domain/model"
	"telegram-subscriber-notify/internal/domain/ports/repository"
	"telegram-subscriber-notify/internal/infra/metrics"

	"github.com/rs/zerolog"
)

const backend = "jsonfile"

// compile-time check
var (
	_ repository.SubscriberRepository = (*Registry)(nil)
	_ repository.BatchToucher         = (*Registry)(nil)
)

// ErrReadOnly is returned by writes on a registry opened with NewReader.
var ErrReadOnly = errors.New("subscribers file opened read-only")

type Registry struct {
	path     string
	mu       sync.Mutex
	log      *zerolog.Logger
	now      func() time.Time
	readOnly bool
}

func NewRegistry(path string, logger *zerolog.Logger) *Registry {
	l := logger.With().Str("component", "jsonfile_registry").Str("path", path).Logger()
	return &Registry{path: path, log: &l, now: time.Now}
}

// NewReader opens the file without ever changing it. Loads normalize in
// memory only, and a corrupt file is an error instead of being moved aside.
func NewReader(path string, logger *zerolog.Logger) *Registry {
	r := NewRegistry(path, logger)
	r.readOnly = true
	return r
}

// Path returns the backing file location.
func (r *Registry) Path() string { return r.path }

func (r *Registry) LoadAll(ctx context.Context) (map[int64]*model.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, err := r.load()
	if err != nil && r.readOnly {
		return nil, err
	}
	if err != nil {
		// unreadable but not corrupt: callers see an empty registry, the file is left alone
		r.log.Error().Err(err).Msg("failed to read subscribers file")
		return map[int64]*model.Subscriber{}, nil
	}
	return subs, nil
}

func (r *Registry) GetOne(ctx context.Context, chatID int64) (*model.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, err := r.load()
	if err != nil {
		return nil, err
	}
	s, ok := subs[chatID]
	if !ok {
		return nil, fmt.Errorf("subscriber %d: %w", chatID, domain.ErrNotFound)
	}
	return s, nil
}

func (r *Registry) Upsert(ctx context.Context, chatID int64, u model.SubscriberUpdate) (*model.Subscriber, bool, error) {
	u = r.normalize(chatID, u)

	r.mu.Lock()
	defer r.mu.Unlock()
	subs, err := r.load()
	if err != nil {
		return nil, false, err
	}

	now := r.now().UTC()
	s, ok := subs[chatID]
	op := "update"
	switch {
	case !ok:
		s = model.NewSubscriber(chatID, u, now)
		subs[chatID] = s
		op = "create"
	case s.Apply(u):
		s.UpdatedAt = &now
	default:
		return s.Clone(), false, nil
	}

	if err := r.save(subs); err != nil {
		return nil, false, err
	}
	metrics.IncRegistryWrite(backend, op)
	return s.Clone(), true, nil
}

func (r *Registry) Touch(ctx context.Context, chatID int64, u model.SubscriberUpdate) (*model.Subscriber, error) {
	u = r.normalize(chatID, u)

	r.mu.Lock()
	defer r.mu.Unlock()
	subs, err := r.load()
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	s, ok := subs[chatID]
	if !ok {
		s = model.NewSubscriber(chatID, u, now)
		subs[chatID] = s
	} else {
		s.Apply(u)
		s.UpdatedAt = &now
	}

	if err := r.save(subs); err != nil {
		return nil, err
	}
	metrics.IncRegistryWrite(backend, "touch")
	return s.Clone(), nil
}

// TouchAll is Touch for many chats with a single file write.
func (r *Registry) TouchAll(ctx context.Context, updates map[int64]model.SubscriberUpdate) (map[int64]*model.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(updates) == 0 {
		return map[int64]*model.Subscriber{}, nil
	}
	subs, err := r.load()
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	out := make(map[int64]*model.Subscriber, len(updates))
	for id, u := range updates {
		u = r.normalize(id, u)
		s, ok := subs[id]
		if !ok {
			s = model.NewSubscriber(id, u, now)
			subs[id] = s
		} else {
			s.Apply(u)
			s.UpdatedAt = &now
		}
		out[id] = s.Clone()
	}

	if err := r.save(subs); err != nil {
		return nil, err
	}
	metrics.IncRegistryWrite(backend, "touch_all")
	return out, nil
}

func (r *Registry) SaveAll(ctx context.Context, subs map[int64]*model.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.save(subs); err != nil {
		return err
	}
	metrics.IncRegistryWrite(backend, "save_all")
	return nil
}

func (r *Registry) Delete(ctx context.Context, chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs, err := r.load()
	if err != nil {
		return err
	}
	if _, ok := subs[chatID]; !ok {
		return fmt.Errorf("subscriber %d: %w", chatID, domain.ErrNotFound)
	}
	delete(subs, chatID)
	if err := r.save(subs); err != nil {
		return err
	}
	metrics.IncRegistryWrite(backend, "delete")
	return nil
}

func (r *Registry) normalize(chatID int64, u model.SubscriberUpdate) model.SubscriberUpdate {
	u, truncated := u.Normalized()
	if truncated {
		r.log.Warn().Int64("chat_id", chatID).Int("max", model.MaxNIPLength).Msg("nip longer than limit; truncated")
	}
	return u
}

// load reads and heals the store. Must be called with mu held. A writable
// registry only returns read failures other than a missing file.
func (r *Registry) load() (map[int64]*model.Subscriber, error) {
	subs := map[int64]*model.Subscriber{}

	b, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return subs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", r.path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		r.log.Warn().Msg("subscribers file is empty")
		return subs, nil
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return r.corrupt(subs, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return r.corrupt(subs, fmt.Errorf("trailing data after top-level JSON value: %v", err))
	}

	switch v := raw.(type) {
	case nil:
		return subs, nil
	case []any:
		r.upgradeList(v, subs)
		return subs, nil
	case map[string]any:
		r.decodeMap(v, subs)
		return subs, nil
	default:
		return r.corrupt(subs, fmt.Errorf("unexpected top-level JSON %T", raw))
	}
}

func (r *Registry) upgradeList(items []any, subs map[int64]*model.Subscriber) {
	now := r.now().UTC()
	for _, it := range items {
		id, ok := chatIDOf(it)
		if !ok {
			r.log.Warn().Interface("entry", it).Msg("skipping non-integer chat id in legacy list")
			continue
		}
		ts := now
		subs[id] = &model.Subscriber{ChatID: id, SubscribedAt: &ts}
	}
	if r.readOnly {
		return
	}
	metrics.IncRegistryRecovery("legacy_list")
	r.log.Info().Int("count", len(subs)).Msg("upgrading legacy subscriber list")
	if err := r.save(subs); err != nil {
		r.log.Error().Err(err).Msg("failed to persist upgraded subscriber list")
	}
}

func (r *Registry) decodeMap(m map[string]any, subs map[int64]*model.Subscriber) {
	migrate := false
	for k, v := range m {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			r.log.Warn().Str("key", k).Msg("skipping non-integer chat id")
			continue
		}
		if meta, ok := v.(map[string]any); !ok {
			migrate = true
		} else if _, ok := meta["last_name"]; !ok {
			migrate = true
		}
		rec := model.Normalize(v)
		s := rec.Subscriber(id)
		if rec.SubscribedAt != nil && s.SubscribedAt == nil {
			r.log.Warn().Int64("chat_id", id).Str("value", *rec.SubscribedAt).Msg("unparsable subscribed_at")
		}
		subs[id] = s
	}
	if !migrate || r.readOnly {
		return
	}
	metrics.IncRegistryRecovery("missing_last_name")
	r.log.Info().Int("count", len(subs)).Msg("normalizing subscriber records")
	if err := r.save(subs); err != nil {
		r.log.Error().Err(err).Msg("failed to persist normalized subscribers")
	}
}

func (r *Registry) corrupt(subs map[int64]*model.Subscriber, cause error) (map[int64]*model.Subscriber, error) {
	if r.readOnly {
		return nil, fmt.Errorf("parse %s: %w", r.path, cause)
	}
	r.quarantine(cause)
	return subs, nil
}

// quarantine moves an unparsable file aside and starts over with an empty
// object. Failures here are logged only.
func (r *Registry) quarantine(cause error) {
	metrics.IncRegistryRecovery("corrupt")
	dst := fmt.Sprintf("%s.corrupt-%s", r.path, r.now().UTC().Format("20060102T150405Z"))
	r.log.Error().Err(cause).Str("backup", dst).Msg("subscribers file is corrupt; moving aside")
	if err := os.Rename(r.path, dst); err != nil {
		// keep the original bytes rather than overwrite them unbacked
		r.log.Error().Err(err).Msg("failed to back up corrupt subscribers file")
		return
	}
	if err := writeAtomic(r.path, []byte("{}")); err != nil {
		r.log.Error().Err(err).Msg("failed to reset subscribers file")
	}
}

// save writes the fully normalized map. Must be called with mu held.
func (r *Registry) save(subs map[int64]*model.Subscriber) error {
	if r.readOnly {
		return ErrReadOnly
	}
	out := make(map[string]model.Record, len(subs))
	for id, s := range subs {
		if s == nil {
			out[strconv.FormatInt(id, 10)] = model.Record{}
			continue
		}
		rec := s.Record()
		if rec.NIP != nil {
			nip, _ := model.NormalizeNIP(*rec.NIP)
			rec.NIP = &nip
		}
		out[strconv.FormatInt(id, 10)] = rec
	}
	b, err := marshalSorted(out)
	if err != nil {
		return fmt.Errorf("encode subscribers: %w", err)
	}
	if err := writeAtomic(r.path, b); err != nil {
		r.log.Error().Err(err).Msg("failed to write subscribers file")
		return fmt.Errorf("write %s: %w", r.path, err)
	}
	return nil
}

// marshalSorted emits keys in numeric order so diffs of the store stay small.
func marshalSorted(m map[string]model.Record) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.ParseInt(keys[i], 10, 64)
		b, _ := strconv.ParseInt(keys[j], 10, 64)
		return a < b
	})

	var buf bytes.Buffer
	buf.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  ")
		kb, _ := json.Marshal(k)
		buf.Write(kb)
		buf.WriteString(": ")
		vb, err := json.MarshalIndent(m[k], "  ", "  ")
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	if len(keys) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func chatIDOf(v any) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		id, err := x.Int64()
		return id, err == nil
	case string:
		id, err := strconv.ParseInt(x, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}
