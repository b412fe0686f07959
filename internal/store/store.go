package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/chatfront/chatfront/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("chat not found")

const (
	defaultTitle = "New Chat"
	corruptTitle = "Corrupt Chat"
	titleRunes   = 50
)

// Store persists one JSON file per chat record under <root>/<user>/<id>.json.
// Writes are tmp+rename so a reader never observes a half-written record, and
// every mutation of a given record id runs under that id's mutex.
type Store struct {
	root   string
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(root string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("store: create root %s: %w", root, err)
	}
	return &Store{
		root:   root,
		logger: logger,
		locks:  map[string]*sync.Mutex{},
	}, nil
}

// SaveOptions carries the optional fields of a save. Empty string means
// "not provided"; see resolveField for the precedence applied.
type SaveOptions struct {
	Title string
	Model string
	// BoundModel is the caller's currently bound model, used as the model
	// default for records that have never run a turn.
	BoundModel string
}

// resolveField picks a field value with fixed precedence: an explicit new
// value wins, then the value already on the record, then the computed default.
func resolveField(newValue, existingValue, computedDefault string) string {
	if newValue != "" {
		return newValue
	}
	if existingValue != "" {
		return existingValue
	}
	return computedDefault
}

// deriveTitle returns the first ~50 characters of the first user message, or
// the placeholder title when no user message exists.
func deriveTitle(messages []models.Message) string {
	for _, m := range messages {
		if m.Role != models.RoleUser {
			continue
		}
		r := []rune(m.Content)
		if len(r) > titleRunes {
			r = r[:titleRunes]
		}
		if len(r) > 0 {
			return string(r)
		}
	}
	return defaultTitle
}

// Create allocates a fresh id and persists an empty record for the user.
func (s *Store) Create(user string) (*models.ChatRecord, error) {
	rec := &models.ChatRecord{
		ID:       uuid.NewString(),
		Title:    defaultTitle,
		Messages: []models.Message{},
	}
	lk := s.lock(user, rec.ID)
	lk.Lock()
	defer lk.Unlock()
	if err := s.write(user, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Load reads one record. A missing record is ErrNotFound; a record that
// exists but cannot be parsed comes back as a placeholder so navigation
// keeps working.
func (s *Store) Load(user, id string) (*models.ChatRecord, error) {
	rec, found, err := s.read(user, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Save upserts one record. Omitted title/model fields are resolved against
// the existing record and the computed defaults, per resolveField.
func (s *Store) Save(user, id string, messages []models.Message, opts SaveOptions) (*models.ChatRecord, error) {
	lk := s.lock(user, id)
	lk.Lock()
	defer lk.Unlock()
	return s.save(user, id, messages, opts)
}

func (s *Store) save(user, id string, messages []models.Message, opts SaveOptions) (*models.ChatRecord, error) {
	existing, found, err := s.read(user, id)
	if err != nil {
		return nil, err
	}
	var existingTitle, existingModel string
	if found {
		existingTitle = existing.Title
		existingModel = existing.Model
	}
	if messages == nil {
		messages = []models.Message{}
	}
	rec := &models.ChatRecord{
		ID:       id,
		Title:    resolveField(opts.Title, existingTitle, deriveTitle(messages)),
		Model:    resolveField(opts.Model, existingModel, opts.BoundModel),
		Messages: messages,
	}
	if err := s.write(user, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update runs fn on the loaded record and persists the result, all under the
// record's mutex. This is the serialization point for concurrent submissions
// to one chat id; fn may block (it typically spans a gateway call).
func (s *Store) Update(user, id string, fn func(rec *models.ChatRecord) (SaveOptions, error)) (*models.ChatRecord, error) {
	lk := s.lock(user, id)
	lk.Lock()
	defer lk.Unlock()

	rec, found, err := s.read(user, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	opts, err := fn(rec)
	if err != nil {
		return nil, err
	}
	return s.save(user, id, rec.Messages, opts)
}

// List returns the user's chats most-recently-modified first. The sort key is
// the storage last-write time; ties break on id for a stable order.
func (s *Store) List(user string) ([]models.ChatSummary, error) {
	dir := s.userDir(user)
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read user dir: %w", err)
	}

	var out []models.ChatSummary
	for _, e := range ents {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id := e.Name()[:len(e.Name())-len(".json")]
		info, err := e.Info()
		if err != nil {
			continue
		}
		rec, found, err := s.read(user, id)
		if err != nil || !found {
			continue
		}
		out = append(out, models.ChatSummary{
			ID:        id,
			Title:     rec.Title,
			UpdatedAt: info.ModTime(),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete removes the record file. Deleting an absent record is ErrNotFound.
func (s *Store) Delete(user, id string) error {
	lk := s.lock(user, id)
	lk.Lock()
	defer lk.Unlock()

	if err := os.Remove(s.path(user, id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("store: delete %s: %w", id, err)
	}
	return nil
}

// Duplicate copies a record's messages and model under a new id, with a
// "(copy)" title. The source record is untouched.
func (s *Store) Duplicate(user, id string) (*models.ChatRecord, error) {
	src, err := s.Load(user, id)
	if err != nil {
		return nil, err
	}
	return s.Save(user, uuid.NewString(), src.Messages, SaveOptions{
		Title: src.Title + " (copy)",
		Model: src.Model,
	})
}

func (s *Store) lock(user, id string) *sync.Mutex {
	key := user + "/" + id
	s.mu.Lock()
	defer s.mu.Unlock()
	lk, ok := s.locks[key]
	if !ok {
		lk = &sync.Mutex{}
		s.locks[key] = lk
	}
	return lk
}

func (s *Store) userDir(user string) string {
	return filepath.Join(s.root, user)
}

func (s *Store) path(user, id string) string {
	return filepath.Join(s.userDir(user), id+".json")
}

// read returns (record, found, err). Corrupt payloads report found=true with
// a synthesized placeholder record instead of an error.
func (s *Store) read(user, id string) (*models.ChatRecord, bool, error) {
	b, err := os.ReadFile(s.path(user, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: read %s: %w", id, err)
	}
	var rec models.ChatRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		if s.logger != nil {
			s.logger.Warn("corrupt chat record", zap.String("user", user), zap.String("id", id), zap.Error(err))
		}
		return &models.ChatRecord{ID: id, Title: corruptTitle, Messages: []models.Message{}}, true, nil
	}
	rec.ID = id
	if rec.Messages == nil {
		rec.Messages = []models.Message{}
	}
	return &rec, true, nil
}

func (s *Store) write(user string, rec *models.ChatRecord) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", rec.ID, err)
	}
	b = append(b, '\n')
	if err := os.MkdirAll(s.userDir(user), 0o755); err != nil {
		return fmt.Errorf("store: create user dir: %w", err)
	}
	p := s.path(user, rec.ID)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("store: write temp for %s: %w", rec.ID, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("store: rename temp for %s: %w", rec.ID, err)
	}
	return nil
}
