package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/tgproxy/internal/domain/model"
)

// MemoryStore: потокобезопасное in-memory хранилище вложений.
// sync.RWMutex: конкурентное чтение, эксклюзивная запись.
// Если задан stateFile, каждое изменение атомарно сохраняется на диск
// (temp → fsync → rename), а при старте состояние читается из файла.
type MemoryStore struct {
	mu         sync.RWMutex
	byLocal    map[string]*model.Attachment // local_id → запись
	byRemote   map[string]string            // remote_file_id → local_id
	byFragment map[string]string            // url_fragment → local_id
	stateFile  string
	logger     *slog.Logger
}

// NewMemoryStore создаёт хранилище. stateFile может быть пустым.
func NewMemoryStore(stateFile string, logger *slog.Logger) (*MemoryStore, error) {
	s := &MemoryStore{
		byLocal:    make(map[string]*model.Attachment),
		byRemote:   make(map[string]string),
		byFragment: make(map[string]string),
		stateFile:  stateFile,
		logger:     logger.With(slog.String("component", "memory_store")),
	}

	if stateFile == "" {
		return s, nil
	}

	records, err := readSnapshot(stateFile)
	if err != nil {
		return nil, err
	}
	for _, a := range records {
		s.index(a)
	}

	s.logger.Info("Снапшот вложений загружен",
		slog.Int("attachments", len(s.byLocal)),
		slog.String("state_file", stateFile),
	)
	return s, nil
}

// Get возвращает копию записи по LocalID.
func (s *MemoryStore) Get(_ context.Context, localID string) (*model.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byLocal[localID]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

// Put сохраняет копию записи и обновляет вторичные индексы.
func (s *MemoryStore) Put(_ context.Context, a *model.Attachment) error {
	if a.LocalID == "" {
		return fmt.Errorf("пустой local_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := a.Clone()
	if old, ok := s.byLocal[a.LocalID]; ok {
		s.unindex(old)
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = old.CreatedAt
		}
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.index(stored)

	a.CreatedAt = stored.CreatedAt
	a.UpdatedAt = stored.UpdatedAt

	if s.stateFile != "" {
		if err := s.persistLocked(); err != nil {
			return err
		}
	}
	return nil
}

// FindByRemoteFileID ищет запись по remote_file_id.
func (s *MemoryStore) FindByRemoteFileID(_ context.Context, remoteFileID string) (*model.Attachment, error) {
	if remoteFileID == "" {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	localID, ok := s.byRemote[remoteFileID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byLocal[localID].Clone(), nil
}

// FindByURLFragment ищет запись по фрагменту пути файла.
func (s *MemoryStore) FindByURLFragment(_ context.Context, fragment string) (*model.Attachment, error) {
	if fragment == "" {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	localID, ok := s.byFragment[fragment]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byLocal[localID].Clone(), nil
}

// List возвращает страницу записей, отсортированных по LocalID.
// limit <= 0: все записи начиная с offset.
func (s *MemoryStore) List(_ context.Context, limit, offset int) ([]*model.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.byLocal))
	for id := range s.byLocal {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if offset >= len(ids) {
		return []*model.Attachment{}, nil
	}
	end := len(ids)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	result := make([]*model.Attachment, 0, end-offset)
	for _, id := range ids[offset:end] {
		result = append(result, s.byLocal[id].Clone())
	}
	return result, nil
}

// Count возвращает количество записей.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byLocal), nil
}

// index добавляет запись во все индексы. Вызывается под блокировкой.
func (s *MemoryStore) index(a *model.Attachment) {
	s.byLocal[a.LocalID] = a
	if a.RemoteFileID != "" {
		s.byRemote[a.RemoteFileID] = a.LocalID
	}
	if frag := a.URLFragment(); frag != "" {
		s.byFragment[frag] = a.LocalID
	}
}

// unindex удаляет вторичные индексы записи, если они указывают на неё.
func (s *MemoryStore) unindex(a *model.Attachment) {
	if a.RemoteFileID != "" && s.byRemote[a.RemoteFileID] == a.LocalID {
		delete(s.byRemote, a.RemoteFileID)
	}
	if frag := a.URLFragment(); frag != "" && s.byFragment[frag] == a.LocalID {
		delete(s.byFragment, frag)
	}
}

// persistLocked атомарно записывает снапшот: temp → fsync → rename.
func (s *MemoryStore) persistLocked() error {
	records := make([]*model.Attachment, 0, len(s.byLocal))
	for _, a := range s.byLocal {
		records = append(records, a)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].LocalID < records[j].LocalID })

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации снапшота: %w", err)
	}

	dir := filepath.Dir(s.stateFile)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	tmpPath := s.stateFile + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи снапшота: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, s.stateFile); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// readSnapshot читает снапшот. Отсутствующий файл: пустое состояние.
func readSnapshot(path string) ([]*model.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения снапшота %s: %w", path, err)
	}

	var records []*model.Attachment
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("ошибка десериализации снапшота %s: %w", path, err)
	}
	return records, nil
}
