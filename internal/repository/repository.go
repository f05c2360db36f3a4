// Пакет repository: хранилище метаданных вложений.
// Два backend'а: in-memory (с опциональным снапшотом на диск) и PostgreSQL.
// Вместо поиска подстроки в сериализованных метаданных используются явные
// индексы remote_file_id → local_id и url_fragment → local_id.
package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bigkaa/tgproxy/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound: запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
)

// AttachmentRepository: доступ к записям вложений.
// Put: upsert по LocalID, последняя запись побеждает.
type AttachmentRepository interface {
	// Get возвращает запись по LocalID или ErrNotFound.
	Get(ctx context.Context, localID string) (*model.Attachment, error)
	// Put создаёт или перезаписывает запись.
	Put(ctx context.Context, a *model.Attachment) error
	// FindByRemoteFileID ищет запись по file_id Telegram (или fallback-идентификатору).
	FindByRemoteFileID(ctx context.Context, remoteFileID string) (*model.Attachment, error)
	// FindByURLFragment ищет запись по пути файла из ссылки Telegram.
	FindByURLFragment(ctx context.Context, fragment string) (*model.Attachment, error)
	// List возвращает записи, отсортированные по LocalID.
	List(ctx context.Context, limit, offset int) ([]*model.Attachment, error)
	// Count возвращает общее количество записей.
	Count(ctx context.Context) (int, error)
}

// DBTX: интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
