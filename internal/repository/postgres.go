package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/tgproxy/internal/domain/model"
)

// attachmentColumns: список столбцов таблицы attachments для SELECT-запросов.
const attachmentColumns = `local_id, remote_file_id, remote_url, width, height,
	mime_type, filename, size, created_at, updated_at`

// pgAttachmentRepo: реализация AttachmentRepository через pgx.
type pgAttachmentRepo struct {
	db DBTX
}

// NewPostgresRepository создаёт репозиторий вложений поверх PostgreSQL.
func NewPostgresRepository(db DBTX) AttachmentRepository {
	return &pgAttachmentRepo{db: db}
}

// Get возвращает запись по local_id или ErrNotFound.
func (r *pgAttachmentRepo) Get(ctx context.Context, localID string) (*model.Attachment, error) {
	query := fmt.Sprintf(`SELECT %s FROM attachments WHERE local_id = $1`, attachmentColumns)
	return r.queryOne(ctx, query, localID)
}

// Put выполняет upsert записи. url_fragment вычисляется из remote_url.
func (r *pgAttachmentRepo) Put(ctx context.Context, a *model.Attachment) error {
	if a.LocalID == "" {
		return fmt.Errorf("пустой local_id")
	}

	query := `INSERT INTO attachments (
			local_id, remote_file_id, remote_url, url_fragment, width, height,
			mime_type, filename, size, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (local_id) DO UPDATE SET
			remote_file_id = EXCLUDED.remote_file_id,
			remote_url = EXCLUDED.remote_url,
			url_fragment = EXCLUDED.url_fragment,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			mime_type = EXCLUDED.mime_type,
			filename = EXCLUDED.filename,
			size = EXCLUDED.size,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		a.LocalID, a.RemoteFileID, a.RemoteURL, a.URLFragment(), a.Width, a.Height,
		a.MimeType, a.Filename, a.Size,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения вложения %s: %w", a.LocalID, err)
	}
	return nil
}

// FindByRemoteFileID ищет запись по remote_file_id.
// При нескольких записях с одним file_id возвращается последняя изменённая.
func (r *pgAttachmentRepo) FindByRemoteFileID(ctx context.Context, remoteFileID string) (*model.Attachment, error) {
	if remoteFileID == "" {
		return nil, ErrNotFound
	}
	query := fmt.Sprintf(
		`SELECT %s FROM attachments WHERE remote_file_id = $1 ORDER BY updated_at DESC LIMIT 1`,
		attachmentColumns,
	)
	return r.queryOne(ctx, query, remoteFileID)
}

// FindByURLFragment ищет запись по фрагменту пути файла.
func (r *pgAttachmentRepo) FindByURLFragment(ctx context.Context, fragment string) (*model.Attachment, error) {
	if fragment == "" {
		return nil, ErrNotFound
	}
	query := fmt.Sprintf(
		`SELECT %s FROM attachments WHERE url_fragment = $1 ORDER BY updated_at DESC LIMIT 1`,
		attachmentColumns,
	)
	return r.queryOne(ctx, query, fragment)
}

// List возвращает страницу записей, отсортированных по local_id.
// limit <= 0: без ограничения.
func (r *pgAttachmentRepo) List(ctx context.Context, limit, offset int) ([]*model.Attachment, error) {
	query := fmt.Sprintf(`SELECT %s FROM attachments ORDER BY local_id OFFSET $1`, attachmentColumns)
	args := []any{offset}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка вложений: %w", err)
	}
	defer rows.Close()

	result := make([]*model.Attachment, 0)
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения строки вложения: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации вложений: %w", err)
	}
	return result, nil
}

// Count возвращает количество записей.
func (r *pgAttachmentRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM attachments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта вложений: %w", err)
	}
	return n, nil
}

func (r *pgAttachmentRepo) queryOne(ctx context.Context, query string, args ...any) (*model.Attachment, error) {
	a, err := scanAttachment(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения вложения: %w", err)
	}
	return a, nil
}

// scanAttachment читает строку attachments (pgx.Row или pgx.Rows).
func scanAttachment(row pgx.Row) (*model.Attachment, error) {
	a := &model.Attachment{}
	err := row.Scan(
		&a.LocalID, &a.RemoteFileID, &a.RemoteURL, &a.Width, &a.Height,
		&a.MimeType, &a.Filename, &a.Size, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}
