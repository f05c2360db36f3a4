// settings.go: проверка настроек и инструменты обслуживания.
//
// Validate проверяет пару (токен, чат) до её применения: getMe для токена,
// sendMessage для чата. Ошибки Telegram передаются оператору дословно.
// TestChat и TestFile проверяют текущую конфигурацию.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/tgproxy/internal/domain/model"
	"github.com/bigkaa/tgproxy/internal/repository"
	"github.com/bigkaa/tgproxy/internal/tgclient"
)

// Статусы проверки file_id.
const (
	TestFileFound   = "found"
	TestFileUpdated = "updated"
	TestFileCreated = "created"
)

// SettingsClient: операции Telegram для проверки настроек.
type SettingsClient interface {
	ValidateToken(ctx context.Context, token string) (*tgclient.BotInfo, error)
	SendMessage(ctx context.Context, token, chatID, text string) error
	SendTestMessage(ctx context.Context) error
}

// FieldError: ошибка проверки одного поля настроек.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult: результат проверки настроек.
type ValidationResult struct {
	Valid       bool         `json:"valid"`
	BotUsername string       `json:"bot_username,omitempty"`
	Errors      []FieldError `json:"errors,omitempty"`
}

// TestFileResult: результат проверки file_id.
type TestFileResult struct {
	Status     string            `json:"status"`
	Attachment *model.Attachment `json:"attachment"`
}

// SettingsService: проверка настроек и инструменты обслуживания.
type SettingsService struct {
	client   SettingsClient
	repo     repository.AttachmentRepository
	resolver *ResolverService
	logger   *slog.Logger
}

// NewSettingsService создаёт сервис настроек.
func NewSettingsService(
	client SettingsClient,
	repo repository.AttachmentRepository,
	resolver *ResolverService,
	logger *slog.Logger,
) *SettingsService {
	return &SettingsService{
		client:   client,
		repo:     repo,
		resolver: resolver,
		logger:   logger.With(slog.String("component", "settings")),
	}
}

// Validate проверяет токен и чат. Чат проверяется, только если токен валиден.
func (s *SettingsService) Validate(ctx context.Context, token, chatID string) *ValidationResult {
	result := &ValidationResult{}

	if token == "" {
		result.Errors = append(result.Errors, FieldError{Field: "bot_token", Message: "токен не задан"})
	} else {
		info, err := s.client.ValidateToken(ctx, token)
		if err != nil {
			result.Errors = append(result.Errors, FieldError{
				Field:   "bot_token",
				Message: "Invalid bot token: " + operatorMessage(err),
			})
		} else {
			result.BotUsername = info.Username
		}
	}

	if chatID == "" {
		result.Errors = append(result.Errors, FieldError{Field: "chat_id", Message: "идентификатор чата не задан"})
	} else if len(result.Errors) == 0 {
		if err := s.client.SendMessage(ctx, token, chatID, tgclient.TestText); err != nil {
			result.Errors = append(result.Errors, FieldError{
				Field:   "chat_id",
				Message: "Invalid chat ID: " + operatorMessage(err),
			})
		}
	}

	result.Valid = len(result.Errors) == 0
	s.logger.Info("Проверка настроек Telegram",
		slog.Bool("valid", result.Valid),
		slog.Int("errors", len(result.Errors)),
	)
	return result
}

// TestChat отправляет тестовое сообщение в настроенный чат.
func (s *SettingsService) TestChat(ctx context.Context) error {
	if err := s.client.SendTestMessage(ctx); err != nil {
		s.logger.Warn("Проверка чата не пройдена", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// TestFile проверяет доступность file_id: для известной записи без ссылки
// получает ссылку, для неизвестного идентификатора создаёт запись.
func (s *SettingsService) TestFile(ctx context.Context, fileID string) (*TestFileResult, error) {
	if fileID == "" {
		return nil, fmt.Errorf("%w: file_id не задан", ErrValidation)
	}

	rec, err := s.repo.FindByRemoteFileID(ctx, fileID)
	switch {
	case err == nil && rec.HasRemoteURL():
		return &TestFileResult{Status: TestFileFound, Attachment: rec}, nil

	case err == nil:
		updated, err := s.resolver.refresh(ctx, rec)
		if err != nil {
			return nil, err
		}
		return &TestFileResult{Status: TestFileUpdated, Attachment: updated}, nil

	case errors.Is(err, repository.ErrNotFound):
		created, err := s.resolver.direct(ctx, fileID)
		if err != nil {
			return nil, err
		}
		return &TestFileResult{Status: TestFileCreated, Attachment: created}, nil

	default:
		return nil, fmt.Errorf("поиск вложения %s: %w", fileID, err)
	}
}

// operatorMessage возвращает текст ошибки для оператора: для отказа
// Telegram: описание с подсказкой, для прочих ошибок: Error().
func operatorMessage(err error) string {
	var apiErr *tgclient.RemoteAPIError
	if errors.As(err, &apiErr) {
		return apiErr.Message()
	}
	return err.Error()
}
