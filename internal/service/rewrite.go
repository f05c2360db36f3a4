// rewrite.go: замена ссылок Telegram на стабильные proxy-ссылки.
//
// Одно ядро и тонкие адаптеры под разные формы входа: одиночная ссылка,
// src изображения, карта атрибутов, HTML изображения, текст документа,
// финальный выходной поток. Правила одинаковы для всех адаптеров:
//  1. Если у вложения есть remote_file_id, подставляется proxy-путь из него.
//  2. Иначе, если текст содержит ссылку Telegram, синтезируется fallback-
//     идентификатор, запись сохраняется, подставляется proxy-путь.
//  3. Иначе текст не меняется.
//
// Ошибки хранилища никогда не прерывают рендер: текст остаётся исходным.
package service

import (
	"context"
	"errors"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/tgproxy/internal/domain/model"
	"github.com/bigkaa/tgproxy/internal/repository"
)

// Точки вызова (метка метрики site).
const (
	SiteAttachmentURL = "attachment_url"
	SiteImageSrc      = "image_src"
	SiteAttributes    = "attributes"
	SiteImageHTML     = "image_html"
	SiteContent       = "content"
	SiteOutput        = "output"
)

// Результаты замены (метка метрики result).
const (
	resultMapped    = "mapped"
	resultFallback  = "fallback"
	resultUnmatched = "unmatched"
	resultUnchanged = "unchanged"
	resultError     = "error"
)

var rewritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tp_rewrites_total",
	Help: "Количество обработанных ссылок по точке вызова и результату.",
}, []string{"site", "result"})

// srcAttrPattern: атрибут src в HTML изображения; data-src и прочие *src
// не совпадают. Группа 1 хранит пробел перед атрибутом.
var srcAttrPattern = regexp.MustCompile(`(^|\s)src=["'][^"']+["']`)

// ImageSource: src изображения с размерами.
type ImageSource struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	// Resized: true, если это промежуточный размер, а не оригинал
	Resized bool `json:"resized"`
}

// Rewriter: ядро замены ссылок.
type Rewriter struct {
	repo      repository.AttachmentRepository
	publicURL string
	pattern   *regexp.Regexp
	now       func() time.Time
	logger    *slog.Logger
}

// NewRewriter создаёт ядро замены.
// fileBaseURL: база ссылок на скачивание (https://api.telegram.org/file);
// publicURL: внешний URL сервиса (пусто: относительные proxy-пути).
func NewRewriter(
	repo repository.AttachmentRepository,
	fileBaseURL string,
	publicURL string,
	logger *slog.Logger,
) *Rewriter {
	base := regexp.QuoteMeta(strings.TrimRight(fileBaseURL, "/"))
	return &Rewriter{
		repo:      repo,
		publicURL: strings.TrimRight(publicURL, "/"),
		pattern:   regexp.MustCompile(base + `/bot[^/\s"'<>]+/([^\s"'<>]+)`),
		now:       time.Now,
		logger:    logger.With(slog.String("component", "rewriter")),
	}
}

// ProxyURL строит внешнюю proxy-ссылку для идентификатора файла.
func (rw *Rewriter) ProxyURL(remoteFileID string) string {
	return rw.publicURL + model.ProxyPath(remoteFileID)
}

// MatchRemoteURL возвращает первую ссылку Telegram в тексте.
func (rw *Rewriter) MatchRemoteURL(text string) (string, bool) {
	m := rw.pattern.FindString(text)
	return m, m != ""
}

// --- Адаптеры точек вызова ---

// RewriteAttachmentURL заменяет ссылку вложения.
func (rw *Rewriter) RewriteAttachmentURL(ctx context.Context, localID, rawURL string) string {
	p := rw.newPass(ctx, SiteAttachmentURL)
	if proxy, ok := p.forAttachment(localID, rawURL); ok {
		return proxy
	}
	return rawURL
}

// RewriteImageSrc заменяет URL в src изображения. Пустой URL не трогается.
func (rw *Rewriter) RewriteImageSrc(ctx context.Context, localID string, src ImageSource) ImageSource {
	if src.URL == "" {
		return src
	}
	p := rw.newPass(ctx, SiteImageSrc)
	if proxy, ok := p.forAttachment(localID, src.URL); ok {
		src.URL = proxy
	}
	return src
}

// RewriteAttributes заменяет атрибут src. Возвращает новую карту.
func (rw *Rewriter) RewriteAttributes(ctx context.Context, localID string, attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}

	src, ok := out["src"]
	if !ok {
		return out
	}
	p := rw.newPass(ctx, SiteAttributes)
	if proxy, ok := p.forAttachment(localID, src); ok {
		out["src"] = proxy
	}
	return out
}

// RewriteImageHTML заменяет все атрибуты src в HTML изображения.
func (rw *Rewriter) RewriteImageHTML(ctx context.Context, localID, fragment string) string {
	p := rw.newPass(ctx, SiteImageHTML)
	proxy, ok := p.forAttachment(localID, fragment)
	if !ok {
		return fragment
	}
	attr := `src="` + html.EscapeString(proxy) + `"`
	return srcAttrPattern.ReplaceAllStringFunc(fragment, func(m string) string {
		if strings.HasPrefix(m, "src=") {
			return attr
		}
		return m[:1] + attr
	})
}

// RewriteContent заменяет все ссылки Telegram в тексте документа.
func (rw *Rewriter) RewriteContent(ctx context.Context, content string) string {
	return rw.newPass(ctx, SiteContent).scan(content)
}

// RewriteOutput: финальный проход по отрендеренному ответу.
func (rw *Rewriter) RewriteOutput(ctx context.Context, body []byte) []byte {
	if !rw.pattern.Match(body) {
		return body
	}
	return []byte(rw.newPass(ctx, SiteOutput).scan(string(body)))
}

// --- Ядро ---

// rewritePass: один вызов замены. В пределах прохода одна и та же
// несопоставленная ссылка получает один и тот же unmatched-идентификатор.
type rewritePass struct {
	rw        *Rewriter
	ctx       context.Context
	site      string
	now       time.Time
	unmatched map[string]string // ссылка → unmatched-идентификатор
}

func (rw *Rewriter) newPass(ctx context.Context, site string) *rewritePass {
	return &rewritePass{
		rw:        rw,
		ctx:       ctx,
		site:      site,
		now:       rw.now(),
		unmatched: make(map[string]string),
	}
}

func (p *rewritePass) count(result string) {
	rewritesTotal.WithLabelValues(p.site, result).Inc()
}

// forAttachment применяет правила к тексту, связанному с известным вложением.
// Возвращает proxy-ссылку и true, если текст нужно заменить.
func (p *rewritePass) forAttachment(localID, text string) (string, bool) {
	if localID == "" {
		p.count(resultUnchanged)
		return "", false
	}

	rec, err := p.rw.repo.Get(p.ctx, localID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		p.fail("получение вложения", err, slog.String("local_id", localID))
		return "", false
	}

	remoteURL, hasRemote := p.rw.MatchRemoteURL(text)

	// Правило 1: существующий идентификатор главнее.
	if rec != nil && rec.RemoteFileID != "" {
		if hasRemote && rec.IsFallback() && !rec.HasRemoteURL() {
			rec.RemoteURL = remoteURL
			if err := p.rw.repo.Put(p.ctx, rec); err != nil {
				p.rw.logger.Warn("Не удалось сохранить ссылку для fallback-вложения",
					slog.String("local_id", localID),
					slog.String("error", err.Error()),
				)
			}
		}
		p.count(resultMapped)
		return p.rw.ProxyURL(rec.RemoteFileID), true
	}

	// Правило 3: ссылки Telegram нет.
	if !hasRemote {
		p.count(resultUnchanged)
		return "", false
	}

	// Правило 2: fallback-идентификатор.
	if rec == nil {
		rec = &model.Attachment{LocalID: localID}
	}
	rec.RemoteFileID = model.FallbackID(localID, p.now)
	rec.RemoteURL = remoteURL
	if err := p.rw.repo.Put(p.ctx, rec); err != nil {
		p.fail("сохранение fallback-вложения", err, slog.String("local_id", localID))
		return "", false
	}

	p.rw.logger.Info("Назначен fallback-идентификатор",
		slog.String("site", p.site),
		slog.String("local_id", localID),
		slog.String("file_id", rec.RemoteFileID),
	)
	p.count(resultFallback)
	return p.rw.ProxyURL(rec.RemoteFileID), true
}

// scan заменяет все ссылки Telegram в тексте без известного вложения.
func (p *rewritePass) scan(text string) string {
	return p.rw.pattern.ReplaceAllStringFunc(text, func(remoteURL string) string {
		proxy, ok := p.forRemoteURL(remoteURL)
		if !ok {
			return remoteURL
		}
		return proxy
	})
}

// forRemoteURL сопоставляет ссылку Telegram с вложением по пути файла.
func (p *rewritePass) forRemoteURL(remoteURL string) (string, bool) {
	if id, ok := p.unmatched[remoteURL]; ok {
		p.count(resultUnmatched)
		return p.rw.ProxyURL(id), true
	}

	sub := p.rw.pattern.FindStringSubmatch(remoteURL)
	if len(sub) < 2 {
		p.count(resultUnchanged)
		return "", false
	}
	fragment := sub[1]
	if i := strings.IndexAny(fragment, "?#"); i >= 0 {
		fragment = fragment[:i]
	}

	rec, err := p.rw.repo.FindByURLFragment(p.ctx, fragment)
	switch {
	case err == nil && rec.RemoteFileID != "":
		// Правило 1
		p.count(resultMapped)
		return p.rw.ProxyURL(rec.RemoteFileID), true

	case err == nil:
		// Вложение найдено, но без идентификатора
		rec.RemoteFileID = model.FallbackID(rec.LocalID, p.now)
		rec.RemoteURL = remoteURL
		if err := p.rw.repo.Put(p.ctx, rec); err != nil {
			p.fail("сохранение fallback-вложения", err, slog.String("local_id", rec.LocalID))
			return "", false
		}
		p.count(resultFallback)
		return p.rw.ProxyURL(rec.RemoteFileID), true

	case !errors.Is(err, repository.ErrNotFound):
		p.fail("поиск вложения по ссылке", err, slog.String("fragment", fragment))
		return "", false
	}

	// Ссылка не принадлежит ни одному вложению
	id := model.UnmatchedID(remoteURL, p.now)
	rec = &model.Attachment{
		LocalID:      id,
		RemoteFileID: id,
		RemoteURL:    remoteURL,
	}
	if err := p.rw.repo.Put(p.ctx, rec); err != nil {
		p.fail("сохранение несопоставленной ссылки", err, slog.String("file_id", id))
		return "", false
	}
	p.unmatched[remoteURL] = id

	p.rw.logger.Info("Ссылка Telegram без вложения, назначен идентификатор",
		slog.String("site", p.site),
		slog.String("file_id", id),
	)
	p.count(resultUnmatched)
	return p.rw.ProxyURL(id), true
}

func (p *rewritePass) fail(op string, err error, attrs ...any) {
	p.count(resultError)
	args := append([]any{
		slog.String("site", p.site),
		slog.String("op", op),
		slog.String("error", err.Error()),
	}, attrs...)
	p.rw.logger.Warn("Ошибка замены ссылки, текст оставлен без изменений", args...)
}
