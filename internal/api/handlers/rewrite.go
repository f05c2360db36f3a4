// rewrite.go: замена ссылок Telegram на proxy-ссылки для хоста.
// Каждый endpoint соответствует своей точке вызова ядра замены.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bigkaa/tgproxy/internal/service"
)

// RewriteHandler: endpoints /api/v1/rewrite/*.
type RewriteHandler struct {
	rw     *service.Rewriter
	logger *slog.Logger
}

// NewRewriteHandler создаёт обработчик замены ссылок.
func NewRewriteHandler(rw *service.Rewriter, logger *slog.Logger) *RewriteHandler {
	return &RewriteHandler{
		rw:     rw,
		logger: logger.With(slog.String("component", "rewrite_handler")),
	}
}

type rewriteResult struct {
	Result string `json:"result"`
}

// RewriteURL: POST /api/v1/rewrite/url.
func (h *RewriteHandler) RewriteURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LocalID string `json:"local_id"`
		URL     string `json:"url"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, rewriteResult{
		Result: h.rw.RewriteAttachmentURL(r.Context(), req.LocalID, req.URL),
	})
}

// RewriteImageSrc: POST /api/v1/rewrite/image-src.
func (h *RewriteHandler) RewriteImageSrc(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LocalID string              `json:"local_id"`
		Src     service.ImageSource `json:"src"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]service.ImageSource{
		"src": h.rw.RewriteImageSrc(r.Context(), req.LocalID, req.Src),
	})
}

// RewriteAttributes: POST /api/v1/rewrite/attributes.
func (h *RewriteHandler) RewriteAttributes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LocalID    string            `json:"local_id"`
		Attributes map[string]string `json:"attributes"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]map[string]string{
		"attributes": h.rw.RewriteAttributes(r.Context(), req.LocalID, req.Attributes),
	})
}

// RewriteHTML: POST /api/v1/rewrite/html.
func (h *RewriteHandler) RewriteHTML(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LocalID string `json:"local_id"`
		HTML    string `json:"html"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, rewriteResult{
		Result: h.rw.RewriteImageHTML(r.Context(), req.LocalID, req.HTML),
	})
}

// RewriteContent: POST /api/v1/rewrite/content.
func (h *RewriteHandler) RewriteContent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, rewriteResult{
		Result: h.rw.RewriteContent(r.Context(), req.Content),
	})
}
