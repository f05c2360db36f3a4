// upstream.go: reverse proxy к приложению-хосту (TP_UPSTREAM_URL).
// Текстовые ответы хоста проходят финальную замену ссылок Telegram
// (TP_OUTPUT_REWRITE), прочие передаются без изменений.
package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
)

// maxRewriteBody: ответы больше лимита передаются без замены.
const maxRewriteBody = 16 << 20

// OutputRewriter: финальный проход замены ссылок по телу ответа.
type OutputRewriter interface {
	RewriteOutput(ctx context.Context, body []byte) []byte
}

// NewUpstreamProxy создаёт reverse proxy к хосту. rw == nil: замена отключена.
func NewUpstreamProxy(upstream *url.URL, rw OutputRewriter, logger *slog.Logger) *httputil.ReverseProxy {
	logger = logger.With(slog.String("component", "upstream_proxy"))

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
			if rw != nil {
				// Кодировки клиента не передаются: gzip транспорт распакует сам
				pr.Out.Header.Del("Accept-Encoding")
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("Хост недоступен",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	if rw != nil {
		proxy.ModifyResponse = func(resp *http.Response) error {
			return rewriteResponse(resp, rw)
		}
	}
	return proxy
}

// rewriteResponse заменяет ссылки в текстовом несжатом ответе.
func rewriteResponse(resp *http.Response, rw OutputRewriter) error {
	if !isTextual(resp.Header.Get("Content-Type")) {
		return nil
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" && enc != "identity" {
		return nil
	}
	if resp.ContentLength > maxRewriteBody {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRewriteBody+1))
	if err != nil {
		return fmt.Errorf("чтение ответа хоста: %w", err)
	}
	if len(body) > maxRewriteBody {
		// Тело больше лимита: отдаём прочитанное и остаток как есть
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
		return nil
	}
	_ = resp.Body.Close()

	out := rw.RewriteOutput(resp.Request.Context(), body)
	resp.Body = io.NopCloser(bytes.NewReader(out))
	resp.ContentLength = int64(len(out))
	resp.Header.Set("Content-Length", strconv.Itoa(len(out)))
	return nil
}

// isTextual: HTML, XML, JSON и прочие text/*.
func isTextual(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return true
	case mediaType == "application/json", mediaType == "application/xhtml+xml",
		mediaType == "application/xml", mediaType == "application/rss+xml",
		mediaType == "application/atom+xml":
		return true
	}
	return false
}
