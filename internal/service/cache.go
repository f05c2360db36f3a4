// Пакет service: бизнес-логика Telegram Proxy.
// CacheService: LRU-кэш разрешённых вложений с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/tgproxy/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tp_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш вложений.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tp_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша вложений.",
	})
)

// CacheService: LRU-кэш вложений по remote_file_id.
// Хранит только записи с известной ссылкой; TTL должен быть меньше
// времени жизни ссылки Telegram (около часа).
type CacheService struct {
	cache *expirable.LRU[string, *model.Attachment]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[string, *model.Attachment](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает копию записи по remote_file_id.
func (c *CacheService) Get(remoteFileID string) (*model.Attachment, bool) {
	val, ok := c.cache.Get(remoteFileID)
	if ok {
		cacheHitsTotal.Inc()
		return val.Clone(), true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет запись. Записи без remote_file_id или ссылки не кэшируются.
func (c *CacheService) Set(a *model.Attachment) {
	if a.RemoteFileID == "" || !a.HasRemoteURL() {
		return
	}
	c.cache.Add(a.RemoteFileID, a.Clone())
}

// Delete удаляет запись из кэша.
func (c *CacheService) Delete(remoteFileID string) {
	c.cache.Remove(remoteFileID)
}

// Len возвращает количество записей в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}
