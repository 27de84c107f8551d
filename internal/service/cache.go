// Пакет service — бизнес-логика Form Data Module.
// CacheService — LRU-кэш форм с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goodk/formdata-module/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_form_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш форм.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_form_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша форм.",
	})
)

// CacheService — LRU-кэш форм по первичному ключу.
// Разобранная схема формы переиспользуется между запросами статистики.
type CacheService struct {
	cache *expirable.LRU[int64, *model.XForm]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	return &CacheService{cache: expirable.NewLRU[int64, *model.XForm](maxSize, nil, ttl)}
}

// Get возвращает форму из кэша.
func (c *CacheService) Get(id int64) (*model.XForm, bool) {
	val, ok := c.cache.Get(id)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет форму в кэше.
func (c *CacheService) Set(form *model.XForm) {
	c.cache.Add(form.ID, form)
}

// Delete удаляет форму из кэша.
func (c *CacheService) Delete(id int64) {
	c.cache.Remove(id)
}
