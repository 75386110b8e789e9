package market

import (
	"strings"
	"sync"
)

// Cache 维护 (交易对, 接入点) 维度的最新报价。
// 写入方为行情采集端（单写者），路由侧只读。
type Cache struct {
	mu      sync.RWMutex
	quotes  map[string]map[string]Quote
	version uint64
}

// NewCache 创建空的行情缓存。
func NewCache() *Cache {
	return &Cache{
		quotes: make(map[string]map[string]Quote),
	}
}

// Update 整体替换 (pair, venue) 的报价。
func (c *Cache) Update(quote Quote) {
	pair := normalizePair(quote.Pair)
	venue := normalizeVenue(quote.Venue)
	if pair == "" || venue == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	byVenue, ok := c.quotes[pair]
	if !ok {
		byVenue = make(map[string]Quote)
		c.quotes[pair] = byVenue
	}
	byVenue[venue] = quote
	c.version++
}

// Get 返回指定接入点的最新报价，未观测到时第二个返回值为 false。
func (c *Cache) Get(pair, venue string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byVenue, ok := c.quotes[normalizePair(pair)]
	if !ok {
		return Quote{}, false
	}
	quote, ok := byVenue[normalizeVenue(venue)]
	return quote, ok
}

// GetPair 返回该交易对在所有接入点的报价快照。
func (c *Cache) GetPair(pair string) map[string]Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byVenue, ok := c.quotes[normalizePair(pair)]
	if !ok {
		return nil
	}

	snapshot := make(map[string]Quote, len(byVenue))
	for venue, quote := range byVenue {
		snapshot[venue] = quote
	}
	return snapshot
}

// Version 返回累计更新次数，用于观测缓存是否在推进。
func (c *Cache) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func normalizePair(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func normalizeVenue(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
