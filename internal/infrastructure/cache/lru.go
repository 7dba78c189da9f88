// Package cache provides the in-process cache handed to the resolver and the
// workflow queries.
package cache

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rhadityaaa/ewd-tools/internal/application/port"
)

// Defaults used when Config leaves a field zero
const (
	DefaultSize = 1024
	DefaultTTL  = 5 * time.Minute
)

// Config holds cache configuration
type Config struct {
	Size int
	TTL  time.Duration
}

// LRU is a size-bounded cache whose entries also expire after TTL
type LRU struct {
	lru *expirable.LRU[string, interface{}]
}

// NewLRU creates a cache from cfg
func NewLRU(cfg Config) *LRU {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &LRU{lru: expirable.NewLRU[string, interface{}](cfg.Size, nil, cfg.TTL)}
}

func (c *LRU) Get(key string) (interface{}, bool) {
	return c.lru.Get(key)
}

func (c *LRU) Set(key string, value interface{}) {
	c.lru.Add(key, value)
}

func (c *LRU) Delete(key string) {
	c.lru.Remove(key)
}

func (c *LRU) DeletePrefix(prefix string) {
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.lru.Remove(k)
		}
	}
}

func (c *LRU) Purge() {
	c.lru.Purge()
}

// Len returns the number of live entries
func (c *LRU) Len() int {
	return c.lru.Len()
}

// Noop never stores anything
type Noop struct{}

func (Noop) Get(string) (interface{}, bool) { return nil, false }
func (Noop) Set(string, interface{})        {}
func (Noop) Delete(string)                  {}
func (Noop) DeletePrefix(string)            {}
func (Noop) Purge()                         {}

var (
	_ port.Cache = (*LRU)(nil)
	_ port.Cache = Noop{}
)
