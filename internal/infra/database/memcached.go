package database

import (
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

func NewMemcached(server string, timeout time.Duration) *memcache.Client {
	mc := memcache.New(server)
	if timeout > 0 {
		mc.Timeout = timeout
	}
	return mc
}
