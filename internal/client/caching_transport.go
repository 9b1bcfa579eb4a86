package client

import (
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// DefaultTimeout bounds every request made by the caching clients.
const DefaultTimeout = 15 * time.Second

// NewCachingHTTPClient creates an HTTP client that honours Cache-Control and ETag headers.
// Responses are kept on disk under cacheDir, or in memory when cacheDir is empty.
// The course catalog uses it so a CMS-hosted catalog is only downloaded again when it changes.
func NewCachingHTTPClient(cacheDir string, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var cache httpcache.Cache = httpcache.NewMemoryCache()
	if cacheDir != "" {
		cache = diskcache.New(cacheDir)
	}

	transport := httpcache.NewTransport(cache)
	transport.MarkCachedResponses = true

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// FromCache reports whether resp was served from the local cache.
func FromCache(resp *http.Response) bool {
	return resp.Header.Get(httpcache.XFromCache) == "1"
}
