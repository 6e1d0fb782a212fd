package mcpclient

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// CachedResource is one fetched resource held by the cache, tagged with the
// server it came from and when it was read.
type CachedResource struct {
	URI         string
	MIMEType    string
	Description string
	Content     []ResourceContents
	ServerName  string
	FetchedAt   time.Time
}

// Text concatenates the textual parts of the resource content, newline
// separated. Binary-only resources yield "".
func (r *CachedResource) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// HasText reports whether any content part carries text.
func (r *CachedResource) HasText() bool {
	for _, c := range r.Content {
		if c.Text != "" {
			return true
		}
	}
	return false
}

// HasImage reports whether any content part is binary with an image MIME
// type.
func (r *CachedResource) HasImage() bool {
	for _, c := range r.Content {
		if c.Blob != "" && strings.HasPrefix(c.MIMEType, "image/") {
			return true
		}
	}
	return false
}

// ResourceCache memoizes resource reads on top of a Manager. Entries never
// expire on their own; staleness is the caller's concern via Invalidate or
// Clear. Concurrent Gets for the same URI are collapsed into a single
// upstream read.
type ResourceCache struct {
	manager *Manager
	logger  *zap.Logger

	mu      sync.RWMutex
	entries map[string]*CachedResource
	group   singleflight.Group
}

// NewResourceCache builds an empty cache over the given manager.
func NewResourceCache(manager *Manager, opts ...Option) *ResourceCache {
	o := resolveOptions(opts)
	return &ResourceCache{
		manager: manager,
		logger:  o.logger,
		entries: make(map[string]*CachedResource),
	}
}

// Get returns the cached resource for uri, fetching it on a miss. The
// owning server is located by asking every connected server for its resource
// list; use GetFrom when the server is already known.
func (c *ResourceCache) Get(ctx context.Context, uri string) (*CachedResource, error) {
	return c.get(ctx, uri, "")
}

// GetFrom is Get with the owning server named up front, skipping discovery.
func (c *ResourceCache) GetFrom(ctx context.Context, uri, server string) (*CachedResource, error) {
	return c.get(ctx, uri, server)
}

func (c *ResourceCache) get(ctx context.Context, uri, server string) (*CachedResource, error) {
	if err := validateURI(uri); err != nil {
		return nil, err
	}
	c.mu.RLock()
	cached, ok := c.entries[uri]
	c.mu.RUnlock()
	if ok {
		c.logger.Debug("resource cache hit", zap.String("uri", uri))
		return cached, nil
	}

	v, err, _ := c.group.Do(uri, func() (any, error) {
		// Re-check under the flight: a racing Get may have stored it.
		c.mu.RLock()
		cached, ok := c.entries[uri]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}
		res, err := c.fetch(ctx, uri, server)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[uri] = res
		c.mu.Unlock()
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*CachedResource), nil
}

// fetch reads the resource from its server, discovering the owner when one
// was not named.
func (c *ResourceCache) fetch(ctx context.Context, uri, server string) (*CachedResource, error) {
	var info *ServerResource
	if server == "" {
		resources, err := c.manager.DiscoverResources(ctx)
		if err != nil {
			return nil, err
		}
		for i := range resources {
			if resources[i].URI == uri {
				info = &resources[i]
				break
			}
		}
		if info == nil {
			return nil, fmt.Errorf("%w: no connected server exposes %q", ErrResourceNotFound, uri)
		}
		server = info.Server
	}

	contents, err := c.manager.ReadResource(ctx, server, uri)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("resource fetched",
		zap.String("uri", uri), zap.String("server", server))

	res := &CachedResource{
		URI:        uri,
		ServerName: server,
		Content:    contents,
		FetchedAt:  time.Now(),
	}
	if info != nil {
		res.MIMEType = info.MIMEType
		res.Description = info.Description
	}
	if res.MIMEType == "" {
		for _, part := range contents {
			if part.MIMEType != "" {
				res.MIMEType = part.MIMEType
				break
			}
		}
	}
	return res, nil
}

// Prefetch warms the cache for a batch of URIs, fetching them in parallel.
// It always returns the resources that succeeded, in input order; per-URI
// failures come back in the error map and never fail the batch as a whole.
func (c *ResourceCache) Prefetch(ctx context.Context, uris []string) ([]*CachedResource, map[string]error) {
	var (
		mu       sync.Mutex
		failures = make(map[string]error)
	)
	results := make([]*CachedResource, len(uris))

	g, ctx := errgroup.WithContext(ctx)
	for i, uri := range uris {
		g.Go(func() error {
			res, err := c.Get(ctx, uri)
			if err != nil {
				c.logger.Warn("prefetch failed", zap.String("uri", uri), zap.Error(err))
				mu.Lock()
				failures[uri] = err
				mu.Unlock()
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	fetched := make([]*CachedResource, 0, len(uris))
	for _, res := range results {
		if res != nil {
			fetched = append(fetched, res)
		}
	}
	if len(fetched) == 0 {
		fetched = nil
	}
	return fetched, failures
}

// Invalidate drops the entry for uri, forcing the next Get to re-read.
// Reports whether an entry was present.
func (c *ResourceCache) Invalidate(uri string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[uri]
	delete(c.entries, uri)
	return ok
}

// Clear drops every cached entry.
func (c *ResourceCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*CachedResource)
	c.mu.Unlock()
}

// Size returns the number of cached entries.
func (c *ResourceCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CachedURIs returns the sorted URIs currently held.
func (c *ResourceCache) CachedURIs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	uris := make([]string, 0, len(c.entries))
	for uri := range c.entries {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}
