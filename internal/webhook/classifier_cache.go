package webhook

import (
	"context"
	"strings"
	"time"

	"github.com/zjrosen/adwd/internal/adw"
	"github.com/zjrosen/adwd/internal/cachemanager"
)

// DefaultClassifyCacheTTL is how long a classification verdict is reused
// for identical event text.
const DefaultClassifyCacheTTL = 15 * time.Minute

// Compile-time check that CachingClassifier implements adw.Classifier.
var _ adw.Classifier = (*CachingClassifier)(nil)

// CachingClassifier memoizes another classifier. Webhook redeliveries and
// repeated preview submissions carry the same text, and the classifier
// behind this one pays a subprocess run per call. Verdicts and "no
// verdict" are both cached for the TTL; classifier errors are not.
type CachingClassifier struct {
	cache *cachemanager.ReadThroughCache[string, *adw.Command, string]
	ttl   time.Duration
}

// NewCachingClassifier wraps inner with a verdict cache. A non-positive
// ttl falls back to DefaultClassifyCacheTTL.
func NewCachingClassifier(inner adw.Classifier, ttl time.Duration) *CachingClassifier {
	if ttl <= 0 {
		ttl = DefaultClassifyCacheTTL
	}
	store := cachemanager.NewInMemoryCacheManager[string, *adw.Command]("classifier", ttl, ttl)
	return &CachingClassifier{
		ttl: ttl,
		cache: cachemanager.NewReadThroughCache(store, func(ctx context.Context, text string) (*adw.Command, error) {
			return inner.Classify(ctx, text)
		}, false),
	}
}

// Classify returns the cached verdict for text, consulting the wrapped
// classifier on first sight. Keys are whitespace-collapsed, so rewraps of
// the same text share a verdict.
func (c *CachingClassifier) Classify(ctx context.Context, text string) (*adw.Command, error) {
	key := strings.Join(strings.Fields(text), " ")
	result, err := c.cache.Get(ctx, key, text, c.ttl)
	if err != nil || result == nil {
		return nil, err
	}
	cmd := *result
	return &cmd, nil
}
