package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/Skyvell/signing-signicat/core"
)

const bundleSummaryCacheKeyPrefix = "signing::bundle_summary::v1"

// CachedSummaryStore caches terminal bundle summaries. A terminal bundle never
// changes again, so its summary is safe to serve from cache indefinitely;
// in-flight bundles always read through.
type CachedSummaryStore struct {
	base  core.SummaryReader
	cache repositorycache.CacheService
}

func NewCachedSummaryStore(
	base core.SummaryReader,
	cacheService repositorycache.CacheService,
) (*CachedSummaryStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base summary reader is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: summary cache service is required")
	}
	return &CachedSummaryStore{base: base, cache: cacheService}, nil
}

// BundleSummaryCacheKey returns the deterministic cache key contract for
// summary reads: signing::bundle_summary::v1::<bundle_id> with the bundle id
// URL-path escaped after trimming.
func BundleSummaryCacheKey(bundleID string) (string, error) {
	bundleID = strings.TrimSpace(bundleID)
	if bundleID == "" {
		return "", fmt.Errorf("sqlstore: bundle id is required")
	}
	return bundleSummaryCacheKeyPrefix + "::" + url.PathEscape(bundleID), nil
}

func (s *CachedSummaryStore) GetBundleSummary(ctx context.Context, bundleID string) (core.BundleSummary, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.BundleSummary{}, fmt.Errorf("sqlstore: cached summary store is not configured")
	}
	cacheKey, err := BundleSummaryCacheKey(bundleID)
	if err != nil {
		return core.BundleSummary{}, err
	}

	summary, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.BundleSummary, error) {
		return s.base.GetBundleSummary(ctx, bundleID)
	})
	if err != nil {
		return core.BundleSummary{}, err
	}

	if !summary.Status.Terminal() {
		// Do not let an in-flight snapshot go stale in the cache.
		if deleteErr := s.cache.Delete(ctx, cacheKey); deleteErr != nil {
			return core.BundleSummary{}, deleteErr
		}
		return s.base.GetBundleSummary(ctx, bundleID)
	}
	return cloneBundleSummary(summary), nil
}

func cloneBundleSummary(summary core.BundleSummary) core.BundleSummary {
	cloned := summary
	cloned.FailedContracts = append([]string(nil), summary.FailedContracts...)
	return cloned
}

var _ core.SummaryReader = (*CachedSummaryStore)(nil)
