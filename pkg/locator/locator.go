// Package locator finds the built binary of a target application and
// reports every path it tried.
package locator

import (
	"context"
	"fmt"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/appbridge/pkg/observability"
	"github.com/odvcencio/appbridge/pkg/target"
)

const defaultCacheSize = 64

// Locator resolves target descriptors to binaries. Successful resolutions
// are cached for the Locator's lifetime only.
type Locator struct {
	cache *lru.Cache[string, ResolvedBinary]
	scope *observability.Scope
}

// Option configures a Locator.
type Option func(*Locator)

// WithScope threads logging, tracing and metrics into the locator.
func WithScope(scope *observability.Scope) Option {
	return func(l *Locator) {
		if scope != nil {
			l.scope = scope
		}
	}
}

// WithCacheSize bounds the number of cached resolutions. Zero disables
// caching.
func WithCacheSize(size int) Option {
	return func(l *Locator) {
		if size <= 0 {
			l.cache = nil
			return
		}
		l.cache, _ = lru.New[string, ResolvedBinary](size)
	}
}

// New creates a Locator.
func New(opts ...Option) *Locator {
	cache, _ := lru.New[string, ResolvedBinary](defaultCacheSize)
	l := &Locator{cache: cache}
	for _, opt := range opts {
		opt(l)
	}
	l.scope = l.scope.OrDefault()
	return l
}

// Resolve never returns an error: failure is reported in the Attempts of
// an unverified result. Use ResolvedBinary.Err for an actionable error.
func (l *Locator) Resolve(ctx context.Context, d target.Descriptor) ResolvedBinary {
	d = d.Normalize()
	ctx, span := l.scope.Tracer.Start(ctx, "locator.resolve", trace.WithAttributes(
		observability.AttrPlatform.String(string(d.Platform)),
		observability.AttrFramework.String(string(d.Framework)),
	))
	defer span.End()

	logger := l.scope.Logger.WithComponent("locator").WithContext(ctx)

	var meta projectMetadata
	if d.ExplicitPath == "" {
		meta = readMetadata(d)
	}
	key := cacheKey(d, meta.Fingerprint)
	if l.cache != nil {
		if cached, ok := l.cache.Get(key); ok {
			span.SetAttributes(attribute.Bool("appbridge.cache.hit", true))
			return cached.Clone()
		}
	}

	result := ResolvedBinary{
		Platform:  d.Platform,
		Framework: d.Framework,
		BuildMode: d.BuildMode,
	}

	var paths []string
	if d.ExplicitPath != "" {
		path := d.ExplicitPath
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		paths = []string{path}
		result.AppName = d.AppName
	} else {
		result.AppName = meta.Names[0]
		result.Attempts = append(result.Attempts, meta.Attempts...)
		paths = candidates(d, meta.Names)
		if len(paths) == 0 {
			result.Attempts = append(result.Attempts, Attempt{
				Path:   d.ProjectRoot,
				Reason: ReasonNotFound,
				Detail: fmt.Sprintf("%s does not produce %s builds", d.Framework, d.Platform),
			})
		}
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			result.Attempts = append(result.Attempts, Attempt{Path: path, Reason: ReasonCanceled, Detail: err.Error()})
			l.count(ReasonCanceled)
			break
		}
		reason, detail := verify(d.Platform, path)
		if reason == "" {
			result.Path = path
			result.Verified = true
			l.count("verified")
			break
		}
		l.count(reason)
		result.Attempts = append(result.Attempts, Attempt{Path: path, Reason: reason, Detail: detail})
	}

	span.SetAttributes(
		observability.AttrVerified.Bool(result.Verified),
		observability.AttrAttempts.Int(len(result.Attempts)),
	)
	if !result.Verified {
		logger.Debug("no runnable binary", "target", d.String(), "attempts", len(result.Attempts))
		return result
	}

	logger.Debug("resolved binary", "path", result.Path, "skipped", len(result.Attempts))
	if l.cache != nil {
		l.cache.Add(key, result.Clone())
	}
	return result
}

func (l *Locator) count(reason Reason) {
	l.scope.Metrics.DiscoveryAttempts.WithLabelValues(string(reason)).Inc()
}

func cacheKey(d target.Descriptor, fp string) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s|%s",
		d.Platform, d.Framework, d.ProjectRoot, d.BuildMode, d.ExplicitPath, d.AppName, d.Arch, d.Flavor, fp)
}
