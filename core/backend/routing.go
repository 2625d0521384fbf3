package backend

import (
	"context"
	"strings"

	"github.com/goccy/go-json"

	"github.com/webpods-org/webpods/core"
	"github.com/webpods-org/webpods/core/cache"
	"github.com/webpods-org/webpods/core/logger"
)

func routingCacheKey(pod string) string {
	return "routing:" + pod
}

// routingTable returns the pod's link rewrite table: the content of the
// latest "routes" record in /.config/routing, a map from request path to
// target path. Pods without a routing record have an empty table.
func (b *Backend) routingTable(ctx context.Context, pod string) map[string]string {
	cacheKey := routingCacheKey(pod)
	if data, ok := b.cache.Get(ctx, cache.PoolSingleRecords, cacheKey); ok {
		var table map[string]string
		if err := json.Unmarshal(data, &table); err == nil {
			return table
		}
	}

	table := map[string]string{}
	stream, err := b.GetStreamByPath(ctx, pod, routingStreamPath)
	if err == nil {
		record, err := b.latestVisibleRecordByName(ctx, stream.ID, "routes")
		switch {
		case err == nil:
			if err := json.Unmarshal([]byte(record.Content), &table); err != nil {
				logger.FromContext(ctx).WithError(err).Errorln("malformed routing record in pod", pod)
				table = map[string]string{}
			}
		case core.AsError(err).Kind != core.KindRecordNotFound:
			return table
		}
	} else if core.AsError(err).Kind != core.KindStreamNotFound {
		return table
	}

	if data, err := json.Marshal(table); err == nil {
		b.cache.Set(ctx, cache.PoolSingleRecords, cacheKey, data)
	}
	return table
}

// rewritePath applies the pod's routing table to the request path.
func (b *Backend) rewritePath(ctx context.Context, pod, path string) string {
	return applyRoutes(b.routingTable(ctx, pod), path)
}

// applyRoutes rewrites path using the longest matching route prefix. The
// rewrite is applied exactly once; the result is never rewritten again.
// Routes match whole path segments: the route /blog matches /blog and
// /blog/post but not /blogging.
func applyRoutes(table map[string]string, path string) string {
	if len(table) == 0 {
		return path
	}
	best := ""
	for route := range table {
		if route == "" || !strings.HasPrefix(route, "/") {
			continue
		}
		if path != route && !strings.HasPrefix(path, route+"/") {
			continue
		}
		if len(route) > len(best) {
			best = route
		}
	}
	if best == "" {
		return path
	}
	target := table[best]
	if !strings.HasPrefix(target, "/") {
		target = "/" + target
	}
	return target + path[len(best):]
}
