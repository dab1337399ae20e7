// Package resource binds the REST client to the query cache, one service per
// resource family. Read methods return query descriptors that callers pass to
// query.Observe (long-lived views) or query.Fetch (one-shot reads). Write
// operations are query.Mutations whose success callbacks patch or invalidate
// the keys that depend on the written entity.
package resource

import (
	"time"

	"github.com/kalambet/dynasty/internal/client"
	"github.com/kalambet/dynasty/internal/query"
)

const defaultPageSize = 10

func freshness(stale, gc time.Duration) query.Options {
	return query.Options{StaleTime: stale, GCTime: gc}
}

// params builds a key segment from name/value pairs, skipping zero strings
// and nil pointers. Pagination fields are always kept.
func params(kv ...any) query.Params {
	p := query.Params{}
	for i := 0; i+1 < len(kv); i += 2 {
		name := kv[i].(string)
		switch v := kv[i+1].(type) {
		case string:
			if v != "" {
				p[name] = v
			}
		case *bool:
			if v != nil {
				p[name] = *v
			}
		case bool:
			if v {
				p[name] = v
			}
		default:
			p[name] = v
		}
	}
	return p
}

// paginate slices items into the page-th page of size, shaped like a server
// page.
func paginate[T any](items []T, page, size int) client.Page[T] {
	if size <= 0 {
		size = defaultPageSize
	}
	if page < 0 {
		page = 0
	}
	start := min(page*size, len(items))
	end := min(start+size, len(items))
	pages := (len(items) + size - 1) / size
	return client.Page[T]{
		Content:       append([]T(nil), items[start:end]...),
		TotalElements: len(items),
		TotalPages:    pages,
		Size:          size,
		Number:        page,
		First:         page == 0,
		Last:          page >= pages-1,
	}
}
