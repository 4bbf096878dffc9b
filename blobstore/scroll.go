package blobstore

import (
	"context"
	"strings"
)

// ObjectInfo is one element of a scroll page.
type ObjectInfo struct {
	// Key is relative to the store prefix.
	Key  string
	Size int64
}

// Scroll pages through every key directly under a prefix. Objects of nested
// prefixes belong to other stores and are not listed. A page may hold fewer
// than pageSize keys. Scroll is not safe for concurrent use; a failed Next
// may be retried.
type Scroll struct {
	backend  Backend
	prefix   string
	pageSize int

	started bool
	token   string
}

func newScroll(backend Backend, prefix string, pageSize int) *Scroll {
	if pageSize < 1 {
		pageSize = 1
	}
	return &Scroll{backend: backend, prefix: prefix, pageSize: pageSize}
}

// HasNext reports whether Next may return more keys.
func (s *Scroll) HasNext() bool {
	return !s.started || s.token != ""
}

// Next returns the next page, or ErrNoMoreElements once exhausted.
func (s *Scroll) Next(ctx context.Context) ([]ObjectInfo, error) {
	if !s.HasNext() {
		return nil, ErrNoMoreElements
	}

	page, err := s.backend.ListPage(ctx, ListQuery{
		Prefix:    s.prefix,
		Delimiter: PrefixSeparator,
		PageToken: s.token,
		PageSize:  s.pageSize,
	})
	if err != nil {
		return nil, opError("scroll", s.prefix, err)
	}

	s.started = true
	s.token = page.NextPageToken

	infos := make([]ObjectInfo, 0, len(page.Objects))
	for _, obj := range page.Objects {
		key := strings.TrimPrefix(obj.Name, s.prefix)
		if key == "" || strings.Contains(key, PrefixSeparator) {
			continue
		}
		infos = append(infos, ObjectInfo{Key: key, Size: obj.Size})
	}
	return infos, nil
}
