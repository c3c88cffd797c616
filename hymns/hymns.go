// Package hymns resolves the authors of catalog hymns through two batched resolvers,
// hymn ids to author ids and author ids to authors.
package hymns

import (
	"context"

	"github.com/hymnal/refcache"
	"github.com/hymnal/refcache/postgrest"
	"github.com/pkg/errors"
)

const (
	HymnAuthorsTable = "hymn_authors"
	AuthorsTable     = "authors"
)

// Author of a hymn
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Selector reads rows from the catalog database, *postgrest.Client implements it
type Selector interface {
	Select(ctx context.Context, dest interface{}, table string, columns []string, filters ...postgrest.Filter) error
}

// ValidID reports whether id can be sent to the database. Unset ids leak from the web
// client as "undefined".
func ValidID(id string) bool {
	return id != "" && id != "undefined"
}

// HymnAuthorsCollector resolves hymn ids into the ids of their authors
type HymnAuthorsCollector struct {
	DB Selector
}

func (c *HymnAuthorsCollector) Collect(ctx context.Context, hymnIDs []string) (map[string][]string, error) {
	var rows []struct {
		HymnID   string `json:"hymn_id"`
		AuthorID string `json:"author_id"`
	}
	err := c.DB.Select(ctx, &rows, HymnAuthorsTable, []string{"hymn_id", "author_id"}, postgrest.In("hymn_id", hymnIDs...))
	if err != nil {
		return nil, errors.Wrap(err, "selecting hymn authors")
	}

	result := make(map[string][]string)
	for _, row := range rows {
		result[row.HymnID] = append(result[row.HymnID], row.AuthorID)
	}
	return result, nil
}

// AuthorCollector resolves author ids into a single element list with the author
type AuthorCollector struct {
	DB Selector
}

func (c *AuthorCollector) Collect(ctx context.Context, authorIDs []string) (map[string][]Author, error) {
	var rows []Author
	err := c.DB.Select(ctx, &rows, AuthorsTable, []string{"id", "name"}, postgrest.In("id", authorIDs...))
	if err != nil {
		return nil, errors.Wrap(err, "selecting authors")
	}

	result := make(map[string][]Author, len(rows))
	for _, row := range rows {
		result[row.ID] = []Author{row}
	}
	return result, nil
}

// Config of the two resolvers of a Service
type Config struct {
	Batcher refcache.BatcherConfig
	Waiter  refcache.WaiterConfig

	HymnAuthorsLayers     []refcache.Layer[string, string]
	HymnAuthorsExtensions []refcache.Extension
	AuthorLayers          []refcache.Layer[string, Author]
	AuthorExtensions      []refcache.Extension
}

// Service answers author lookups for hymns. Concurrent lookups share the same batches.
type Service struct {
	hymnAuthors *refcache.Resolver[string, string]
	authors     *refcache.Resolver[string, Author]
}

func NewService(db Selector, config Config) (*Service, error) {
	hymnAuthors, err := refcache.New(refcache.Config[string, string]{
		Identifier: HymnAuthorsTable,
		Collector:  &HymnAuthorsCollector{DB: db},
		Batcher:    config.Batcher,
		Waiter:     config.Waiter,
		Layers:     config.HymnAuthorsLayers,
		ValidKey:   ValidID,
		Extensions: config.HymnAuthorsExtensions,
	})
	if err != nil {
		return nil, errors.Wrap(err, "hymn authors resolver")
	}
	authors, err := refcache.New(refcache.Config[string, Author]{
		Identifier: AuthorsTable,
		Collector:  &AuthorCollector{DB: db},
		Batcher:    config.Batcher,
		Waiter:     config.Waiter,
		Layers:     config.AuthorLayers,
		ValidKey:   ValidID,
		Extensions: config.AuthorExtensions,
	})
	if err != nil {
		return nil, errors.Wrap(err, "authors resolver")
	}
	return &Service{hymnAuthors: hymnAuthors, authors: authors}, nil
}

// AuthorIDs returns the author ids of every valid hymn id
func (s *Service) AuthorIDs(ctx context.Context, hymnIDs []string) (map[string][]string, error) {
	return s.hymnAuthors.Resolve(ctx, hymnIDs)
}

// AuthorsForHymns returns the authors of every valid hymn id, in the order the hymn
// lists them. Author ids without an author row are left out.
func (s *Service) AuthorsForHymns(ctx context.Context, hymnIDs []string) (map[string][]Author, error) {
	authorIDs, err := s.hymnAuthors.Resolve(ctx, hymnIDs)
	result := make(map[string][]Author, len(authorIDs))
	for hymnID := range authorIDs {
		result[hymnID] = []Author{}
	}
	if err != nil {
		return result, err
	}

	var ids []string
	for _, list := range authorIDs {
		ids = append(ids, list...)
	}
	authors, err := s.authors.Resolve(ctx, ids)

	for hymnID, list := range authorIDs {
		for _, id := range list {
			result[hymnID] = append(result[hymnID], authors[id]...)
		}
	}
	return result, err
}

// Drain waits for the lookups in flight to be written to the cache and to the layers
func (s *Service) Drain() {
	s.hymnAuthors.Drain()
	s.authors.Drain()
}

// ClearCache drops every resolved hymn and author
func (s *Service) ClearCache() {
	s.hymnAuthors.Reset()
	s.authors.Reset()
}
