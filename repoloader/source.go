// Package repoloader serves list pages and deletes from a go-repository-bun
// repository, so a QueryCache and a mutation Tracker can sit directly on a
// SQL table.
package repoloader

import (
	"context"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	repository "github.com/goliatone/go-repository-bun"
	perrors "github.com/jmgilman/go/errors"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/liststate"
)

var identifierRule = validation.Match(regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`))

// Config configures a Source.
type Config struct {
	// Resource names the resource in errors and keys.
	Resource string
	// IDColumn is the primary key column, "id" by default.
	IDColumn string
	// SearchColumns are matched with ILIKE against the search term.
	SearchColumns []string
	// SortColumns maps sortable wire fields to columns. When empty any
	// identifier is accepted and converted to snake_case.
	SortColumns map[string]string
	// DefaultLimit applies when params carry no limit.
	DefaultLimit int
}

// Source adapts a repository to cache.Loader and mutation.Mutator.
type Source[T any] struct {
	repo repository.Repository[T]
	cfg  Config
}

// New creates a Source over repo.
func New[T any](repo repository.Repository[T], cfg Config) *Source[T] {
	if cfg.IDColumn == "" {
		cfg.IDColumn = "id"
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = liststate.DefaultOptions().Limit
	}
	return &Source[T]{repo: repo, cfg: cfg}
}

// Load implements cache.Loader. Params follow the liststate encoding: page,
// limit, sort ("field" or "-field") and search.
func (s *Source[T]) Load(ctx context.Context, params cache.Params) (cache.Page[T], error) {
	state := liststate.FromKey(cache.NewKey(s.cfg.Resource, params))
	if state.Limit <= 0 {
		state.Limit = s.cfg.DefaultLimit
	}
	if err := state.Validate(); err != nil {
		return cache.Page[T]{}, perrors.Wrap(err, perrors.CodeInvalidInput, "invalid paging")
	}

	criteria, err := s.Criteria(state)
	if err != nil {
		return cache.Page[T]{}, err
	}

	records, total, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return cache.Page[T]{}, s.wrap(err, "list")
	}
	return cache.NewPage(records, total, state.Page, state.Limit), nil
}

// Criteria builds the select criteria for one page of state.
func (s *Source[T]) Criteria(state liststate.State) ([]repository.SelectCriteria, error) {
	criteria := []repository.SelectCriteria{}

	if term := strings.TrimSpace(state.Search); term != "" && len(s.cfg.SearchColumns) > 0 {
		pattern := "%" + escapeLike(term) + "%"
		columns := s.cfg.SearchColumns
		criteria = append(criteria, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
				for _, col := range columns {
					q = q.WhereOr("? ILIKE ?", bun.Ident(col), pattern)
				}
				return q
			})
		})
	}

	if !state.Sort.IsZero() {
		col, err := s.sortColumn(state.Sort.Field)
		if err != nil {
			return nil, err
		}
		dir := "ASC"
		if state.Sort.Direction == liststate.DirectionDesc {
			dir = "DESC"
		}
		criteria = append(criteria, func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.OrderExpr("? "+dir, bun.Ident(col))
		})
	}

	limit, offset := state.Limit, (state.Page-1)*state.Limit
	criteria = append(criteria, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Limit(limit).Offset(offset)
	})

	return criteria, nil
}

// DeleteMany implements mutation.Mutator.
func (s *Source[T]) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.repo.DeleteWhere(ctx, s.deleteIDs(ids)); err != nil {
		return s.wrap(err, "delete")
	}
	return nil
}

// DeleteAll implements mutation.Mutator. It removes every row of the table.
func (s *Source[T]) DeleteAll(ctx context.Context) error {
	if err := s.repo.DeleteWhere(ctx, deleteAll); err != nil {
		return s.wrap(err, "delete all")
	}
	return nil
}

func (s *Source[T]) deleteIDs(ids []string) repository.DeleteCriteria {
	idCol := s.cfg.IDColumn
	return func(q *bun.DeleteQuery) *bun.DeleteQuery {
		return q.Where("? IN (?)", bun.Ident(idCol), bun.In(ids))
	}
}

func deleteAll(q *bun.DeleteQuery) *bun.DeleteQuery {
	return q.Where("1 = 1")
}

func (s *Source[T]) sortColumn(field string) (string, error) {
	if len(s.cfg.SortColumns) > 0 {
		col, ok := s.cfg.SortColumns[field]
		if !ok {
			return "", perrors.Newf(perrors.CodeInvalidInput, "cannot sort %s by %q", s.cfg.Resource, field)
		}
		return col, nil
	}
	if err := validation.Validate(field, validation.Required, identifierRule); err != nil {
		return "", perrors.Wrapf(err, perrors.CodeInvalidInput, "cannot sort %s by %q", s.cfg.Resource, field)
	}
	return columnName(field), nil
}

// wrap tags repository failures as database errors unless they already carry
// a code or come from the context.
func (s *Source[T]) wrap(err error, action string) error {
	if cache.Classify(err) != cache.KindUnknown {
		return err
	}
	return perrors.Wrapf(err, perrors.CodeDatabase, "%s %s failed", action, s.cfg.Resource)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
