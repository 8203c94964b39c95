package ecs

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rotisserie/eris"
)

// SearchParam contains parameters for a search query.
// We use expr lang for the where clause to filter the entities, please refer to its documentation
// for more details: https://expr-lang.org/docs/getting-started.
type SearchParam struct {
	Find  []string    // List of component names to search for
	Match SearchMatch // A match type to use for the search
	Where string      // Optional expr language string to filter the results.
	Limit int         // Maximum number of results, 0 means no limit
}

// SearchMatch is the type of match to use for the search.
type SearchMatch string

const (
	// MatchExact matches entities that have exactly the specified components.
	MatchExact SearchMatch = "exact"
	// MatchContains matches entities that contains the specified components, but may have other
	// components as well.
	MatchContains SearchMatch = "contains"
)

// validateAndGetFilter validates the search parameters and returns an expr VM program compiled
// from the where clause.
func (s *SearchParam) validateAndGetFilter() (*vm.Program, error) {
	if len(s.Find) == 0 {
		return nil, eris.New("component list cannot be empty")
	}

	if s.Match != MatchExact && s.Match != MatchContains {
		return nil, eris.Errorf("invalid `match` value: must be either '%s' or '%s'", MatchExact, MatchContains)
	}

	if s.Limit < 0 {
		return nil, eris.New("limit cannot be negative")
	}

	// If no expression is provided, return a nil program.
	if len(s.Where) == 0 {
		return nil, nil //nolint:nilnil // no filter
	}

	// Compile the expression and check that the return type is boolean.
	filter, err := expr.Compile(s.Where, expr.AsBool())
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse where clause")
	}

	return filter, nil
}

// Search returns a map per entity matching the search parameters. Each map holds the entity's
// components by name plus the entity index under "_id" and generation under "_gen".
func (w *World) Search(params SearchParam) ([]map[string]any, error) {
	filter, err := params.validateAndGetFilter()
	if err != nil {
		return nil, eris.Wrap(err, "invalid search params")
	}

	ids := make([]ComponentID, len(params.Find))
	for i, name := range params.Find {
		id, err := w.components.getID(name)
		if err != nil {
			return nil, eris.Wrap(err, "failed to get archetypes from components")
		}
		ids[i] = id
	}

	query, err := w.Query(QueryDesc{All: ids})
	if err != nil {
		return nil, err
	}

	findCount := len(query.allIDs())
	results := make([]map[string]any, 0)
	for chunk := range query.Chunks() {
		if params.Match == MatchExact && len(chunk.arch.ids) != findCount {
			continue
		}

		for row, e := range chunk.entities {
			entityMap := chunk.toMap(e, row)

			// If there's no filter, include all entities.
			if filter != nil {
				// Run the filter expression. We set the entity map as the environment for `Run` so the
				// vm program has access to the entity data to filter.
				output, err := expr.Run(filter, entityMap)
				if err != nil {
					return nil, eris.Wrap(err, "failed to run filter expression")
				}

				// Because we compile the expr once without passing in the environment, expr.Compile
				// can't fully check if the expression returns a bool, especially when we filter for a
				// struct field e.g. health.Value > 200.
				isMatchFilter, ok := output.(bool)
				if !ok {
					return nil, eris.New("invalid where clause")
				}
				if !isMatchFilter {
					continue
				}
			}

			results = append(results, entityMap)
			if params.Limit > 0 && len(results) == params.Limit {
				return results, nil
			}
		}
	}

	return results, nil
}

// allIDs returns the distinct All component IDs of the query.
func (q *Query) allIDs() []ComponentID {
	return toIDs(q.all)
}

// toMap converts a row to a map of its components keyed by component name.
func (c *Chunk) toMap(e Entity, row int) map[string]any {
	data := make(map[string]any, len(c.columns)+2)

	// We cast to int here or else expr can't compare the id with integer literals.
	data["_id"] = int(e.Index)
	data["_gen"] = int(e.Generation)

	for _, col := range c.columns {
		data[col.name()] = col.getAbstract(row)
	}
	return data
}
