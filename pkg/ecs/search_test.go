package ecs_test

import (
	"context"
	"testing"

	"github.com/argus-labs/archecs/pkg/ecs"
	. "github.com/argus-labs/archecs/pkg/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSearchWorld(t *testing.T) *ecs.World {
	t.Helper()

	w, err := ecs.NewWorld(ecs.WorldOptions{Workers: 1, ChunkCapacity: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Shutdown(context.Background()) })

	_, err = ecs.RegisterComponent[Position](w)
	require.NoError(t, err)
	_, err = ecs.RegisterComponent[Health](w)
	require.NoError(t, err)
	_, err = ecs.RegisterComponent[Velocity](w)
	require.NoError(t, err)

	spawn := [][]ecs.Component{
		{Position{X: 1, Y: 1}},
		{Position{X: -1, Y: 2}},
		{Health{Value: 100}},
		{Health{Value: 300}},
		{Position{X: 5, Y: 5}, Health{Value: 250}},
		{Position{X: 7, Y: 0}, Velocity{X: 1}},
		{Health{Value: 10}, Velocity{X: 2}},
	}
	for _, components := range spawn {
		_, err := w.Spawn(components...)
		require.NoError(t, err)
	}
	return w
}

func TestSearch_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		params  ecs.SearchParam
		wantErr bool
	}{
		{
			name:    "empty component list",
			params:  ecs.SearchParam{Find: []string{}, Match: ecs.MatchExact},
			wantErr: true,
		},
		{
			name:    "invalid match type",
			params:  ecs.SearchParam{Find: []string{"position"}, Match: "invalid"},
			wantErr: true,
		},
		{
			name:    "unregistered component",
			params:  ecs.SearchParam{Find: []string{"unregistered"}, Match: ecs.MatchExact},
			wantErr: true,
		},
		{
			name:    "invalid where clause syntax",
			params:  ecs.SearchParam{Find: []string{"health"}, Match: ecs.MatchExact, Where: "health.Value >"},
			wantErr: true,
		},
		{
			name:    "negative limit",
			params:  ecs.SearchParam{Find: []string{"health"}, Match: ecs.MatchExact, Limit: -1},
			wantErr: true,
		},
		{
			name:    "where clause that isn't a bool",
			params:  ecs.SearchParam{Find: []string{"health"}, Match: ecs.MatchExact, Where: "health.Value"},
			wantErr: true,
		},
		{
			name:   "valid params",
			params: ecs.SearchParam{Find: []string{"position"}, Match: ecs.MatchExact, Where: "position.X > 0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := newSearchWorld(t)
			_, err := w.Search(tt.params)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestSearch_FindAndMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		params    ecs.SearchParam
		wantCount int
	}{
		{
			name:      "exact position",
			params:    ecs.SearchParam{Find: []string{"position"}, Match: ecs.MatchExact},
			wantCount: 2,
		},
		{
			name:      "contains position",
			params:    ecs.SearchParam{Find: []string{"position"}, Match: ecs.MatchContains},
			wantCount: 4,
		},
		{
			name:      "exact position and health",
			params:    ecs.SearchParam{Find: []string{"health", "position"}, Match: ecs.MatchExact},
			wantCount: 1,
		},
		{
			name:      "contains health",
			params:    ecs.SearchParam{Find: []string{"health"}, Match: ecs.MatchContains},
			wantCount: 4,
		},
		{
			name:      "limit",
			params:    ecs.SearchParam{Find: []string{"health"}, Match: ecs.MatchContains, Limit: 3},
			wantCount: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := newSearchWorld(t)
			results, err := w.Search(tt.params)
			require.NoError(t, err)
			assert.Len(t, results, tt.wantCount)
			for _, result := range results {
				assert.Contains(t, result, "_id")
				assert.Contains(t, result, "_gen")
				for _, name := range tt.params.Find {
					assert.Contains(t, result, name)
				}
			}
		})
	}
}

func TestSearch_Where(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		params    ecs.SearchParam
		wantCount int
	}{
		{
			name:      "field comparison",
			params:    ecs.SearchParam{Find: []string{"health"}, Match: ecs.MatchContains, Where: "health.Value > 200"},
			wantCount: 2,
		},
		{
			name: "combined fields",
			params: ecs.SearchParam{
				Find:  []string{"position"},
				Match: ecs.MatchContains,
				Where: "position.X > 0 && position.Y > 0",
			},
			wantCount: 2,
		},
		{
			name:      "entity id",
			params:    ecs.SearchParam{Find: []string{"position"}, Match: ecs.MatchExact, Where: "_id == 1"},
			wantCount: 1,
		},
		{
			name:      "nothing matches",
			params:    ecs.SearchParam{Find: []string{"health"}, Match: ecs.MatchExact, Where: "health.Value < 0"},
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := newSearchWorld(t)
			results, err := w.Search(tt.params)
			require.NoError(t, err)
			assert.Len(t, results, tt.wantCount)
		})
	}
}
