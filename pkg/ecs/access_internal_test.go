package ecs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccess_Sets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		access   Access
		touched  []ComponentID
		writes   []ComponentID
		readOnly []ComponentID
	}{
		{
			name:     "empty",
			access:   Access{},
			touched:  []ComponentID{},
			writes:   []ComponentID{},
			readOnly: []ComponentID{},
		},
		{
			name:     "read only",
			access:   Access{}.Read(2, 0),
			touched:  []ComponentID{0, 2},
			writes:   []ComponentID{},
			readOnly: []ComponentID{0, 2},
		},
		{
			name:     "write only",
			access:   Access{}.Write(1),
			touched:  []ComponentID{1},
			writes:   []ComponentID{1},
			readOnly: []ComponentID{},
		},
		{
			name:     "mixed",
			access:   Access{}.Read(0, 1).Write(1, 70),
			touched:  []ComponentID{0, 1, 70},
			writes:   []ComponentID{1, 70},
			readOnly: []ComponentID{0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.touched, tt.access.touched())
			assert.Equal(t, tt.writes, tt.access.writes())
			assert.Equal(t, tt.readOnly, tt.access.readOnly())
		})
	}
}

func TestAccess_Conflicts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		a, b     Access
		conflict bool
	}{
		{name: "both empty", a: Access{}, b: Access{}},
		{name: "empty and writer", a: Access{}, b: Access{}.Write(0)},
		{name: "readers", a: Access{}.Read(0, 1), b: Access{}.Read(1)},
		{name: "reader and writer", a: Access{}.Read(0), b: Access{}.Write(0), conflict: true},
		{name: "writers", a: Access{}.Write(3), b: Access{}.Write(3), conflict: true},
		{name: "disjoint writers", a: Access{}.Write(3), b: Access{}.Write(4)},
		{name: "far apart ids", a: Access{}.Read(1), b: Access{}.Write(200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			// Property: conflicts are symmetric.
			assert.Equal(t, tt.conflict, tt.a.Conflicts(tt.b))
			assert.Equal(t, tt.conflict, tt.b.Conflicts(tt.a))
		})
	}
}
