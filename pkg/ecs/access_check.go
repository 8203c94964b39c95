//go:build !release

package ecs

// accessChecks enables the declared-access checks in ReadColumn and WriteColumn.
const accessChecks = true
