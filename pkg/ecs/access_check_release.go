//go:build release

package ecs

const accessChecks = false
