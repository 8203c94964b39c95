package ecs

import "github.com/rotisserie/eris"

var (
	// ErrStaleEntity is returned when operating on an entity that was destroyed or whose generation
	// no longer matches its slot.
	ErrStaleEntity = eris.New("stale entity")

	// ErrUnregisteredComponentType is returned when a component type or ID was never registered.
	ErrUnregisteredComponentType = eris.New("unregistered component type")

	// ErrAccessViolation is raised when a job touches a component type it did not declare.
	ErrAccessViolation = eris.New("access violation")

	// ErrConcurrentStructuralChange is returned when a structural change is attempted during a query
	// iteration or while a job depends on the affected archetype.
	ErrConcurrentStructuralChange = eris.New("concurrent structural change")

	ErrComponentNotFound = eris.New("entity does not have component")
	ErrComponentExists   = eris.New("entity already has component")
)
