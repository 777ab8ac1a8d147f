// Package vmfleet holds the shared domain types for the fleet convergence
// engine: desired machine specs, observed resources, and runtime states.
//
// The engine itself lives in fleet; the planning, state, and ownership
// components live under internal.
package vmfleet
