// Package api defines the public types of flowpick: the Flow/State/
// Transition data model, the Criteria accumulator, the store interfaces a
// backend implements, and the Engine interface external callers use.
//
// Most applications import the root flowpick package instead, which
// re-exports everything here and provides per-backend constructors.
package api
