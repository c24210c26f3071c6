// Package persistence provides the storage backends for flows and their
// graphs: in-memory, SQLite, Postgres, Redis and MongoDB. Every backend
// implements both api.FlowStore and api.GraphStore.
package persistence

import (
	"github.com/petrijr/flowpick/pkg/api"
)

// Short aliases for the sentinel errors every backend returns.
var (
	ErrFlowNotFound       = api.ErrFlowNotFound
	ErrStateNotFound      = api.ErrStateNotFound
	ErrTransitionNotFound = api.ErrTransitionNotFound
)
