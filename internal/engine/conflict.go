package engine

import (
	"errors"
	"fmt"
	"log"

	"github.com/journalbridge/journalbridge/internal/store"
)

// Resolution is the user's binary choice for a flagged conflict.
type Resolution string

const (
	ResolutionUseLocal  Resolution = "use_local"
	ResolutionUseRemote Resolution = "use_remote"
)

// IsValid returns true if the resolution is a known value.
func (r Resolution) IsValid() bool {
	return r == ResolutionUseLocal || r == ResolutionUseRemote
}

// Resolver applies user-driven conflict resolutions. Both operations are
// transactional against local storage; use-local additionally schedules an
// outbound push so the local version overwrites the remote one.
type Resolver struct {
	store *store.Store
	// schedulePush queues an entry for an outbound push after a use-local
	// resolution. Wired to the scheduler at startup; nil in tests that
	// only exercise storage semantics.
	schedulePush func(entryID string)
}

// NewResolver creates a conflict resolver.
func NewResolver(st *store.Store, schedulePush func(entryID string)) *Resolver {
	return &Resolver{store: st, schedulePush: schedulePush}
}

// Resolve applies a resolution to a conflicted entry. Returns
// store.ErrNoConflict if the entry has no flagged conflict and
// store.ErrNotFound if it does not exist.
func (r *Resolver) Resolve(entryID string, resolution Resolution) error {
	switch resolution {
	case ResolutionUseLocal:
		if err := r.store.ResolveConflictUseLocal(entryID); err != nil {
			return r.wrap(err)
		}
		log.Printf("Conflict on entry %s resolved keeping local version", entryID)
		if r.schedulePush != nil {
			r.schedulePush(entryID)
		}
		return nil

	case ResolutionUseRemote:
		if err := r.store.ResolveConflictUseRemote(entryID); err != nil {
			return r.wrap(err)
		}
		log.Printf("Conflict on entry %s resolved keeping remote version", entryID)
		return nil

	default:
		return fmt.Errorf("invalid resolution %q", resolution)
	}
}

func (r *Resolver) wrap(err error) error {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNoConflict) {
		return err
	}
	return classifyStore(err)
}
