// Package engine is the serial dispatch path of the retro sync client.
//
// Every state change (bootstrap, presence sync, mutation settlement, peer
// broadcast) becomes an Event on a FIFO queue. One goroutine drains the
// queue and folds each event into a new immutable State, so reducers and
// presence synchronization never run concurrently.
//
// Event processing:
//  1. Enqueue from any goroutine (transport handlers, coordinator)
//  2. Run (or Drain) dequeues one event at a time
//  3. Presence payloads pass through the Synchronizer and become
//     SET_PRESENCES / SYNC_PRESENCE_DIFF actions
//  4. The action is stamped with the next Clock seq and reduced into State
//  5. The action is journaled, then subscribers see the new State
//
// Unchanged slices keep their pointer identity across events, which is what
// the selectors memoize on.
package engine
