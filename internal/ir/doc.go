// Package ir provides the record and action types shared by every layer of
// the retro sync client.
//
// This package contains type definitions and encoding only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Users and ideas are open attribute records (Object) so merge-updates
//     can preserve attributes the server never sent
//   - Entity ids are always Int
//   - Objects reachable from a store are never mutated in place
//   - All JSON tags use snake_case
package ir
