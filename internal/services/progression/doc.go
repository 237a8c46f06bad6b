// Package progression tracks per-member experience, levels and activity
// counters for a community.
//
// The stored level is a cached projection of experience through the level
// curve, recomputed on every write. Level-up rewards are paid through the
// economy ledger in a best-effort two-step cascade: the level write and the
// coin credit are separate atomic writes with no transaction spanning them,
// so a crash between the two loses the reward but never the level.
package progression
