// Package economy implements the coin ledger and shop for a community.
//
// Balances are owned by the persistent store: every mutation is a single
// guarded statement, so concurrent credits and debits for the same member
// serialize at the store and the balance can never go negative. Expected
// business outcomes (insufficient funds) are returned as values, never as
// errors.
package economy
