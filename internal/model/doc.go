// Package model defines the domain types shared across the feeder:
// tradable symbols, normalized price points, and market status snapshots.
//
// Prices use shopspring/decimal so that change computations are exact and
// a missing previous close stays missing instead of collapsing to zero.
package model
