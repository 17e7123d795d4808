// Package canonical resolves record fields from imperfect signals and
// sanitizes text before persistence.
//
// Every resolver is an ordered fallback chain evaluated lazily: the first
// non-empty, non-generic result wins. Dates that land implausibly far in the
// future are treated as bad parses and the chain moves on.
package canonical
