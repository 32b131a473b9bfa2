// Package extract turns fetched pages into release items.
//
// Each site family contributes a Rule that knows how to read its listing
// pages and item pages. A Set binds the rules to the configured sources so
// that any identifier can be routed back to the source it came from without
// hard-coding site addresses.
package extract
