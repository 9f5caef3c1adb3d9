package indexing

import "github.com/ledgerwatch/coreindex/subspace"

// LeaderboardMaintainer is the "leaderboard" index kind, which spec §4.3
// leaves opaque beyond the maintainer contract. In practice a leaderboard
// is a rank index read through a friendlier name — highest score first,
// ties broken the same documented way (SPEC_FULL.md's descending-PK
// decision) — so it is implemented as a thin alias over RankMaintainer
// rather than a second score-ordering implementation.
type LeaderboardMaintainer = RankMaintainer

// NewLeaderboardMaintainer constructs a leaderboard over field, rooted at
// sub.
func NewLeaderboardMaintainer(name, field string, sub subspace.Subspace, sparse bool) *LeaderboardMaintainer {
	return &RankMaintainer{Name: name, Field: field, Sub: sub, Sparse: sparse}
}
