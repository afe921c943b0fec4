// Package badge holds the static badge catalog. Badge IDs are burned into
// client templates and referenced by clients directly, so the catalog's
// order (and the numeric IDs below) MUST NOT be reordered.
package badge

import "github.com/watchroom/sync-server/internal/v1/types"

// Catalog is the compile-time, immutable badge table. Index values are not
// used for lookup (BadgeID is the lookup key via the constants below) but
// the slice itself is what a real client template would enumerate to
// render the badge picker, so its order is part of the interface.
var Catalog = []string{
	"none",          // 0 - placeholder, unused
	"viewer",        // 1
	"supporter",     // 2
	"contributor",   // 3
	"moderator",     // 4
	"verified",      // 5
	"early-adopter", // 6
	"beta-tester",   // 7
	"streak-7",      // 8
	"streak-30",     // 9
	"medal-bronze",  // 10
	"medal-silver",  // 11
	"medal-gold",    // 12
	"anniversary",   // 13
	"night-owl",     // 14
	"completionist", // 15
	"cinephile",     // 16
	"critic",        // 17
	"host",          // 18
	"founder",       // 19
	"rosette",       // 20
}

// Badge IDs awarded by rule on Hello.
const (
	MedalBronze types.BadgeID = 10
	MedalSilver types.BadgeID = 11
	MedalGold   types.BadgeID = 12
	Rosette     types.BadgeID = 20
)

// RosetteDisplayName is the single reserved display name that always
// receives the Rosette badge, regardless of join order.
const RosetteDisplayName = "the.admin"

// ForJoin returns the badges a participant earns at creation time, derived
// only from their UserID and display name: badges and avatar are chosen at
// creation and never change afterward.
func ForJoin(id types.UserID, displayName string) []types.BadgeID {
	var badges []types.BadgeID

	switch id {
	case 0:
		badges = append(badges, MedalGold)
	case 1:
		badges = append(badges, MedalSilver)
	case 2:
		badges = append(badges, MedalBronze)
	}

	if displayName == RosetteDisplayName {
		badges = append(badges, Rosette)
	}

	return badges
}
