package room

import (
	"context"

	"github.com/watchroom/sync-server/internal/v1/timesync"
	"github.com/watchroom/sync-server/internal/v1/types"
)

// participant is owned exclusively by the Room actor goroutine that holds
// it; every field is read and written only from inside Room.run, so no
// synchronization is needed here: fields are only ever touched by the
// Room's own goroutine.
type participant struct {
	userID      types.UserID
	cookie      string
	displayName string
	avatar      types.BadgeID
	badges      []types.BadgeID

	duration     float32
	durationTime timesync.ClientTime
	state        types.PlayState
	stateTime    timesync.ClientTime
	buffered     float32

	mapping  *timesync.TimeMapping
	lastPing *timesync.ServerTime

	transport types.Transport

	// cancelPing stops this participant's Ping Driver goroutine. Invoked
	// on Goodbye (explicit or synthesized) and on a replacing Hello.
	cancelPing context.CancelFunc
}
