// Package timesync implements the engine's two-axis time model: ServerTime
// and ClientTime are disjoint wrapper types that cannot be mixed
// arithmetically. The only bridge between them is a TimeMapping, captured
// fresh on every ping/pong cycle.
package timesync

import "time"

// ServerTime is an absolute instant expressed in the server's own clock.
type ServerTime struct {
	t time.Time
}

// ClientTime is an absolute instant as claimed by a client's clock. It is
// not comparable to ServerTime except through a TimeMapping.
type ClientTime struct {
	t time.Time
}

// Now returns the current instant as a ServerTime.
func Now() ServerTime {
	return ServerTime{t: time.Now()}
}

// ServerTimeFromInstant wraps an arbitrary time.Time as a ServerTime. Used
// where the caller already has a concrete instant (e.g. a message's
// recorded arrival time).
func ServerTimeFromInstant(t time.Time) ServerTime {
	return ServerTime{t: t}
}

// WireTime is milliseconds since the Unix epoch, as sent over the wire by a
// client (§6.1 "Time semantics").
type WireTime int64

// ClientTimeFromWire converts a raw wire timestamp into a ClientTime using
// the conversion rule in §6.1: seconds = floor(t/1000), nanos = (t mod
// 1000) * 1e6.
func ClientTimeFromWire(t WireTime) ClientTime {
	seconds := t / 1000
	millisRemainder := t % 1000
	if millisRemainder < 0 {
		// floor division/modulo for negative t: Go's % truncates toward
		// zero, so correct both seconds and remainder to match floor().
		millisRemainder += 1000
		seconds--
	}
	return ClientTime{t: time.Unix(int64(seconds), int64(millisRemainder)*int64(time.Millisecond))}
}

// Add returns the ServerTime offset by d.
func (s ServerTime) Add(d time.Duration) ServerTime {
	return ServerTime{t: s.t.Add(d)}
}

// Sub returns the duration elapsed from other to s (s - other).
func (s ServerTime) Sub(other ServerTime) time.Duration {
	return s.t.Sub(other.t)
}

// Before reports whether s occurs before other.
func (s ServerTime) Before(other ServerTime) bool {
	return s.t.Before(other.t)
}

// IsZero reports whether s is the zero ServerTime.
func (s ServerTime) IsZero() bool {
	return s.t.IsZero()
}

// Instant exposes the underlying time.Time, for code (metrics, logging)
// that legitimately needs a concrete instant rather than a tagged one.
func (s ServerTime) Instant() time.Time {
	return s.t
}

// Add returns the ClientTime offset by d.
func (c ClientTime) Add(d time.Duration) ClientTime {
	return ClientTime{t: c.t.Add(d)}
}

// Sub returns the duration elapsed from other to c (c - other).
func (c ClientTime) Sub(other ClientTime) time.Duration {
	return c.t.Sub(other.t)
}

// TimeMapping is the triple (requested_time, server_time, client_time)
// captured at the moment the server received a participant's reply to its
// last ping (§3). It converts any future ClientTime into ServerTime via
// Convert. A TimeMapping is always used with its owning participant;
// applying one participant's mapping to another's ClientTime is a
// programming error the type system does not prevent, by design (the
// mapping itself carries no participant identity — callers are responsible
// for associating it correctly, same as the source this was modeled on).
type TimeMapping struct {
	RequestedTime ServerTime
	ServerTime    ServerTime
	ClientTime    ClientTime
}

// NewMapping builds a TimeMapping from a ping's request time, the instant
// its pong was received, and the client-claimed instant the pong was sent.
func NewMapping(requested, server ServerTime, client ClientTime) TimeMapping {
	return TimeMapping{RequestedTime: requested, ServerTime: server, ClientTime: client}
}

// Convert maps a ClientTime into ServerTime: s = server_time + (c -
// client_time). Negative deltas are passed through unclamped — the mapping
// is designed to already absorb clock skew that exceeds a round trip
// (§4.2).
func (m TimeMapping) Convert(c ClientTime) ServerTime {
	delta := c.Sub(m.ClientTime)
	return m.ServerTime.Add(delta)
}
