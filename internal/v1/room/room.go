// Package room implements the engine's central state machine: a single-writer actor that admits and evicts participants, fans out
// play/pause/seek commands with source exclusion, reconciles each
// participant's reported playback time into a server-relative clock, and
// broadcasts the aggregated room view.
package room

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/watchroom/sync-server/internal/v1/badge"
	"github.com/watchroom/sync-server/internal/v1/logging"
	"github.com/watchroom/sync-server/internal/v1/metrics"
	"github.com/watchroom/sync-server/internal/v1/ping"
	"github.com/watchroom/sync-server/internal/v1/timesync"
	"github.com/watchroom/sync-server/internal/v1/types"
	"github.com/watchroom/sync-server/internal/v1/wire"
)

// DefaultPingInterval is how often the Ping Driver pings an idle
// participant when no Option overrides it (~5s).
const DefaultPingInterval = 5 * time.Second

// ClientMessage is the principal inbound message: a decoded UserMessage
// stamped with the server's reception time and bound to the sender's
// identity. Transport is set by the caller (the
// transport package) on Hello so the Room never imports transport types
// directly.
type ClientMessage struct {
	From       types.UserID
	Cookie     string
	ServerTime timesync.ServerTime
	Message    wire.UserMessage
	Transport  types.Transport
}

type getUserIDReq struct {
	cookie string
	reply  chan types.UserID
}

type getRoomMetaReq struct {
	reply chan types.RoomMeta
}

type sendPingReq struct {
	userID types.UserID
}

type clientMessageReq struct {
	msg ClientMessage
}

type relayedReq struct {
	data []byte
}

type isEmptyReq struct {
	reply chan bool
}

// Room is the per-room state machine. Construct with New; start its actor
// loop with Run (typically `go room.Run(ctx)`); stop it by cancelling ctx
// and waiting on Done.
type Room struct {
	code types.RoomCode
	name string

	stream *types.MediaStream

	roomState   types.PlayState
	stateSet    timesync.ServerTime
	positionSet timesync.ServerTime
	duration    float32

	freeUserID uint32
	cookies    map[string]types.UserID
	order      []types.UserID
	byID       map[types.UserID]*participant

	inbox chan any

	bus          types.BusService
	instanceID   string
	pingInterval time.Duration

	wg   sync.WaitGroup
	done chan struct{}
}

// Option configures a Room at construction time.
type Option func(*Room)

// WithBus attaches a cross-instance relay for multi-process deployment.
func WithBus(bus types.BusService, instanceID string) Option {
	return func(r *Room) {
		r.bus = bus
		r.instanceID = instanceID
	}
}

// WithPingInterval overrides DefaultPingInterval.
func WithPingInterval(d time.Duration) Option {
	return func(r *Room) { r.pingInterval = d }
}

// New constructs a Room. code is the registry key; name and stream are the
// initial values: a Room is created with a name and an optional
// MediaStream.
func New(code types.RoomCode, name string, stream *types.MediaStream, opts ...Option) *Room {
	now := timesync.Now()
	r := &Room{
		code:         code,
		name:         name,
		stream:       stream,
		roomState:    types.PlayStatePause,
		stateSet:     now,
		positionSet:  now,
		cookies:      make(map[string]types.UserID),
		byID:         make(map[types.UserID]*participant),
		inbox:        make(chan any, 256),
		done:         make(chan struct{}),
		pingInterval: DefaultPingInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Code returns the room's registry key.
func (r *Room) Code() types.RoomCode { return r.code }

// Run drains the inbox until ctx is cancelled. Exactly one goroutine per
// Room should call Run; every exported method below delivers to the inbox
// rather than touching Room fields directly, which is what lets Run treat
// message handling as single-threaded and lock-free.
func (r *Room) Run(ctx context.Context) {
	defer close(r.done)

	if r.bus != nil {
		r.bus.Subscribe(ctx, r.code, r.instanceID, func(data []byte) {
			select {
			case r.inbox <- relayedReq{data: data}:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return
		case m := <-r.inbox:
			r.handle(ctx, m)
		}
	}
}

// Done is closed once Run has returned and all participant Ping Drivers
// spawned by this Room have been cancelled.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) shutdown() {
	for _, p := range r.byID {
		if p.cancelPing != nil {
			p.cancelPing()
		}
	}
	r.wg.Wait()
}

func (r *Room) handle(ctx context.Context, raw any) {
	switch m := raw.(type) {
	case getUserIDReq:
		m.reply <- r.getUserID(m.cookie)
	case getRoomMetaReq:
		m.reply <- r.getRoomMeta()
	case sendPingReq:
		r.handleSendPing(m.userID)
	case clientMessageReq:
		r.handleClientMessage(ctx, m.msg)
	case relayedReq:
		r.handleRelayed(m.data)
	case isEmptyReq:
		m.reply <- len(r.byID) == 0
	default:
		logging.Warn(ctx, "room received unrecognized inbox message", zap.String("room_code", string(r.code)))
	}
}

// --- Public, blocking-or-fire-and-forget entry points ---

// GetUserID implements the cookie-to-UserID rule: the first connection with
// a given cookie allocates a fresh UserID; subsequent connections with the
// same cookie get the same one. Never fails.
func (r *Room) GetUserID(ctx context.Context, cookie string) types.UserID {
	reply := make(chan types.UserID, 1)
	select {
	case r.inbox <- getUserIDReq{cookie: cookie, reply: reply}:
	case <-ctx.Done():
		return 0
	}
	select {
	case id := <-reply:
		return id
	case <-ctx.Done():
		return 0
	}
}

// GetRoomMeta returns (room name, stream metadata) or RoomMeta{Present:
// false} if there is no current stream.
func (r *Room) GetRoomMeta(ctx context.Context) types.RoomMeta {
	reply := make(chan types.RoomMeta, 1)
	select {
	case r.inbox <- getRoomMetaReq{reply: reply}:
	case <-ctx.Done():
		return types.RoomMeta{}
	}
	select {
	case meta := <-reply:
		return meta
	case <-ctx.Done():
		return types.RoomMeta{}
	}
}

// IsEmpty reports whether the Room currently has no participants. Used by
// the registry's cleanup timer to decide whether an idle room is safe to
// tear down.
func (r *Room) IsEmpty(ctx context.Context) bool {
	reply := make(chan bool, 1)
	select {
	case r.inbox <- isEmptyReq{reply: reply}:
	case <-ctx.Done():
		return false
	}
	select {
	case empty := <-reply:
		return empty
	case <-ctx.Done():
		return false
	}
}

// SendPing instructs the Room to emit a Ping to the given participant.
// Fire-and-forget.
func (r *Room) SendPing(ctx context.Context, userID types.UserID) {
	select {
	case r.inbox <- sendPingReq{userID: userID}:
	case <-ctx.Done():
	}
}

// Deliver enqueues a ClientMessage for processing. Fire-and-forget from the caller's perspective; ordering from a
// single Transport is preserved because Go channels preserve per-sender
// send order.
func (r *Room) Deliver(ctx context.Context, msg ClientMessage) {
	select {
	case r.inbox <- clientMessageReq{msg: msg}:
	case <-ctx.Done():
	}
}

// --- Inbox handlers (run only on the Room's own goroutine) ---

func (r *Room) getUserID(cookie string) types.UserID {
	if id, ok := r.cookies[cookie]; ok {
		return id
	}
	id := types.UserID(r.freeUserID)
	r.freeUserID++
	r.cookies[cookie] = id
	return id
}

func (r *Room) getRoomMeta() types.RoomMeta {
	if r.stream == nil {
		return types.RoomMeta{Present: false}
	}
	return types.RoomMeta{Name: r.name, Metadata: r.stream.Metadata, Present: true}
}

func (r *Room) handleSendPing(userID types.UserID) {
	p, ok := r.byID[userID]
	if !ok {
		logging.Warn(context.Background(), "SendPing for unknown participant",
			zap.String("room_code", string(r.code)), zap.Uint32("user_id", uint32(userID)))
		return
	}
	now := timesync.Now()
	p.lastPing = &now
	metrics.PingsSentTotal.Inc()
	r.sendTo(p, wire.PingMsg{})
}

func (r *Room) handleClientMessage(ctx context.Context, cm ClientMessage) {
	switch {
	case cm.Message.Hello != nil:
		r.handleHello(ctx, cm)
	case cm.Message.Goodbye != nil:
		r.handleGoodbye(cm.From)
	case cm.Message.State != nil:
		r.handlePong(cm)
	case cm.Message.Seek != nil:
		r.handleSeek(cm)
	case cm.Message.SetState != nil:
		r.handleSetState(cm)
	default:
		// Buffering, Message (chat), and any unrecognized variant: accept
		// and ignore.
	}
}

func (r *Room) handleHello(ctx context.Context, cm ClientMessage) {
	hello := cm.Message.Hello

	// A Hello for a UserID already present replaces the existing
	// participant atomically: no ByeParticipant is broadcast for this
	// internal replacement.
	if existing, ok := r.byID[cm.From]; ok {
		if existing.cancelPing != nil {
			existing.cancelPing()
		}
		r.removeParticipant(cm.From)
	}

	badges := badge.ForJoin(cm.From, hello.Name)
	p := &participant{
		userID:      cm.From,
		cookie:      cm.Cookie,
		displayName: hello.Name,
		avatar:      hello.Avatar,
		badges:      badges,
		state:       types.PlayStatePause,
		transport:   cm.Transport,
	}

	// Announce to existing participants (not the newcomer) before the
	// newcomer is added to the room's own list.
	r.broadcastExcept(wire.NewParticipantMsg{UserID: p.userID, Name: p.displayName, Avatar: p.avatar, Badges: p.badges}, 0, false)

	// Build the newcomer's RoomState including themselves, per the
	// join-empty-room scenario, sent before the
	// newcomer is appended to the room's own participant list.
	infos := make([]wire.ParticipantInfo, 0, len(r.order)+1)
	for _, id := range r.order {
		existing := r.byID[id]
		infos = append(infos, wire.ParticipantInfo{UserID: existing.userID, Name: existing.displayName, Avatar: existing.avatar, Badges: existing.badges})
	}
	infos = append(infos, wire.ParticipantInfo{UserID: p.userID, Name: p.displayName, Avatar: p.avatar, Badges: p.badges})

	roomState := wire.RoomStateMsg{UserID: p.userID, Participants: infos, CurrentStream: r.currentStreamInfo()}
	r.sendTo(p, roomState)

	r.byID[p.userID] = p
	r.order = append(r.order, p.userID)
	metrics.RoomParticipants.WithLabelValues(string(r.code)).Set(float64(len(r.byID)))

	pctx, cancel := context.WithCancel(ctx)
	p.cancelPing = cancel
	userID := p.userID
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ping.Run(pctx, r.pingInterval, func() { r.SendPing(pctx, userID) })
	}()
}

func (r *Room) handleGoodbye(userID types.UserID) {
	p, ok := r.byID[userID]
	if !ok {
		return
	}
	if p.cancelPing != nil {
		p.cancelPing()
	}
	r.removeParticipant(userID)
	metrics.RoomParticipants.WithLabelValues(string(r.code)).Set(float64(len(r.byID)))
	r.broadcastExcept(wire.ByeParticipantMsg{UserID: userID}, 0, false)
}

func (r *Room) handleSeek(cm ClientMessage) {
	seek := cm.Message.Seek
	r.duration = seek.Duration

	if p, ok := r.byID[cm.From]; ok && p.mapping != nil {
		r.positionSet = p.mapping.Convert(timesync.ClientTimeFromWire(seek.Time))
	} else {
		logging.Warn(context.Background(), "Seek with no TimeMapping for sender", zap.Uint32("user_id", uint32(cm.From)))
	}

	r.broadcastExcept(wire.DoSeekMsg{User: cm.From, Duration: seek.Duration}, cm.From, true)
}

func (r *Room) handleSetState(cm ClientMessage) {
	set := cm.Message.SetState
	prev := r.stateSet
	r.roomState = set.State

	if p, ok := r.byID[cm.From]; ok && p.mapping != nil {
		r.stateSet = p.mapping.Convert(timesync.ClientTimeFromWire(set.Time))
		if set.State == types.PlayStatePause {
			elapsed := r.stateSet.Sub(prev)
			r.positionSet = timesync.Now()
			r.duration += float32(elapsed.Seconds())
		}
	} else {
		logging.Warn(context.Background(), "SetState with no TimeMapping for sender", zap.Uint32("user_id", uint32(cm.From)))
	}

	r.broadcastExcept(wire.SetStateEventMsg{User: cm.From, State: set.State}, cm.From, true)
}

func (r *Room) handlePong(cm ClientMessage) {
	state := cm.Message.State
	p, ok := r.byID[cm.From]
	if !ok {
		logging.Warn(context.Background(), "State (pong) from unknown participant", zap.Uint32("user_id", uint32(cm.From)))
		return
	}

	p.duration = state.Duration
	p.durationTime = timesync.ClientTimeFromWire(state.DurationTime)
	p.state = state.State
	p.stateTime = timesync.ClientTimeFromWire(state.StateTime)
	p.buffered = state.Buffered

	if p.lastPing != nil {
		mapping := timesync.NewMapping(*p.lastPing, cm.ServerTime, timesync.ClientTimeFromWire(state.Time))
		p.mapping = &mapping
		metrics.MappingRefreshesTotal.Inc()
	} else {
		logging.Warn(context.Background(), "pong received with no outstanding ping", zap.Uint32("user_id", uint32(cm.From)))
	}

	r.broadcastRoomUpdate()
}

func (r *Room) handleRelayed(data []byte) {
	// A sibling instance already applied this event to its own local
	// participants; we only need to deliver the frame to ours. Relayed
	// frames are written raw to every local transport and never
	// re-published, which is what keeps the bus from echoing forever.
	for _, id := range r.order {
		p := r.byID[id]
		if p.transport != nil {
			p.transport.Send(data)
		}
	}
}

// --- Projections ---

func (r *Room) currentStreamInfo() *wire.StreamInfo {
	if r.stream == nil {
		return nil
	}
	now := timesync.Now()
	var position float32
	if r.roomState == types.PlayStatePause {
		position = r.duration + float32(r.stateSet.Sub(r.positionSet).Seconds())
	} else {
		position = r.duration + float32(now.Sub(r.stateSet).Seconds())
	}
	return &wire.StreamInfo{
		Slug:     r.stream.Slug,
		Name:     r.stream.DisplayName,
		Streams:  r.stream.Streams,
		Duration: position,
		State:    r.roomState,
	}
}

func (r *Room) projectedPosition(p *participant, now timesync.ServerTime) (float32, bool) {
	if p.mapping == nil {
		return 0, false
	}
	if p.state == types.PlayStatePause {
		return p.duration, true
	}
	anchor := p.mapping.Convert(p.durationTime)
	elapsed := now.Sub(anchor)
	return p.duration + float32(elapsed.Seconds()), true
}

func (r *Room) broadcastRoomUpdate() {
	now := timesync.Now()
	updates := make([]wire.ParticipantUpdate, 0, len(r.order))
	for _, id := range r.order {
		p := r.byID[id]
		pos, ok := r.projectedPosition(p, now)
		if !ok {
			continue
		}
		updates = append(updates, wire.ParticipantUpdate{
			UserID:   p.userID,
			Duration: pos,
			Buffered: p.buffered,
			State:    p.state,
			Badges:   p.badges,
		})
	}
	r.broadcastExcept(wire.RoomUpdateMsg{Participants: updates}, 0, false)
}

// --- Fan-out plumbing ---

// broadcastExcept sends msg to every participant, optionally skipping
// excludeID when exclude is true (source exclusion for Seek/SetState).
func (r *Room) broadcastExcept(msg wire.ToSessionMessage, excludeID types.UserID, exclude bool) {
	for _, id := range r.order {
		if exclude && id == excludeID {
			continue
		}
		r.sendTo(r.byID[id], msg)
	}
	r.publishToBus(msg)
}

func (r *Room) sendTo(p *participant, msg wire.ToSessionMessage) {
	if p == nil || p.transport == nil {
		return
	}
	data, err := wire.Marshal(msg)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound message", zap.String("room_code", string(r.code)))
		return
	}
	p.transport.Send(data)
}

func (r *Room) publishToBus(msg wire.ToSessionMessage) {
	if r.bus == nil {
		return
	}
	data, err := wire.Marshal(msg)
	if err != nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.bus.Publish(context.Background(), r.code, r.instanceID, data); err != nil {
			logging.Warn(context.Background(), "bus publish failed",
				zap.String("room_code", string(r.code)), zap.Error(err))
		}
	}()
}

func (r *Room) removeParticipant(userID types.UserID) {
	delete(r.byID, userID)
	for i, id := range r.order {
		if id == userID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
