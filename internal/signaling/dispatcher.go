// Package signaling routes decoded socket events to the presence registry,
// the relay and the call machines.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulsechat-backend/internal/protocol"
	"pulsechat-backend/internal/service/call"
	"pulsechat-backend/internal/service/presence"
	"pulsechat-backend/internal/service/relay"
	"pulsechat-backend/pkg/logger"
	"pulsechat-backend/pkg/metrics"
)

// PresenceToucher refreshes a user's presence expiry on heartbeat
type PresenceToucher interface {
	Touch(ctx context.Context, userID uuid.UUID) error
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithMetrics records connection and event counts
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithPresenceToucher refreshes an external presence mirror on heartbeat
func WithPresenceToucher(t PresenceToucher) Option {
	return func(d *Dispatcher) { d.toucher = t }
}

// WithEndCallsOnDisconnect ends live 1:1 calls when a user goes offline
func WithEndCallsOnDisconnect(enabled bool) Option {
	return func(d *Dispatcher) { d.endCallsOnDisconnect = enabled }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// Dispatcher handles the life of every signaling connection. The identity
// used for all state changes is the connection's user id; ids inside
// payloads are never trusted.
type Dispatcher struct {
	registry *presence.Registry
	relay    *relay.Relay
	direct   *call.DirectMachine
	group    *call.GroupMachine

	toucher              PresenceToucher
	metrics              *metrics.Metrics
	endCallsOnDisconnect bool
	now                  func() time.Time
}

// NewDispatcher creates a Dispatcher and subscribes the online-list
// broadcast to the registry.
func NewDispatcher(
	registry *presence.Registry,
	r *relay.Relay,
	direct *call.DirectMachine,
	group *call.GroupMachine,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		relay:    r,
		direct:   direct,
		group:    group,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	registry.Subscribe(d.broadcastOnline)
	return d
}

// Connect registers conn for userID. Every connection, the new one
// included, receives the updated online list.
func (d *Dispatcher) Connect(conn presence.Conn, userID uuid.UUID) {
	d.registry.Register(userID, conn)
	d.metrics.SetWebSocketConnections(d.registry.ConnectionCount())

	logger.Info("Signaling connection opened",
		zap.String("user_id", userID.String()),
		zap.String("conn_id", conn.ConnID()))
}

// Disconnect removes conn. When it was the user's last connection the user
// leaves every running group call.
func (d *Dispatcher) Disconnect(ctx context.Context, conn presence.Conn, userID uuid.UUID) {
	offline := d.registry.Unregister(userID, conn)
	d.metrics.SetWebSocketConnections(d.registry.ConnectionCount())

	logger.Info("Signaling connection closed",
		zap.String("user_id", userID.String()),
		zap.String("conn_id", conn.ConnID()),
		zap.Bool("offline", offline))

	if !offline {
		return
	}

	defer d.recoverPanic("disconnect", userID)

	if left := d.group.HandleDisconnect(ctx, userID); left > 0 {
		logger.Debug("Left group calls on disconnect",
			zap.String("user_id", userID.String()),
			zap.Int("groups", left))
	}
	if d.endCallsOnDisconnect {
		d.direct.HandleDisconnect(ctx, userID)
	}
}

// Handle processes one inbound event. Malformed or unknown events are
// dropped; nothing is ever reported back to the sender.
func (d *Dispatcher) Handle(ctx context.Context, conn presence.Conn, userID uuid.UUID, env protocol.Envelope) {
	defer d.recoverPanic(env.Event, userID)

	err := d.route(ctx, conn, userID, env)
	if errors.Is(err, errUnknownEvent) {
		d.metrics.RecordEventReceived("unknown")
	} else {
		d.metrics.RecordEventReceived(env.Event)
	}
	if err != nil {
		logger.Debug("Dropping malformed signaling event",
			zap.String("event", env.Event),
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}

func (d *Dispatcher) route(ctx context.Context, conn presence.Conn, userID uuid.UUID, env protocol.Envelope) error {
	switch env.Event {
	case protocol.EventCallRequest:
		in, err := decode[protocol.CallRequest](env)
		if err != nil {
			return err
		}
		if c := d.direct.Request(ctx, userID, in); c != nil {
			d.relay.Reply(conn, protocol.EventCallCreated, protocol.CallCreated{
				CallID:   c.CallID,
				ToUserID: c.CalleeID,
				CallType: string(c.Type),
			})
		}

	case protocol.EventCallAccepted:
		in, err := decode[protocol.CallAnswer](env)
		if err != nil {
			return err
		}
		d.direct.Accept(ctx, userID, in)

	case protocol.EventCallDeclined:
		in, err := decode[protocol.CallTarget](env)
		if err != nil {
			return err
		}
		d.direct.Decline(ctx, userID, in)

	case protocol.EventCallEnd:
		in, err := decode[protocol.CallTarget](env)
		if err != nil {
			return err
		}
		d.direct.End(ctx, userID, in)

	case protocol.EventICECandidate:
		in, err := decode[protocol.ICECandidate](env)
		if err != nil {
			return err
		}
		if in.ToUserID == uuid.Nil {
			return errMissingTarget
		}
		d.relay.ToUser(in.ToUserID, env.Event, protocol.ICECandidateOut{
			FromUserID: userID,
			Candidate:  in.Candidate,
		})

	case protocol.EventGroupCallRequest:
		in, err := decode[protocol.GroupCallRequest](env)
		if err != nil {
			return err
		}
		d.group.Request(ctx, userID, in)

	case protocol.EventGroupCallAccepted:
		in, err := decode[protocol.GroupCallMember](env)
		if err != nil {
			return err
		}
		d.group.Accept(ctx, userID, in)

	case protocol.EventGroupCallDeclined:
		in, err := decode[protocol.GroupCallMember](env)
		if err != nil {
			return err
		}
		d.group.Decline(ctx, userID, in)

	case protocol.EventGroupCallLeft:
		in, err := decode[protocol.GroupCallMember](env)
		if err != nil {
			return err
		}
		d.group.Leave(ctx, userID, in)

	case protocol.EventGroupOffer, protocol.EventGroupAnswer, protocol.EventGroupICECandidate:
		in, err := decode[protocol.GroupPeerSignal](env)
		if err != nil {
			return err
		}
		if in.ToUserID == uuid.Nil {
			return errMissingTarget
		}
		d.relay.ToUser(in.ToUserID, env.Event, protocol.GroupPeerSignalOut{
			FromUserID: userID,
			GroupID:    in.GroupID,
			Offer:      in.Offer,
			Answer:     in.Answer,
			Candidate:  in.Candidate,
		})

	case protocol.EventChatTyping, protocol.EventChatStopTyping:
		in, err := decode[protocol.Typing](env)
		if err != nil {
			return err
		}
		if in.ToUserID == uuid.Nil {
			return errMissingTarget
		}
		d.relay.ToUser(in.ToUserID, env.Event, protocol.TypingOut{FromUserID: userID})

	case protocol.EventGroupTyping, protocol.EventGroupStopTyping:
		in, err := decode[protocol.Typing](env)
		if err != nil {
			return err
		}
		if in.GroupID == uuid.Nil {
			return errMissingTarget
		}
		groupID := in.GroupID
		if _, err := d.relay.ToGroup(ctx, groupID, userID, env.Event, protocol.TypingOut{
			FromUserID: userID,
			GroupID:    &groupID,
		}); err != nil {
			return err
		}

	case protocol.EventHeartbeat:
		d.relay.Reply(conn, protocol.EventHeartbeatAck, protocol.HeartbeatAck{T: d.now().UnixMilli()})
		if d.toucher != nil {
			if err := d.toucher.Touch(ctx, userID); err != nil {
				logger.Debug("Failed to refresh presence",
					zap.String("user_id", userID.String()),
					zap.Error(err))
			}
		}

	default:
		return errUnknownEvent
	}
	return nil
}

func (d *Dispatcher) broadcastOnline(online []uuid.UUID) {
	d.metrics.SetOnlineUsers(len(online))
	d.relay.Broadcast(protocol.EventOnlineUsers, online)
}

func (d *Dispatcher) recoverPanic(event string, userID uuid.UUID) {
	if r := recover(); r != nil {
		logger.Error("Panic while handling signaling event",
			zap.String("event", event),
			zap.String("user_id", userID.String()),
			zap.Any("panic", r))
	}
}

var (
	errUnknownEvent  = errors.New("unknown event")
	errMissingTarget = errors.New("missing target id")
	errMissingData   = errors.New("missing data")
)

func decode[T any](env protocol.Envelope) (T, error) {
	var v T
	if len(env.Data) == 0 {
		return v, errMissingData
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s: %w", env.Event, err)
	}
	return v, nil
}
