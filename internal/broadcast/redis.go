package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"liveclass/pkg/types"
)

// channelPrefix namespaces the pub/sub channels, one channel per session.
const channelPrefix = "liveclass.session."

// Deliverer hands a mirrored event to local recipients. Implemented by
// *Router.
type Deliverer interface {
	Deliver(sessionID, scope string, event *types.Event)
}

// envelope is the cross-node wire format. The event itself travels as JSON
// so a re-delivered payload keeps the exact field names clients expect; the
// outer framing is msgpack.
type envelope struct {
	NodeID    string `msgpack:"node_id"`
	Scope     string `msgpack:"scope"`
	SessionID string `msgpack:"session_id"`
	Event     []byte `msgpack:"event"`
}

// RedisMirror replicates session broadcasts across nodes via redis pub/sub.
// Every node publishes to liveclass.session.<id> and subscribes to the
// pattern; envelopes stamped with the node's own ID are dropped on receipt
// since the local push already delivered them.
type RedisMirror struct {
	client    *redis.Client
	deliverer Deliverer
	nodeID    string
	outbound  chan outboundEnvelope
	cancel    context.CancelFunc
	done      chan struct{}
	pubDone   chan struct{}
}

type outboundEnvelope struct {
	channel string
	payload []byte
}

// NewRedisMirror starts the pattern subscription and returns the mirror.
// The deliverer may be attached after construction but before Forward is
// first called.
func NewRedisMirror(ctx context.Context, client *redis.Client, deliverer Deliverer) (*RedisMirror, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis unreachable: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m := &RedisMirror{
		client:    client,
		deliverer: deliverer,
		nodeID:    uuid.New().String(),
		outbound:  make(chan outboundEnvelope, 256),
		cancel:    cancel,
		done:      make(chan struct{}),
		pubDone:   make(chan struct{}),
	}

	pubsub := client.PSubscribe(ctx, channelPrefix+"*")
	go m.readLoop(ctx, pubsub)
	go m.publishLoop(ctx)

	log.Printf("Redis mirror started: node=%s", m.nodeID)
	return m, nil
}

// SetDeliverer wires the local delivery target. Must happen before any
// mirrored traffic is expected.
func (m *RedisMirror) SetDeliverer(d Deliverer) {
	m.deliverer = d
}

// Forward queues the event envelope for publication on the session's
// channel. Forward is called from inside session critical sections, so it
// never touches the network itself; a full queue drops the envelope, which
// is acceptable for a best-effort mirror backed by reconstructible state.
func (m *RedisMirror) Forward(sessionID, scope string, event *types.Event) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	payload, err := msgpack.Marshal(&envelope{
		NodeID:    m.nodeID,
		Scope:     scope,
		SessionID: sessionID,
		Event:     eventJSON,
	})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	select {
	case m.outbound <- outboundEnvelope{channel: channelPrefix + sessionID, payload: payload}:
		return nil
	default:
		return ErrMirrorBacklogged
	}
}

// Close stops the subscription and publication loops.
func (m *RedisMirror) Close() error {
	m.cancel()
	<-m.done
	<-m.pubDone
	return nil
}

// publishLoop drains the outbound queue on a single goroutine, preserving
// the order Forward was called in.
func (m *RedisMirror) publishLoop(ctx context.Context) {
	defer close(m.pubDone)
	for {
		select {
		case env := <-m.outbound:
			if err := m.client.Publish(ctx, env.channel, env.payload).Err(); err != nil {
				log.Printf("Redis publish failed on %s: %v", env.channel, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *RedisMirror) readLoop(ctx context.Context, pubsub *redis.PubSub) {
	defer close(m.done)
	defer func() {
		if err := pubsub.Close(); err != nil {
			log.Printf("Redis pubsub close error: %v", err)
		}
	}()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			m.handle(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (m *RedisMirror) handle(msg *redis.Message) {
	var env envelope
	if err := msgpack.Unmarshal([]byte(msg.Payload), &env); err != nil {
		log.Printf("Dropping undecodable envelope on %s: %v", msg.Channel, err)
		return
	}
	if env.NodeID == m.nodeID {
		return
	}
	// The channel name is authoritative for the session in case the
	// envelope and channel ever disagree.
	sessionID := strings.TrimPrefix(msg.Channel, channelPrefix)
	if env.SessionID != "" {
		sessionID = env.SessionID
	}

	var event types.Event
	if err := json.Unmarshal(env.Event, &event); err != nil {
		log.Printf("Dropping undecodable event on %s: %v", msg.Channel, err)
		return
	}
	if m.deliverer != nil {
		m.deliverer.Deliver(sessionID, env.Scope, &event)
	}
}
