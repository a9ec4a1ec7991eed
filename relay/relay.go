// Package relay shares one control surface between several server
// instances over Redis pub/sub. Every change applied on one instance is
// published on a channel; the other instances apply it and pass it on to
// their own clients.
//
// Changes are applied in the order they arrive, with no sequence numbers
// or tie-break between origins. Two instances changing the same control at
// the same moment may each keep the other's value. An instance that starts
// later does not fetch the current state from its peers; it only follows
// changes made from then on.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel used when none is configured.
const DefaultChannel = "controlsync"

const (
	KindUpdate     = "update"
	KindDefinition = "gui"
)

const publishQueue = 256

// Envelope wraps a change with the instance it came from.
type Envelope struct {
	Origin  string `json:"origin"`
	Kind    string `json:"kind"`
	Payload string `json:"payload"`
}

// Target applies changes received from other instances.
// *server.ControlServer implements it.
type Target interface {
	ApplyRemote(data []byte) error
	LoadRemote(text string) error
}

// Relay publishes local changes and applies remote ones. It implements
// server.Publisher.
type Relay struct {
	rdb     *redis.Client
	channel string
	origin  string
	out     chan Envelope
	logger  *slog.Logger
}

// New returns a Relay using rdb. Publishing starts once Run is called.
func New(rdb *redis.Client, channel string, logger *slog.Logger) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	origin := uuid.NewString()
	return &Relay{
		rdb:     rdb,
		channel: channel,
		origin:  origin,
		out:     make(chan Envelope, publishQueue),
		logger:  logger.With("relay_channel", channel, "origin", origin),
	}
}

// Connect opens a Redis client for addr, retrying the initial ping with
// exponential backoff.
func Connect(ctx context.Context, addr string, logger *slog.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	ping := func() error {
		return rdb.Ping(ctx).Err()
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("redis not reachable yet", "addr", addr, "error", err, "retry_in", wait)
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	logger.Info("connected to redis", "addr", addr)
	return rdb, nil
}

// Origin identifies this instance in published envelopes.
func (r *Relay) Origin() string {
	return r.origin
}

func (r *Relay) PublishUpdate(data []byte) {
	r.enqueue(Envelope{Origin: r.origin, Kind: KindUpdate, Payload: string(data)})
}

func (r *Relay) PublishDefinition(text string) {
	r.enqueue(Envelope{Origin: r.origin, Kind: KindDefinition, Payload: text})
}

// enqueue never blocks the caller, which may be a client connection.
func (r *Relay) enqueue(env Envelope) {
	select {
	case r.out <- env:
	default:
		r.logger.Warn("relay queue full, dropping change", "kind", env.Kind)
	}
}

// Run subscribes to the channel and relays in both directions until ctx
// is done.
func (r *Relay) Run(ctx context.Context, target Target) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}
	r.logger.Info("relay subscribed")

	go r.publishLoop(ctx)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay subscription closed")
			}
			r.handle(msg.Payload, target)
		}
	}
}

func (r *Relay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-r.out:
			data, err := json.Marshal(env)
			if err != nil {
				r.logger.Error("encoding relay envelope", "error", err)
				continue
			}
			if err := r.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
				r.logger.Warn("publishing to redis failed", "kind", env.Kind, "error", err)
			}
		}
	}
}

// handle applies one envelope from the channel. Our own envelopes come
// back to us too and are skipped.
func (r *Relay) handle(payload string, target Target) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("ignoring malformed relay message", "error", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	var err error
	switch env.Kind {
	case KindUpdate:
		err = target.ApplyRemote([]byte(env.Payload))
	case KindDefinition:
		err = target.LoadRemote(env.Payload)
	default:
		err = fmt.Errorf("unknown kind %q", env.Kind)
	}
	if err != nil {
		r.logger.Warn("applying relayed change failed", "from", env.Origin, "kind", env.Kind, "error", err)
	}
}
