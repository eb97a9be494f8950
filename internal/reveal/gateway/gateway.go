// Package gateway fans reveal events out to the participants of a chat.
// Membership is enforced when a subscription is opened, so delivery never has
// to re-check authorization.
package gateway

import (
	"context"
	"log/slog"
	"sync"

	"cirvia/internal/reveal"
	"cirvia/internal/reveal/metrics"
	"cirvia/pkg/domain"
	dErrors "cirvia/pkg/domain-errors"
)

type subKey struct {
	ChatID domain.ChatID
	UserID domain.UserID
}

// Subscription is one user's live event feed for one chat. Events arrive on
// C; Close releases the subscription and closes C.
type Subscription struct {
	ChatID domain.ChatID
	UserID domain.UserID

	C <-chan any

	gw   *Gateway
	key  subKey
	ch   chan any
	once sync.Once
}

// Close removes the subscription from the gateway and closes the channel.
// Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.gw.remove(s.key, s)
		close(s.ch)
	})
}

// Gateway routes chat events to subscribed participants. A user may hold
// several subscriptions to the same chat (one per connection).
type Gateway struct {
	mu      sync.RWMutex
	subs    map[subKey][]*Subscription
	logger  *slog.Logger
	metrics *metrics.Metrics
	buffer  int
}

// Option configures the Gateway.
type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithBuffer sets the per-subscription channel capacity.
func WithBuffer(n int) Option {
	return func(g *Gateway) { g.buffer = n }
}

func New(opts ...Option) *Gateway {
	g := &Gateway{
		subs:   make(map[subKey][]*Subscription),
		buffer: 16,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Subscribe opens an event feed on chat for userID. It fails with an
// authorization error when userID is not a participant of the chat.
func (g *Gateway) Subscribe(chat *reveal.Chat, userID domain.UserID) (*Subscription, error) {
	if !chat.IsParticipant(userID) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "user is not a participant of this chat")
	}

	ch := make(chan any, g.buffer)
	sub := &Subscription{
		ChatID: chat.ID,
		UserID: userID,
		C:      ch,
		gw:     g,
		key:    subKey{ChatID: chat.ID, UserID: userID},
		ch:     ch,
	}

	g.mu.Lock()
	g.subs[sub.key] = append(g.subs[sub.key], sub)
	g.mu.Unlock()

	g.metrics.SubscriptionOpened()
	return sub, nil
}

func (g *Gateway) remove(key subKey, sub *Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	subs := g.subs[key]
	for i, s := range subs {
		if s == sub {
			g.subs[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(g.subs[key]) == 0 {
		delete(g.subs, key)
	}
	g.metrics.SubscriptionClosed()
}

// EmitToChat delivers payload to every open subscription of the chat's two
// participants. Subscribers that cannot keep up have the event dropped rather
// than blocking the emitter.
func (g *Gateway) EmitToChat(ctx context.Context, chat *reveal.Chat, payload any) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, userID := range []domain.UserID{chat.ParticipantAID, chat.ParticipantBID} {
		for _, sub := range g.subs[subKey{ChatID: chat.ID, UserID: userID}] {
			select {
			case sub.ch <- payload:
			default:
				if g.logger != nil {
					g.logger.WarnContext(ctx, "dropping chat event for slow subscriber",
						"chat_id", chat.ID, "user_id", userID)
				}
			}
		}
	}
}
