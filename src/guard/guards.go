package guard

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/halonetworks/halo/src/common"
	"github.com/halonetworks/halo/src/scheduler"
	"github.com/halonetworks/halo/src/types"
)

// Send describes one outbound message at the guard boundary.
type Send struct {
	Context types.ContextID
	Peer    types.DeviceID
	Privacy types.PrivacyLevel
	Payload []byte
}

// Guard is one link of the chain. A nil error lets the send through.
type Guard interface {
	Allow(s *Send) error
}

// AuthGuard checks that a held capability token covers the send. Tokens are
// installed per context; a send into a context with no token, an invalid
// token, or a token whose scope does not reach the peer or privacy level is
// denied.
type AuthGuard struct {
	sync.RWMutex
	minter *Minter
	tokens map[types.ContextID]*Token
	clock  scheduler.TimeEffects
}

// NewAuthGuard creates an AuthGuard.
func NewAuthGuard(minter *Minter, clock scheduler.TimeEffects) *AuthGuard {
	return &AuthGuard{
		minter: minter,
		tokens: make(map[types.ContextID]*Token),
		clock:  clock,
	}
}

// Install registers the token used for a context's sends. The token is
// verified on installation and again on every send.
func (g *AuthGuard) Install(t *Token) error {
	if !g.minter.Verify(t) {
		return common.NewCodedErr(common.AuthorizationDenied, "AuthGuard", "invalid token")
	}
	g.Lock()
	defer g.Unlock()
	g.tokens[t.Effective().Context] = t
	return nil
}

// Revoke removes a context's token.
func (g *AuthGuard) Revoke(context types.ContextID) {
	g.Lock()
	defer g.Unlock()
	delete(g.tokens, context)
}

// Allow implements Guard.
func (g *AuthGuard) Allow(s *Send) error {
	g.RLock()
	t, ok := g.tokens[s.Context]
	g.RUnlock()

	if !ok {
		return common.NewCodedErr(common.AuthorizationDenied, "AuthGuard", "no token for context "+s.Context.Short())
	}
	if !g.minter.Verify(t) {
		return common.NewCodedErr(common.AuthorizationDenied, "AuthGuard", "token does not verify")
	}
	if !t.Effective().covers(s.Context, s.Peer, s.Privacy, g.clock.Now().Unix()) {
		return common.NewCodedErr(common.AuthorizationDenied, "AuthGuard", "token scope does not cover send")
	}
	return nil
}

// FlowGuard enforces a token bucket per (context, peer) pair. An exhausted
// bucket denies with FlowBudgetExhausted until enough time refills it.
type FlowGuard struct {
	sync.Mutex
	rate    float64 // sends per second
	burst   float64
	clock   scheduler.TimeEffects
	buckets map[flowKey]*bucket
}

type flowKey struct {
	context types.ContextID
	peer    types.DeviceID
}

type bucket struct {
	tokens float64
	last   time.Time
}

// Default flow budget per (context, peer).
const (
	DefaultRate  = 10.0
	DefaultBurst = 50.0
)

// NewFlowGuard creates a FlowGuard allowing rate sends per second with the
// given burst per (context, peer).
func NewFlowGuard(rate, burst float64, clock scheduler.TimeEffects) *FlowGuard {
	return &FlowGuard{
		rate:    rate,
		burst:   burst,
		clock:   clock,
		buckets: make(map[flowKey]*bucket),
	}
}

// Allow implements Guard. Each admitted send consumes one unit of budget.
func (g *FlowGuard) Allow(s *Send) error {
	g.Lock()
	defer g.Unlock()

	now := g.clock.Now()
	key := flowKey{context: s.Context, peer: s.Peer}

	b, ok := g.buckets[key]
	if !ok {
		b = &bucket{tokens: g.burst, last: now}
		g.buckets[key] = b
	}

	b.tokens += now.Sub(b.last).Seconds() * g.rate
	if b.tokens > g.burst {
		b.tokens = g.burst
	}
	b.last = now

	if b.tokens < 1 {
		return common.NewCodedErr(common.FlowBudgetExhausted, "FlowGuard", s.Peer.Short())
	}
	b.tokens--
	return nil
}

// Budget returns the remaining budget for a pair, for introspection.
func (g *FlowGuard) Budget(context types.ContextID, peer types.DeviceID) float64 {
	g.Lock()
	defer g.Unlock()

	b, ok := g.buckets[flowKey{context: context, peer: peer}]
	if !ok {
		return g.burst
	}
	tokens := b.tokens + g.clock.Now().Sub(b.last).Seconds()*g.rate
	if tokens > g.burst {
		tokens = g.burst
	}
	return tokens
}

// Chain is the composed guard: AuthGuard, then FlowGuard, then the
// JournalCoupler issuing the send's receipt.
type Chain struct {
	auth    *AuthGuard
	flow    *FlowGuard
	coupler *JournalCoupler

	logger *logrus.Entry
}

// NewChain assembles the guard chain.
func NewChain(auth *AuthGuard, flow *FlowGuard, coupler *JournalCoupler, logger *logrus.Entry) *Chain {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	return &Chain{
		auth:    auth,
		flow:    flow,
		coupler: coupler,
		logger:  logger.WithField("component", "guard"),
	}
}

// Auth returns the chain's AuthGuard.
func (c *Chain) Auth() *AuthGuard { return c.auth }

// Flow returns the chain's FlowGuard.
func (c *Chain) Flow() *FlowGuard { return c.flow }

// Coupler returns the chain's JournalCoupler.
func (c *Chain) Coupler() *JournalCoupler { return c.coupler }

// Admit runs the chain over a send. Order matters: authorization is checked
// before any budget is consumed, so a denied send never burns flow budget.
func (c *Chain) Admit(s *Send) (*Receipt, error) {
	return c.AdmitThen(s, nil)
}

// AdmitThen runs the chain over a send with the transfer itself between the
// guards and the receipt. A nil transfer admits without sending. The coupler
// only issues the receipt once the transfer returned nil, so a journaled
// send is one that actually left the transport.
func (c *Chain) AdmitThen(s *Send, transfer func() error) (*Receipt, error) {
	if err := c.auth.Allow(s); err != nil {
		c.logger.WithField("peer", s.Peer.Short()).WithError(err).Debug("Send denied")
		return nil, err
	}
	if err := c.flow.Allow(s); err != nil {
		return nil, err
	}
	if transfer != nil {
		if err := transfer(); err != nil {
			return nil, err
		}
	}
	return c.coupler.Couple(s)
}
