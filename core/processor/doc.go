// Package processor runs event handlers against an es.EventChannel with a
// distributed claim, so that exactly one instance of a logical processor is
// active across a cluster at any time.
//
// A processor instance is either idle or active. While idle it polls the
// claim record in a [TokenStore] and takes it when the record is missing,
// released, already its own, or stale because the owner stopped
// heartbeating. While active it subscribes to the channel after the
// persisted token, dispatches each event to the registered handlers and
// checkpoints the token before acknowledging the event.
//
// Handlers declare their subscriptions with [On]:
//
//	type Projection struct{}
//
//	func (p *Projection) Subscribe(s *processor.Subscriptions) {
//	    processor.On(s, "OnPlaced", p.onPlaced)
//	}
//
//	p, err := processor.New("orders", channel, tokens, []processor.Handler{&Projection{}})
//	err = p.Start(ctx)
//	defer p.Shutdown()
package processor
