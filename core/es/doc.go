// Package es provides the event sourcing half of the framework: aggregates,
// the event store and event channel contracts, and the engine that runs
// commands against aggregates with optimistic concurrency.
//
// # Aggregates
//
// Domain objects embed [BaseAggregate] and implement Apply as a type switch
// over their events. Commands raise events through [RaiseAndApply], which
// validates, records and applies them in one step:
//
//	type Account struct {
//	    es.BaseAggregate
//	    Balance int
//	}
//
//	func (a *Account) GetAggType() string      { return "account" }
//	func (a *Account) Register(r es.Registrar) { es.RegisterEvent[Deposited](r) }
//	func (a *Account) Apply(event any) error {
//	    switch e := event.(type) {
//	    case *Deposited:
//	        a.Balance += e.Amount
//	    }
//	    return nil
//	}
//
// # Sourcing
//
// [AggregateSourcing] loads an aggregate by replaying its stream, runs a
// command and publishes the raised events at the loaded version:
//
//	accounts := es.NewAggregateSourcing(store, func() *Account { return &Account{} })
//	_, err := accounts.Load(ctx, "acc-1", func(ctx context.Context, a *Account) error {
//	    return a.Deposit(10)
//	})
//
// Commands with side effects that must not run twice use
// [AggregateSourcing.LoadGuarded]: the command runs once, and a concurrency
// conflict only re-evaluates the guard before republishing.
//
// # Channels
//
// An [EventChannel] exposes every published event in one global order,
// addressed by an int64 tracking token starting at 0. [NoToken] positions a
// consumer before the first event. Delivery is flow controlled: a consumer
// holds at most [DefaultPermits] unacknowledged events.
//
// [InMemoryStore] implements both contracts for tests and single process
// setups; adapters/nats provides a JetStream backed implementation.
//
// # Errors
//
// Failures are classified by [Kind]. Use errors.Is with the sentinels, or
// switch on [KindOf]:
//
//	switch es.KindOf(err) {
//	case es.KindConcurrencyConflict:
//	case es.KindAggregateNotFound:
//	}
package es
