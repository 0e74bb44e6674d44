// Package app wires the event sourcing engine and tracking processors of
// one instance from explicit dependencies.
//
//	a, err := app.New(app.Config{
//	    Store:   store,
//	    Channel: store,
//	    Tokens:  tokens,
//	})
//	accounts, err := app.Sourcing(a, func() *Account { return &Account{} })
//	_, err = a.AddProcessor("balances", []processor.Handler{&Balances{}})
//	err = a.Run(ctx)
package app
