package es_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/modelmycode/cqrs-framework/core/es"
)

type (
	Account struct {
		es.BaseAggregate

		Owner   string
		Balance int
		Applied int
	}

	AccountOpened struct {
		Owner string `json:"owner"`
	}

	Deposited struct {
		Amount int `json:"amount"`
	}

	Withdrawn struct {
		Amount int `json:"amount"`
	}
)

func (e Deposited) Validate() error {
	if e.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	return nil
}

func (AccountOpened) EventType() string { return "account.opened" }

func (a *Account) GetAggType() string { return "account" }

func (a *Account) Register(r es.Registrar) {
	es.RegisterEvent[AccountOpened](r)
	es.RegisterEvent[Deposited](r)
	es.RegisterEvent[Withdrawn](r)
}

func (a *Account) Apply(event any) error {
	a.Applied++
	switch e := event.(type) {
	case *AccountOpened:
		a.Owner = e.Owner
	case *Deposited:
		a.Balance += e.Amount
	case *Withdrawn:
		a.Balance -= e.Amount
	}
	return nil
}

// === Commands ===

func (a *Account) Open(owner string) error {
	return es.RaiseAndApply(a, &AccountOpened{Owner: owner})
}

func (a *Account) Deposit(amount int) error {
	return es.RaiseAndApply(a, &Deposited{Amount: amount})
}

func (a *Account) Withdraw(amount int) error {
	if amount > a.Balance {
		return fmt.Errorf("insufficient funds: balance %d, requested %d", a.Balance, amount)
	}
	return es.RaiseAndApply(a, &Withdrawn{Amount: amount})
}

func newAccount() *Account { return &Account{} }

func deposit(amount int) es.Command[*Account] {
	return func(_ context.Context, a *Account) error { return a.Deposit(amount) }
}

// conflictingStore wraps a store and, for the next n publishes, sneaks in a
// concurrent deposit first so the publish fails with a real conflict.
type conflictingStore struct {
	es.EventStore

	mu        sync.Mutex
	conflicts int
	publishes int
	failWith  error
}

func (s *conflictingStore) Publish(ctx context.Context, messages []es.EventMessage) error {
	s.mu.Lock()
	s.publishes++
	inject := s.conflicts > 0
	if inject {
		s.conflicts--
	}
	failWith := s.failWith
	s.mu.Unlock()

	if failWith != nil {
		return failWith
	}
	if inject && len(messages) > 0 {
		first := messages[0]
		history, err := s.EventStore.Load(ctx, first.AggregateType, first.AggregateID)
		if err != nil {
			return err
		}
		err = s.EventStore.Publish(ctx, []es.EventMessage{{
			AggregateType:  first.AggregateType,
			AggregateID:    first.AggregateID,
			SequenceNumber: int64(len(history)),
			Event:          es.EventRecord{Name: "Deposited", Payload: &Deposited{Amount: 1}},
		}})
		if err != nil {
			return err
		}
	}
	return s.EventStore.Publish(ctx, messages)
}

func (s *conflictingStore) Publishes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishes
}
