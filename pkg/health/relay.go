// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoListeners is reported when no forwarding rule is bound.
var ErrNoListeners = errors.New("no forwarding rule is listening")

// RelayStats is the engine state the relay checks inspect.
type RelayStats struct {
	Listeners int
	Rules     int
	Slots     int
	Active    int
	MaxSlots  int
}

// ListenersCheck fails when rules are configured but none is bound.
func ListenersCheck(stats func() RelayStats) CheckFunc {
	return func(ctx context.Context) error {
		s := stats()
		if s.Rules > 0 && s.Listeners == 0 {
			return ErrNoListeners
		}
		return nil
	}
}

// RulesCheck fails when some forwarding rules could not be bound.
func RulesCheck(stats func() RelayStats) CheckFunc {
	return func(ctx context.Context) error {
		s := stats()
		if s.Listeners < s.Rules {
			return fmt.Errorf("%d of %d forwarding rules listening", s.Listeners, s.Rules)
		}
		return nil
	}
}

// SlotsCheck fails when the slot pool has reached its ceiling with every
// slot in use, so new connections are being dropped.
func SlotsCheck(stats func() RelayStats) CheckFunc {
	return func(ctx context.Context) error {
		s := stats()
		if s.MaxSlots > 0 && s.Slots >= s.MaxSlots && s.Active >= s.Slots {
			return fmt.Errorf("slot pool exhausted: %d of %d slots in use", s.Active, s.MaxSlots)
		}
		return nil
	}
}
