/*
Package resilience provides a circuit breaker for outbound deliveries.

# Overview

This package implements the circuit breaker pattern so that a failing
notification target stops being hammered: consecutive failures trip the
breaker, deliveries short-circuit while it is open, and a cooldown later
probe requests decide whether it closes again.

# Usage

	breaker := resilience.New("webhook", resilience.Settings{
		Threshold: 3,
		Cooldown:  30 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			log.Printf("breaker %s: %s -> %s", name, from, to)
		},
	})

	err := breaker.Do(func() error {
		return notifier.Send(ctx, event)
	})

# States

	Closed --[failures]-> Open --[cooldown]-> Half-Open --[successes]-> Closed
	                                            |
	                                        [failure]
	                                            |
	                                            v
	                                          Open
*/
package resilience
