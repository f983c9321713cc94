/*
Package resilience provides the circuit breaker used for outbound fetches.

# Overview

A Breaker tracks failures for one remote origin and stops calling it once
ReadyToTrip says so. After Timeout it lets MaxRequests trial calls through
(half-open) and closes again when they all succeed.

A Group keys breakers by host, which is how the sandbox engine fetches pages,
scripts and XMLHttpRequest bodies.

# Usage

	breakers := resilience.NewGroup(resilience.Settings{
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 10
		},
	})

	resp, err := resilience.Do(breakers.Get(u.Host), func() (*resty.Response, error) {
		return req.Get(u.String())
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                         Open
*/
package resilience
