// Package ntpsync is the thin external-collaborator adapter that implements
// clock.SyncSource over the real NTP protocol (spec §1: network transport
// libraries are out of scope for the core; this package is the one place
// that knows about the wire protocol at all).
package ntpsync

import (
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// Source cycles through a fixed set of servers, trying each in turn until
// one answers, per spec §5 ("NTP forceUpdate: per server, cycle through
// three").
type Source struct {
	Servers []string
	Timeout time.Duration

	next int
}

func New(servers []string) *Source {
	return &Source{Servers: servers, Timeout: 10 * time.Second}
}

// Sync implements clock.SyncSource.
func (s *Source) Sync() (float64, error) {
	if len(s.Servers) == 0 {
		return 0, fmt.Errorf("ntpsync: no servers configured")
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var lastErr error
	for i := 0; i < len(s.Servers); i++ {
		server := s.Servers[s.next]
		s.next = (s.next + 1) % len(s.Servers)
		resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: timeout})
		if err != nil {
			lastErr = fmt.Errorf("ntpsync: query %s: %w", server, err)
			continue
		}
		if err := resp.Validate(); err != nil {
			lastErr = fmt.Errorf("ntpsync: validate %s: %w", server, err)
			continue
		}
		return resp.ClockOffset.Seconds(), nil
	}
	return 0, lastErr
}
