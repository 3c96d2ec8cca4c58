// Package discovery locates a backup server on the local network via
// DNS-SD. The server address is ephemeral: it is re-resolved at the start
// of every run so that DHCP address changes never matter. Only the server's
// identity token survives between runs (in the pairing record).
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/photosync/internal/logging"
)

// ServiceType is the well-known DNS-SD service type the server advertises.
const ServiceType = "_photobackup._tcp"

// TXT attribute carrying the server's stable identity token.
const AttrServerID = "serverId"

// AttrServerName carries the human-readable server name.
const AttrServerName = "serverName"

// DefaultTimeout bounds one search.
const DefaultTimeout = 10 * time.Second

// State of the discovery client.
type State string

const (
	StateIdle      State = "idle"
	StateSearching State = "searching"
	StateResolved  State = "resolved"
	StateTimedOut  State = "timed_out"
	StateFailed    State = "failed"
)

// ServerInfo describes a reachable server instance.
type ServerInfo struct {
	Host string
	Port int
	Name string
	ID   string
}

// Addr formats the host:port pair.
func (s *ServerInfo) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Candidate is one advertisement seen during a search.
type Candidate struct {
	Host  string
	Port  int
	Attrs map[string]string
}

// Browser streams service advertisements for a service type until the
// context is cancelled. Production uses mDNS; tests inject fakes.
type Browser interface {
	Browse(ctx context.Context, service string, entries chan<- Candidate) error
}

// Client finds a server instance, optionally constrained to an expected
// identity token.
type Client struct {
	browser Browser
	timeout time.Duration
	logger  logging.Logger

	mu    sync.Mutex
	state State
}

func NewClient(browser Browser, timeout time.Duration, logger logging.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		browser: browser,
		timeout: timeout,
		logger:  logger.With("module", "discovery"),
		state:   StateIdle,
	}
}

// State returns the client's last observed state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Discover browses for the service type and returns the first candidate
// whose identity matches expectedID. When expectedID is empty the first
// candidate wins. Candidates with a different identity are ignored and the
// search keeps listening. On timeout or browse failure Discover returns
// (nil, nil): absence of a server means "retry later", never a fatal error.
func (c *Client) Discover(ctx context.Context, expectedID string) (*ServerInfo, error) {
	c.setState(StateSearching)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	entries := make(chan Candidate, 8)
	errc := make(chan error, 1)

	go func() {
		errc <- c.browser.Browse(ctx, ServiceType, entries)
	}()

	for {
		select {
		case cand := <-entries:
			info := c.match(cand, expectedID)
			if info == nil {
				continue
			}
			// first match wins; stop browsing immediately
			cancel()
			c.setState(StateResolved)
			c.logger.Info(ctx, "server resolved",
				"addr", info.Addr(), "server_id", info.ID, "server_name", info.Name)
			return info, nil

		case <-ctx.Done():
			c.setState(StateTimedOut)
			c.logger.Info(ctx, "discovery timed out", "expected_id", expectedID)
			return nil, nil

		case err := <-errc:
			if err != nil {
				c.setState(StateFailed)
				c.logger.Warn(ctx, "discovery browse failed", "error", err)
				return nil, nil
			}
			// browser finished without error; wait out the remaining entries
			errc = nil
		}
	}
}

func (c *Client) match(cand Candidate, expectedID string) *ServerInfo {
	id := cand.Attrs[AttrServerID]
	if expectedID != "" && id != expectedID {
		c.logger.Debug(context.Background(), "ignoring candidate with different identity",
			"host", cand.Host, "server_id", id)
		return nil
	}
	if cand.Host == "" || cand.Port == 0 {
		return nil
	}
	return &ServerInfo{
		Host: cand.Host,
		Port: cand.Port,
		Name: cand.Attrs[AttrServerName],
		ID:   id,
	}
}

// Verify builds a ServerInfo for a manually configured address without any
// network probe. Reachability and identity are checked later by the health
// probe, not here.
func (c *Client) Verify(host string, port int) *ServerInfo {
	c.setState(StateResolved)
	return &ServerInfo{Host: host, Port: port, Name: host}
}
