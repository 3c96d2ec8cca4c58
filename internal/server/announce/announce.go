// Package announce advertises the backup server over multicast DNS so
// agents on the same network can find it without configuration. The
// advertisement carries the server's identity token; agents pin it after
// pairing and ignore servers with a different identity.
package announce

import (
	"context"
	"fmt"
	"net"

	"github.com/hashicorp/mdns"

	"github.com/dmitrijs2005/photosync/internal/agent/discovery"
	"github.com/dmitrijs2005/photosync/internal/logging"
	"github.com/dmitrijs2005/photosync/internal/netx"
)

// Announcer keeps one mDNS registration alive until stopped.
type Announcer struct {
	serverID   string
	serverName string
	port       int
	logger     logging.Logger

	srv *mdns.Server
}

func New(serverID, serverName string, port int, logger logging.Logger) *Announcer {
	return &Announcer{
		serverID:   serverID,
		serverName: serverName,
		port:       port,
		logger:     logger.With("module", "announce"),
	}
}

// Start registers the service. The TXT attribute names match what the
// agent's discovery client parses.
func (a *Announcer) Start(ctx context.Context) error {
	txt := []string{
		"version=1.0.0",
		fmt.Sprintf("%s=%s", discovery.AttrServerID, a.serverID),
		fmt.Sprintf("%s=%s", discovery.AttrServerName, a.serverName),
	}

	// Advertise the outbound interface address explicitly; relying on the
	// hostname resolving via DNS fails on most home networks.
	var ips []net.IP
	if ip, err := netx.LocalIP(); err == nil {
		ips = []net.IP{ip}
	}

	service, err := mdns.NewMDNSService(a.serverName, discovery.ServiceType, "", "", a.port, ips, txt)
	if err != nil {
		return fmt.Errorf("failed to build mDNS service: %w", err)
	}

	srv, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to start mDNS server: %w", err)
	}
	a.srv = srv

	a.logger.Info(ctx, "announcing service",
		"type", discovery.ServiceType, "name", a.serverName, "port", a.port)
	return nil
}

// Stop withdraws the registration. Safe to call when Start failed.
func (a *Announcer) Stop() {
	if a.srv != nil {
		_ = a.srv.Shutdown()
		a.srv = nil
	}
}
