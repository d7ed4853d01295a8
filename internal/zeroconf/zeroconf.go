// Package zeroconf registers the player control API as an mDNS/DNS-SD
// service so controllers on the LAN can find it.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type advertised for the control API.
const ServiceType = "_lpaplayer._tcp"

// Service manages mDNS service registration.
type Service struct {
	name string // instance name, usually the hostname
	port int
	txt  []string
}

// New creates a new zeroconf Service that will advertise on the given port.
// txt holds key=value TXT records such as the API version.
func New(name string, port int, txt ...string) *Service {
	return &Service{
		name: name,
		port: port,
		txt:  txt,
	}
}

// TXT returns the TXT records the service advertises.
func (s *Service) TXT() []string {
	return append([]string(nil), s.txt...)
}

// Start registers the mDNS service and blocks until ctx is cancelled, at which
// point it shuts down the server cleanly.
func (s *Service) Start(ctx context.Context) error {
	server, err := zeroconf.Register(
		s.name,      // instance name
		ServiceType, // service type
		"local.",    // domain
		s.port,      // port
		s.txt,       // TXT records
		nil,         // ifaces: nil means all interfaces
	)
	if err != nil {
		return fmt.Errorf("zeroconf register: %w", err)
	}
	slog.Info("zeroconf: registered mDNS service",
		"name", s.name,
		"type", ServiceType,
		"port", s.port,
		"txt", s.txt,
	)

	<-ctx.Done()

	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}
