// Package discovery advertises the engine on the local network over mDNS so
// devices and companion apps can find it without configuration.
package discovery

import (
	"fmt"
	"net"
	"strings"

	"github.com/pion/mdns/v2"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// Responder answers mDNS queries for the configured local name
type Responder struct {
	name   string
	conn   *mdns.Conn
	logger *zap.Logger
}

// NewResponder creates a responder for name. ".local" is appended when missing.
func NewResponder(name string, logger *zap.Logger) *Responder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{name: LocalName(name), logger: logger.Named("mdns")}
}

// LocalName normalises a host name to the form mDNS answers for
func LocalName(name string) string {
	name = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".")
	if name == "" {
		name = "homeassist"
	}
	if !strings.HasSuffix(name, ".local") {
		name += ".local"
	}
	return name
}

// Name returns the advertised name
func (r *Responder) Name() string {
	return r.name
}

// Start joins the IPv4 and IPv6 multicast groups and begins answering
func (r *Responder) Start() error {
	addr4, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddressIPv4)
	if err != nil {
		return fmt.Errorf("resolve mdns udp4 address: %w", err)
	}
	addr6, err := net.ResolveUDPAddr("udp6", mdns.DefaultAddressIPv6)
	if err != nil {
		return fmt.Errorf("resolve mdns udp6 address: %w", err)
	}

	l4, err := net.ListenUDP("udp4", addr4)
	if err != nil {
		return fmt.Errorf("listen mdns udp4: %w", err)
	}
	l6, err := net.ListenUDP("udp6", addr6)
	if err != nil {
		_ = l4.Close()
		return fmt.Errorf("listen mdns udp6: %w", err)
	}

	conn, err := mdns.Server(ipv4.NewPacketConn(l4), ipv6.NewPacketConn(l6), &mdns.Config{
		LocalNames: []string{r.name},
	})
	if err != nil {
		_ = l4.Close()
		_ = l6.Close()
		return fmt.Errorf("start mdns server: %w", err)
	}
	r.conn = conn
	r.logger.Info("mdns responder started", zap.String("name", r.name))
	return nil
}

// Close stops answering queries
func (r *Responder) Close() error {
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
