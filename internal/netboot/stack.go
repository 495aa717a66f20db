// Package netboot fetches the kernel image over the network: a gVisor
// userspace TCP/IP stack runs over the platform's ethernet link and a small
// 9P client pulls the image off the boot server.
package netboot

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/miekg/dns"

	"gvisor.dev/gvisor/pkg/buffer"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/adapters/gonet"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"gvisor.dev/gvisor/pkg/tcpip/link/channel"
	"gvisor.dev/gvisor/pkg/tcpip/link/ethernet"
	"gvisor.dev/gvisor/pkg/tcpip/network/arp"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/udp"
)

const nicID tcpip.NICID = 1

// Link is the capability set the loader needs from an ethernet device. The
// platform provides one implementation per MAC (AXI DMA or EmacLite on
// silicon); which one is in use is the platform's business, not ours.
type Link interface {
	// WriteFrame transmits one ethernet frame.
	WriteFrame(frame []byte) error
	// Frames delivers received ethernet frames.
	Frames() <-chan []byte
}

// Config describes the boot network.
type Config struct {
	MAC       net.HardwareAddr
	IP        net.IP
	PrefixLen int
	Gateway   net.IP

	// Server is the 9P file server: an IPv4 literal, or a hostname when
	// DNS is set.
	Server string
	Port   uint16
	DNS    net.IP

	// Path is the kernel file to fetch.
	Path string
}

// Stack is the boot-time network stack over one link.
type Stack struct {
	log    *slog.Logger
	cfg    Config
	gs     *stack.Stack
	ch     *channel.Endpoint
	cancel context.CancelFunc
}

func addrFrom4(ip net.IP) (tcpip.Address, error) {
	ip4 := ip.To4()
	if ip4 == nil {
		return tcpip.Address{}, fmt.Errorf("netboot: not an IPv4 address: %v", ip)
	}
	var b [4]byte
	copy(b[:], ip4)
	return tcpip.AddrFrom4(b), nil
}

// NewStack brings up the stack on link with the configured address, an
// on-link route for its subnet and a default route through the gateway.
func NewStack(ctx context.Context, log *slog.Logger, link Link, cfg Config) (*Stack, error) {
	ctx, cancel := context.WithCancel(ctx)

	// The channel endpoint takes the L2 MTU; ethernet.New subtracts the
	// header to get the L3 MTU.
	ch := channel.New(4096, 1500+header.EthernetMinimumSize, tcpip.LinkAddress(string(cfg.MAC)))
	ep := ethernet.New(ch)
	gs := stack.New(stack.Options{
		NetworkProtocols:   []stack.NetworkProtocolFactory{ipv4.NewProtocol, arp.NewProtocol},
		TransportProtocols: []stack.TransportProtocolFactory{tcp.NewProtocol, udp.NewProtocol},
	})

	s := &Stack{log: log, cfg: cfg, gs: gs, ch: ch, cancel: cancel}

	if err := gs.CreateNIC(nicID, ep); err != nil {
		cancel()
		return nil, fmt.Errorf("netboot: create NIC: %s", err)
	}
	addr, aerr := addrFrom4(cfg.IP)
	if aerr != nil {
		cancel()
		return nil, aerr
	}
	if err := gs.AddProtocolAddress(nicID, tcpip.ProtocolAddress{
		Protocol: ipv4.ProtocolNumber,
		AddressWithPrefix: tcpip.AddressWithPrefix{
			Address:   addr,
			PrefixLen: cfg.PrefixLen,
		},
	}, stack.AddressProperties{}); err != nil {
		cancel()
		return nil, fmt.Errorf("netboot: add address: %s", err)
	}
	gw, aerr := addrFrom4(cfg.Gateway)
	if aerr != nil {
		cancel()
		return nil, aerr
	}
	subnet := tcpip.AddressWithPrefix{Address: addr, PrefixLen: cfg.PrefixLen}.Subnet()
	gs.SetRouteTable([]tcpip.Route{
		{
			Destination: subnet,
			NIC:         nicID,
		},
		{
			Destination: header.IPv4EmptySubnet,
			Gateway:     gw,
			NIC:         nicID,
		},
	})

	// Outbound: stack to wire.
	go func() {
		for {
			pkt := ch.ReadContext(ctx)
			if pkt == nil {
				return
			}
			frame := append([]byte(nil), pkt.ToView().AsSlice()...)
			pkt.DecRef()
			if err := link.WriteFrame(frame); err != nil {
				log.Debug("netboot: frame transmit failed", "err", err)
			}
		}
	}()

	// Inbound: wire to stack.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-link.Frames():
				if !ok {
					return
				}
				pkt := stack.NewPacketBuffer(stack.PacketBufferOptions{
					Payload: buffer.MakeWithData(frame),
				})
				ch.InjectInbound(0, pkt)
				pkt.DecRef()
			}
		}
	}()

	return s, nil
}

// Close tears the stack down.
func (s *Stack) Close() {
	s.cancel()
	s.ch.Close()
}

// DialTCP opens a TCP connection through the stack.
func (s *Stack) DialTCP(ctx context.Context, ip net.IP, port uint16) (net.Conn, error) {
	addr, err := addrFrom4(ip)
	if err != nil {
		return nil, err
	}
	return gonet.DialContextTCP(ctx, s.gs, tcpip.FullAddress{
		NIC:  nicID,
		Addr: addr,
		Port: port,
	}, ipv4.ProtocolNumber)
}

// Resolve looks up an A record for name through the configured DNS server.
func (s *Stack) Resolve(name string) (net.IP, error) {
	if ip := net.ParseIP(name); ip != nil {
		return ip, nil
	}
	if s.cfg.DNS == nil {
		return nil, fmt.Errorf("netboot: server %q is not an address and no DNS is configured", name)
	}

	dnsAddr, err := addrFrom4(s.cfg.DNS)
	if err != nil {
		return nil, err
	}
	conn, err := gonet.DialUDP(s.gs, nil, &tcpip.FullAddress{
		NIC:  nicID,
		Addr: dnsAddr,
		Port: 53,
	}, ipv4.ProtocolNumber)
	if err != nil {
		return nil, fmt.Errorf("netboot: dial DNS: %w", err)
	}
	defer conn.Close()

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.RecursionDesired = true

	co := &dns.Conn{Conn: conn}
	if err := co.WriteMsg(m); err != nil {
		return nil, fmt.Errorf("netboot: DNS query: %w", err)
	}
	r, err := co.ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("netboot: DNS response: %w", err)
	}
	for _, ans := range r.Answer {
		if a, ok := ans.(*dns.A); ok {
			return a.A, nil
		}
	}
	return nil, fmt.Errorf("netboot: no A record for %q", name)
}
