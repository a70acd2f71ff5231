package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	protocolICMP     = 1
	protocolIPv6ICMP = 58
)

// errUnreachable is reported when the network answers that the host cannot
// be reached.
var errUnreachable = errors.New("destination unreachable")

// Pinger sends one echo request to host and reports the round-trip time.
type Pinger interface {
	Ping(ctx context.Context, host string) (time.Duration, error)
}

// ICMPPinger is a [Pinger] using ICMP echo.
//
// It first opens an unprivileged datagram socket ("udp4"/"udp6"), which
// Linux allows when net.ipv4.ping_group_range covers the process, and falls
// back to a raw socket, which needs CAP_NET_RAW.
type ICMPPinger struct {
	id  int
	seq atomic.Uint32
}

// NewICMPPinger creates a pinger whose echo identifier is derived from the pid.
func NewICMPPinger() *ICMPPinger {
	return &ICMPPinger{id: os.Getpid() & 0xffff}
}

// Ping resolves host, sends one echo request and waits for the matching
// reply until ctx expires.
func (p *ICMPPinger) Ping(ctx context.Context, host string) (time.Duration, error) {
	ip, err := resolve(ctx, host)
	if err != nil {
		return 0, err
	}
	v6 := ip.To4() == nil

	conn, unprivileged, err := listen(v6)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: []byte("pulsewatch")},
	}
	proto := protocolICMP
	if v6 {
		msg.Type = ipv6.ICMPTypeEchoRequest
		proto = protocolIPv6ICMP
	}
	packet, err := msg.Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build echo request: %w", err)
	}

	var dst net.Addr = &net.IPAddr{IP: ip}
	if unprivileged {
		dst = &net.UDPAddr{IP: ip}
	}

	start := time.Now()
	if _, err := conn.WriteTo(packet, dst); err != nil {
		return 0, fmt.Errorf("failed to send echo request: %w", err)
	}

	buf := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, err
		}

		reply, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil {
			continue
		}
		switch reply.Type {
		case ipv4.ICMPTypeEchoReply, ipv6.ICMPTypeEchoReply:
			echo, ok := reply.Body.(*icmp.Echo)
			if !ok || echo.Seq != seq {
				continue
			}
			// the kernel rewrites the identifier on datagram sockets
			if !unprivileged && echo.ID != p.id {
				continue
			}
			return time.Since(start), nil
		case ipv4.ICMPTypeDestinationUnreachable, ipv6.ICMPTypeDestinationUnreachable:
			if unprivileged {
				// only errors for our own socket are delivered here
				return 0, errUnreachable
			}
		}
	}
}

func resolve(ctx context.Context, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return a.IP, nil
		}
	}
	return addrs[0].IP, nil
}

func listen(v6 bool) (*icmp.PacketConn, bool, error) {
	udpNet, rawNet, addr := "udp4", "ip4:icmp", "0.0.0.0"
	if v6 {
		udpNet, rawNet, addr = "udp6", "ip6:ipv6-icmp", "::"
	}

	if conn, err := icmp.ListenPacket(udpNet, addr); err == nil {
		return conn, true, nil
	}
	conn, err := icmp.ListenPacket(rawNet, addr)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open ICMP socket: %w", err)
	}
	return conn, false, nil
}
