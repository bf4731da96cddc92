package ingress

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

const maxDatagramSize = 2048

// Socket reads fragment datagrams off the wire and timestamps each one with
// its arrival time, in the teacher's single-purpose listen() idiom (see the
// original xtaci-kcptun server/listen.go).
type Socket struct {
	conn *net.UDPConn
}

// Listen binds a UDP socket at addr.
func Listen(addr string) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve udp address")
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrap(err, "listen udp")
	}
	return &Socket{conn: conn}, nil
}

// Close closes the underlying socket, unblocking Run.
func (s *Socket) Close() error { return s.conn.Close() }

// Run reads datagrams until the socket is closed, sending each onto out and
// closing out when the read loop exits.
func (s *Socket) Run(out chan<- RawMessage) {
	defer close(out)

	buf := make([]byte, maxDatagramSize)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		msg := make([]byte, n)
		copy(msg, buf[:n])

		out <- RawMessage{
			Bytes:            msg,
			ReceivedAtMicros: uint64(time.Now().UnixMicro()),
		}
	}
}
