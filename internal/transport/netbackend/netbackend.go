// Package netbackend is the transport.Communicator backend for running
// each partition as a separate OS process, carrying length-prefixed
// tinylib/msgp-framed transport.Message values over plain TCP.
package netbackend

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"

	"qsim/internal/transport"
)

// PeerAddrs maps every partition rank (including this backend's own rank,
// which is ignored) to its "host:port" dial address.
type PeerAddrs map[uint32]string

// Backend is a transport.Communicator over TCP: it dials every lower-ranked
// peer and accepts inbound connections from every higher-ranked peer, by
// convention, to avoid both sides racing to connect.
type Backend struct {
	rank  uint32
	peers PeerAddrs

	mu    sync.Mutex
	conns map[uint32]net.Conn

	listener net.Listener

	mailbox   chan transport.Message
	mailboxMu sync.Mutex
	buffered  []transport.Message
}

// Listen starts a Backend for rank, accepting connections on listenAddr and
// dialing every peer ranked lower than rank (so exactly one side initiates
// each pairwise connection).
func Listen(rank uint32, listenAddr string, peers PeerAddrs) (*Backend, error) {
	l, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "netbackend: rank %d: listen on %s", rank, listenAddr)
	}
	b := &Backend{
		rank:    rank,
		peers:   peers,
		conns:   make(map[uint32]net.Conn),
		mailbox: make(chan transport.Message, 256),
		listener: l,
	}

	var wg sync.WaitGroup
	for peerRank, addr := range peers {
		if peerRank == rank {
			continue
		}
		if peerRank < rank {
			wg.Add(1)
			go func(peerRank uint32, addr string) {
				defer wg.Done()
				conn, err := net.Dial("tcp", addr)
				if err != nil {
					return
				}
				var rankBuf [4]byte
				binary.BigEndian.PutUint32(rankBuf[:], rank)
				if _, err := conn.Write(rankBuf[:]); err != nil {
					conn.Close()
					return
				}
				b.registerConn(peerRank, conn)
			}(peerRank, addr)
		}
	}

	remaining := 0
	for peerRank := range peers {
		if peerRank > rank {
			remaining++
		}
	}
	go b.acceptLoop(remaining)

	wg.Wait()
	return b, nil
}

func (b *Backend) acceptLoop(remaining int) {
	for i := 0; i < remaining; i++ {
		conn, err := b.listener.Accept()
		if err != nil {
			return
		}
		go b.handshakeAndRegister(conn)
	}
}

// handshakeAndRegister reads the one-time rank announcement a dialing peer
// sends immediately after connecting, then registers the connection. Only
// the dialer announces its rank; the acceptor already knows its own.
func (b *Backend) handshakeAndRegister(conn net.Conn) {
	var rankBuf [4]byte
	if _, err := io.ReadFull(conn, rankBuf[:]); err != nil {
		conn.Close()
		return
	}
	peerRank := binary.BigEndian.Uint32(rankBuf[:])
	b.registerConn(peerRank, conn)
}

func (b *Backend) registerConn(peerRank uint32, conn net.Conn) {
	b.mu.Lock()
	b.conns[peerRank] = conn
	b.mu.Unlock()
	go b.readLoop(conn)
}

// readLoop decodes length-prefixed frames from conn and pushes decoded
// messages onto the shared mailbox until the connection closes.
func (b *Backend) readLoop(conn net.Conn) {
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		frame := make([]byte, n)
		if _, err := io.ReadFull(conn, frame); err != nil {
			return
		}
		var msg transport.Message
		if _, err := msg.UnmarshalMsg(frame); err != nil {
			continue
		}
		b.mailbox <- msg
	}
}

func (b *Backend) Rank() uint32 { return b.rank }

// SendReceive implements transport.Communicator. Each outbound message is
// written in its own goroutine so a slow peer cannot block the others
// (§5's deadlock-avoidance rule); receipt drains the shared mailbox until
// every expected sender has been heard from, and messages still in the
// mailbox at that point stay there for the next call.
func (b *Backend) SendReceive(ctx context.Context, outbound map[uint32]transport.Message, expectedSenders map[uint32]struct{}) ([]transport.Message, error) {
	for dest, msg := range outbound {
		b.mu.Lock()
		conn, ok := b.conns[dest]
		b.mu.Unlock()
		if !ok {
			continue
		}
		go func(conn net.Conn, msg transport.Message) {
			frame := msg.MarshalMsg(nil)
			var lenBuf [4]byte
			binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
			conn.Write(lenBuf[:])
			conn.Write(frame)
		}(conn, msg)
	}

	b.mailboxMu.Lock()
	received := b.buffered
	b.buffered = nil
	b.mailboxMu.Unlock()

	heard := make(map[uint32]struct{}, len(expectedSenders))
	for _, msg := range received {
		heard[msg.From] = struct{}{}
	}

	for len(heard) < len(expectedSenders) {
		select {
		case msg := <-b.mailbox:
			received = append(received, msg)
			heard[msg.From] = struct{}{}
		case <-ctx.Done():
			missing := make([]uint32, 0)
			for s := range expectedSenders {
				if _, ok := heard[s]; !ok {
					missing = append(missing, s)
				}
			}
			return received, fmt.Errorf("netbackend: rank %d: receive timeout, missing neighbors %v, received so far %d messages", b.rank, missing, len(received))
		}
	}
	return received, nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		c.Close()
	}
	return b.listener.Close()
}
