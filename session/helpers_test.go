package session

import (
	"net"
	"sync"
	"time"

	"github.com/opd-ai/pcmlink/protocol"
	"github.com/opd-ai/pcmlink/ring"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type sentMessage struct {
	msg  protocol.Message
	addr net.Addr
}

// mockSender records every message. Audio samples are copied because the
// stream reuses its packet buffer.
type mockSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *mockSender) Send(msg protocol.Message, addr net.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := msg.(protocol.AudioFrame); ok {
		f.Samples = append([]float32(nil), f.Samples...)
		msg = f
	}
	m.sent = append(m.sent, sentMessage{msg: msg, addr: addr})
	return m.err
}

func (m *mockSender) messages() []protocol.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.Message, 0, len(m.sent))
	for _, s := range m.sent {
		out = append(out, s.msg)
	}
	return out
}

func (m *mockSender) last() protocol.Message {
	msgs := m.messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (m *mockSender) ofKind(kind protocol.Kind) []protocol.Message {
	var out []protocol.Message
	for _, msg := range m.messages() {
		if msg.Kind() == kind {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockSender) reset() {
	m.mu.Lock()
	m.sent = nil
	m.mu.Unlock()
}

// recorder is a Collaborator that remembers what happened.
type recorder struct {
	decision StartDecision
	starts   int
	stops    int
	active   int
	inbound  *ring.Consumer[float32]
	outbound *ring.Producer[float32]
	closed   []CloseReason
	infos    []Info
}

func (c *recorder) PollStartIO(info Info) StartDecision {
	c.starts++
	c.infos = append(c.infos, info)
	return c.decision
}

func (c *recorder) PollStopIO(Info) { c.stops++ }

func (c *recorder) OnIOActive(_ Info, in *ring.Consumer[float32], out *ring.Producer[float32]) {
	c.active++
	c.inbound, c.outbound = in, out
}

func (c *recorder) OnConnectionClosed(_ Info, reason CloseReason) {
	c.closed = append(c.closed, reason)
}

func peerAddr(port int) net.Addr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func stereoRequest() protocol.ConnectRequest {
	return protocol.ConnectRequest{ChannelsIn: 2, ChannelsOut: 2, SampleRate: 48000, Format: protocol.FormatF32}
}
