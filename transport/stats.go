package transport

import "sync/atomic"

// Stats counts datagrams seen by a transport.
type Stats struct {
	DatagramsReceived uint64
	DatagramsSent     uint64
	BytesReceived     uint64
	BytesSent         uint64
	Malformed         uint64
	ReceiveErrors     uint64
	SendErrors        uint64
}

type counters struct {
	datagramsReceived atomic.Uint64
	datagramsSent     atomic.Uint64
	bytesReceived     atomic.Uint64
	bytesSent         atomic.Uint64
	malformed         atomic.Uint64
	receiveErrors     atomic.Uint64
	sendErrors        atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		DatagramsReceived: c.datagramsReceived.Load(),
		DatagramsSent:     c.datagramsSent.Load(),
		BytesReceived:     c.bytesReceived.Load(),
		BytesSent:         c.bytesSent.Load(),
		Malformed:         c.malformed.Load(),
		ReceiveErrors:     c.receiveErrors.Load(),
		SendErrors:        c.sendErrors.Load(),
	}
}
