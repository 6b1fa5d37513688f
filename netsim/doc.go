// Package netsim simulates an unreliable network for deterministic tests.
//
// LossyConn wraps a real net.PacketConn and silently discards the outgoing
// datagrams a DropFunc selects, the way a congested link would. Every write
// is recorded, so a test can check exactly what left the socket:
//
//	conn, _ := net.ListenPacket("udp", "127.0.0.1:0")
//	lossy := netsim.NewLossyConn(conn, netsim.EveryNth(4, netsim.IsKind(protocol.KindAudioFrame)))
//	tr, _ := transport.NewUDPTransportFromConn(lossy, 0)
//
//	// ... run traffic ...
//
//	for _, rec := range lossy.DeliveryLog() {
//		if rec.Dropped {
//			t.Logf("dropped %d bytes to %s", rec.Size, rec.Addr)
//		}
//	}
//
// Reads are untouched. LossyConn is safe for concurrent use.
package netsim
