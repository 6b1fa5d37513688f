// Package transport owns the UDP socket of a pcmlink endpoint.
//
// A UDPTransport sends protocol messages as single datagrams and runs one
// blocking receive loop that decodes every datagram and hands it to a
// Dispatcher:
//
//	t, err := transport.NewUDPTransport(":6910", transport.DSCPExpedited)
//	if err != nil {
//	    return err // bind failure is fatal
//	}
//	go t.Serve(ctx, registry)
//	...
//	t.Close() // wakes the loop immediately
//
// The loop is also the scheduling domain of the dispatcher: before every read
// it calls Dispatcher.Poll and uses the returned wake-up time as the socket
// read deadline. Deadline expiry, heartbeats and queued application requests
// therefore run on the same goroutine as message dispatch and need no locking
// among themselves.
//
// Malformed datagrams and transient socket errors are logged, counted in Stats
// and skipped. Outgoing datagrams are marked with a DSCP code point (Expedited
// Forwarding by default) through golang.org/x/net/ipv4 and ipv6.
package transport
