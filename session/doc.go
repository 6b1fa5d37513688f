// Package session tracks negotiated peers and drives their I/O lifecycle.
//
// Each Connection runs a small typestate machine:
//
//	IOStartPending --granted--> IOActive --IOStop / StopIO--> IOStopPending --ack--> IOInactive
//	      |                        |
//	      +--denied / timeout------+--deadline expiry---------------------------> IOInactive
//
// A Connection is created in IOStartPending when a ConnectRequest is accepted
// and is destroyed on reaching IOInactive; a reconnect gets a new session id.
// The audio rings exist only inside the IOActive variant, so they are
// allocated on entry and released on every exit.
//
// The Registry implements transport.Dispatcher. The receive loop calls
// Dispatch for every message and Poll between datagrams, which makes the loop
// goroutine the only writer of registry and connection state. Liveness is
// tracked by a Scheduler: every message bumps the connection's deadline, and a
// periodic tick expires connections that stayed silent longer than the
// configured timeout.
//
// The application participates through the Collaborator interface. Its audio
// thread only ever touches the ring halves handed to OnIOActive.
package session
