// Package pcmlink exchanges multichannel PCM audio with remote peers over UDP
// with bounded latency.
//
// A Server binds one UDP socket and runs a single network goroutine that
// decodes datagrams, drives one state machine per connected peer, expires
// silent peers and pumps audio between the network and a pair of lock-free
// rings per connection. The application plugs in as a session.Collaborator:
//
//	srv, err := pcmlink.New(nil, session.Callbacks{
//		IOActive: func(info session.Info, in *ring.Consumer[float32], out *ring.Producer[float32]) {
//			go runAudio(in, out)
//		},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := srv.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Shutdown(context.Background())
//
// The audio thread only touches the rings; it never locks, allocates or
// blocks on the network. Late audio is worse than lost audio, so nothing is
// retransmitted: gaps in the received sequence are filled with silence.
//
// # Packages
//
//   - [github.com/opd-ai/pcmlink/protocol]: messages and their wire codec
//   - [github.com/opd-ai/pcmlink/transport]: the UDP socket and receive loop
//   - [github.com/opd-ai/pcmlink/session]: per-connection state machine,
//     registry and deadline scheduler
//   - [github.com/opd-ai/pcmlink/ring]: the single-producer single-consumer ring
//   - [github.com/opd-ai/pcmlink/client]: the initiating side of a session
//   - [github.com/opd-ai/pcmlink/discovery]: mDNS advertisement and browsing
//   - [github.com/opd-ai/pcmlink/config]: options and their loading
package pcmlink
