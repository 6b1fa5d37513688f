// Package client implements the initiating side of a pcmlink session.
//
// Dial negotiates a session with a server and returns a Client in the
// connected, I/O inactive state. StartIO asks the server to start I/O and,
// once acknowledged, hands back the two audio rings:
//
//	c, err := client.Dial(ctx, "studio.local:6910", client.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	inbound, outbound, err := c.StartIO(ctx)
//
// The audio thread pops received samples from inbound and pushes samples to
// send into outbound. A network goroutine owned by the client moves them,
// resends unanswered control messages, sends heartbeats and watches the
// server for silence. Done is closed when the session ends; Err tells why.
//
// A session ends after StopIO. Reconnecting needs a new Dial.
package client
