package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/opd-ai/pcmlink"
	"github.com/opd-ai/pcmlink/ring"
	"github.com/opd-ai/pcmlink/session"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	recordPath string
	noEcho     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a pcmlink server",
	Long: `Run a pcmlink server. Every connected peer gets its own audio back
(unless --no-echo) and the received audio can be recorded to a WAV file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	flags := serveCmd.Flags()
	flags.String("listen", "", "UDP listen address (host:port)")
	flags.Int("dscp", 0, "DSCP value for outgoing datagrams (0 disables marking)")
	flags.Bool("advertise", false, "advertise the server over mDNS")
	flags.StringVar(&recordPath, "record", "", "record received audio to this WAV file")
	flags.BoolVar(&noEcho, "no-echo", false, "do not send received audio back")

	mustBind("listen_addr", flags.Lookup("listen"))
	mustBind("dscp", flags.Lookup("dscp"))
	mustBind("advertise", flags.Lookup("advertise"))

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collab := &loopbackCollaborator{
		echo:       !noEcho,
		recordPath: recordPath,
		sampleRate: int(options.SampleRate),
		period:     packetPeriod(options.FramesPerPacket, options.SampleRate),
	}

	srv, err := pcmlink.New(&options, collab)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "pcmlink %s listening on %s (instance %s)\n",
		version, srv.LocalAddr(), srv.ID())

	<-srv.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	collab.wait()
	return err
}

// packetPeriod is the playback time of one packet.
func packetPeriod(framesPerPacket int, sampleRate uint32) time.Duration {
	if sampleRate == 0 {
		return time.Millisecond
	}
	return time.Duration(framesPerPacket) * time.Second / time.Duration(sampleRate)
}

// loopbackCollaborator accepts every start and runs one audio goroutine per
// active connection that optionally records and echoes what it receives.
type loopbackCollaborator struct {
	echo       bool
	recordPath string
	sampleRate int
	period     time.Duration

	mu      sync.Mutex
	running sync.WaitGroup
	takes   int
}

func (c *loopbackCollaborator) PollStartIO(info session.Info) session.StartDecision {
	logrus.WithFields(logrus.Fields{
		"function":   "PollStartIO",
		"session_id": info.ID,
		"addr":       info.Addr.String(),
	}).Info("Starting I/O")
	return session.StartAccepted
}

func (c *loopbackCollaborator) PollStopIO(info session.Info) {
	logrus.WithFields(logrus.Fields{
		"function":   "PollStopIO",
		"session_id": info.ID,
	}).Info("Stopping I/O")
}

func (c *loopbackCollaborator) OnIOActive(info session.Info, in *ring.Consumer[float32], out *ring.Producer[float32]) {
	var rec *wavRecorder
	if c.recordPath != "" {
		path := c.nextTakePath(info)
		var err error
		rec, err = newWAVRecorder(path, c.sampleRate, int(info.Params.ChannelsIn))
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "OnIOActive",
				"session_id": info.ID,
				"error":      err.Error(),
			}).Error("Recording disabled")
		}
	}

	c.running.Add(1)
	go func() {
		defer c.running.Done()
		pump(in, out, rec, c.echo, c.period)
	}()
}

func (c *loopbackCollaborator) OnConnectionClosed(info session.Info, reason session.CloseReason) {
	logrus.WithFields(logrus.Fields{
		"function":   "OnConnectionClosed",
		"session_id": info.ID,
		"reason":     reason.String(),
	}).Info("Peer disconnected")
}

// nextTakePath returns the record path, numbered after the first take so
// later connections do not overwrite it.
func (c *loopbackCollaborator) nextTakePath(info session.Info) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.takes++
	if c.takes == 1 {
		return c.recordPath
	}
	return fmt.Sprintf("%s.%d.wav", c.recordPath, info.ID)
}

func (c *loopbackCollaborator) wait() {
	c.running.Wait()
}

// pump is the audio thread of one connection. It runs until the rings are
// abandoned.
func pump(in *ring.Consumer[float32], out *ring.Producer[float32], rec *wavRecorder, echo bool, period time.Duration) {
	buf := make([]float32, in.Capacity())
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for range ticker.C {
		if in.IsAbandoned() {
			break
		}

		n := in.PopSlice(buf)
		if n == 0 {
			continue
		}
		if echo {
			out.PushSlice(buf[:n])
		}
		if rec != nil {
			if err := rec.Write(buf[:n]); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "pump",
					"error":    err.Error(),
				}).Error("Recording failed")
				_ = rec.Close()
				rec = nil
			}
		}
	}

	if rec != nil {
		if err := rec.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "pump",
				"error":    err.Error(),
			}).Error("Failed to finish recording")
		}
	}
}
