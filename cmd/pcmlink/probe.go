package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/pcmlink/client"
	"github.com/opd-ai/pcmlink/config"
	"github.com/opd-ai/pcmlink/discovery"
	"github.com/opd-ai/pcmlink/protocol"
	"github.com/spf13/cobra"
)

var probeFlags struct {
	discover  bool
	browseFor time.Duration
	duration  time.Duration
	frequency float64
	amplitude float64
}

var probeCmd = &cobra.Command{
	Use:   "probe [host:port]",
	Short: "Connect to a server, stream a test tone and report what comes back",
	Long: `Connect to a server, stream a sine tone for --duration and report the
audio received in return. With --discover the local network is browsed first;
without an address the first server found is probed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProbe,
}

func init() {
	flags := probeCmd.Flags()
	flags.BoolVar(&probeFlags.discover, "discover", false, "browse for servers over mDNS")
	flags.DurationVar(&probeFlags.browseFor, "browse-timeout", discovery.DefaultBrowseTimeout, "how long to browse")
	flags.DurationVar(&probeFlags.duration, "duration", 3*time.Second, "how long to stream")
	flags.Float64Var(&probeFlags.frequency, "frequency", 440, "test tone frequency in Hz")
	flags.Float64Var(&probeFlags.amplitude, "amplitude", 0.5, "test tone amplitude (0..1)")

	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := cmd.OutOrStdout()

	opts := clientOptions(options)
	addr := ""
	if len(args) == 1 {
		addr = args[0]
	}

	if probeFlags.discover {
		endpoints, err := discovery.Browse(ctx, probeFlags.browseFor)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("browsing: %w", err)
		}
		for _, ep := range endpoints {
			fmt.Fprintln(out, ep)
		}
		if addr == "" {
			if len(endpoints) == 0 {
				return errors.New("no servers found")
			}
			ep := endpoints[0]
			addr = ep.Addr.String()
			applyEndpoint(&opts, ep)
		}
	}
	if addr == "" {
		return errors.New("no server address given")
	}

	return probe(ctx, out, addr, opts)
}

// clientOptions mirrors the configured server view into a client view.
func clientOptions(o config.Options) client.Options {
	opts := client.DefaultOptions()
	if format, err := protocol.ParseSampleFormat(o.SampleFormat); err == nil {
		opts.Format = format
	}
	opts.SampleRate = o.SampleRate
	opts.ChannelsIn = o.ChannelsOut
	opts.ChannelsOut = o.ChannelsIn
	opts.RingCapacity = o.RingCapacity
	opts.FramesPerPacket = o.FramesPerPacket
	opts.Timeout = o.Timeout
	opts.HeartbeatInterval = o.HeartbeatInterval
	opts.DSCP = o.DSCP
	return opts
}

func applyEndpoint(opts *client.Options, ep discovery.Endpoint) {
	req := ep.ConnectRequest()
	opts.SampleRate = req.SampleRate
	opts.Format = req.Format
	opts.ChannelsIn = req.ChannelsIn
	opts.ChannelsOut = req.ChannelsOut
}

func probe(ctx context.Context, out io.Writer, addr string, opts client.Options) error {
	dialCtx, cancel := context.WithTimeout(ctx, opts.Timeout*5)
	defer cancel()

	c, err := client.Dial(dialCtx, addr, opts)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer c.Close()
	fmt.Fprintf(out, "connected to %s, session %d\n", addr, c.SessionID())

	inbound, outbound, err := c.StartIO(dialCtx)
	if err != nil {
		return fmt.Errorf("starting I/O: %w", err)
	}

	gen := newSineGenerator(probeFlags.frequency, opts.SampleRate, int(opts.ChannelsOut), probeFlags.amplitude)
	packet := make([]float32, opts.FramesPerPacket*int(opts.ChannelsOut))
	recv := make([]float32, inbound.Capacity())

	ticker := time.NewTicker(packetPeriod(opts.FramesPerPacket, opts.SampleRate))
	defer ticker.Stop()
	deadline := time.After(probeFlags.duration)

	var sent, received int
	var loudest float32
loop:
	for {
		select {
		case <-ticker.C:
			if outbound.Slots() >= len(packet) {
				sent += outbound.PushSlice(packet[:gen.Fill(packet)])
			}
			n := inbound.PopSlice(recv)
			received += n
			loudest = max(loudest, peak(recv[:n]))
		case <-deadline:
			break loop
		case <-c.Done():
			return fmt.Errorf("session ended: %w", c.Err())
		case <-ctx.Done():
			break loop
		}
	}

	stats := c.Stats()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer stopCancel()
	if err := c.StopIO(stopCtx); err != nil {
		fmt.Fprintf(out, "stop not acknowledged: %v\n", err)
	}

	fmt.Fprintf(out, "sent %d samples in %d frames, received %d samples in %d frames (peak %.3f)\n",
		sent, stats.FramesSent, received, stats.FramesReceived, loudest)
	fmt.Fprintf(out, "gaps %d, zero-filled %d, late %d, overruns %d\n",
		stats.Gaps, stats.ZeroFilled, stats.Late, stats.Overruns)
	return nil
}
