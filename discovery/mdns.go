// Package discovery advertises pcmlink endpoints on the local network with
// mDNS and finds them again.
//
// A server publishes the service type _pcmlink._udp. Its TXT record carries the
// stream parameters so a browser can build a matching ConnectRequest without
// a round trip:
//
//	rate=48000 format=f32 in=2 out=2 id=<instance uuid> v=1
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/opd-ai/pcmlink/protocol"
	"github.com/sirupsen/logrus"
)

const (
	// ServiceType is the DNS-SD service type of a pcmlink endpoint.
	ServiceType = "_pcmlink._udp"

	// Domain is the mDNS domain queried and advertised.
	Domain = "local"

	// DefaultBrowseTimeout is how long Browse listens for answers.
	DefaultBrowseTimeout = 2 * time.Second

	txtVersion = "1"
)

// Advertisement describes the endpoint being published. Channel counts are
// from the server's point of view.
type Advertisement struct {
	Instance    string
	Port        int
	Host        string   // empty for the machine's host name
	IPs         []net.IP // empty for every non-loopback IPv4 address
	ID          string
	SampleRate  uint32
	Format      protocol.SampleFormat
	ChannelsIn  uint16
	ChannelsOut uint16
}

// TXT returns the TXT record fields for the advertisement.
func (a Advertisement) TXT() []string {
	return []string{
		"v=" + txtVersion,
		"id=" + a.ID,
		"rate=" + strconv.FormatUint(uint64(a.SampleRate), 10),
		"format=" + a.Format.String(),
		"in=" + strconv.FormatUint(uint64(a.ChannelsIn), 10),
		"out=" + strconv.FormatUint(uint64(a.ChannelsOut), 10),
	}
}

// Endpoint is a discovered server.
type Endpoint struct {
	Name        string
	Addr        *net.UDPAddr
	ID          string
	SampleRate  uint32
	Format      protocol.SampleFormat
	ChannelsIn  uint16
	ChannelsOut uint16
}

// ConnectRequest returns the request that matches the endpoint exactly. The
// channel counts are mirrored because requests use the requester's view.
func (e Endpoint) ConnectRequest() protocol.ConnectRequest {
	return protocol.ConnectRequest{
		ChannelsIn:  e.ChannelsOut,
		ChannelsOut: e.ChannelsIn,
		SampleRate:  e.SampleRate,
		Format:      e.Format,
	}
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s at %s (%d Hz %s, %d in/%d out)",
		e.Name, e.Addr, e.SampleRate, e.Format, e.ChannelsIn, e.ChannelsOut)
}

// Advertiser publishes one Advertisement until Shutdown.
type Advertiser struct {
	server *mdns.Server
	ad     Advertisement
}

// NewService builds the mDNS zone for ad without touching the network.
func NewService(ad Advertisement) (*mdns.MDNSService, error) {
	ips := ad.IPs
	if len(ips) == 0 {
		var err error
		if ips, err = localIPs(); err != nil {
			return nil, fmt.Errorf("failed to get local IPs: %w", err)
		}
	}

	host := ad.Host
	if host != "" && !strings.HasSuffix(host, ".") {
		host += "."
	}

	service, err := mdns.NewMDNSService(ad.Instance, ServiceType, Domain+".", host, ad.Port, ips, ad.TXT())
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return service, nil
}

// Advertise starts answering mDNS queries for ad.
func Advertise(ad Advertisement) (*Advertiser, error) {
	service, err := NewService(ad)
	if err != nil {
		return nil, err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns server: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Advertise",
		"instance": ad.Instance,
		"service":  ServiceType,
		"port":     ad.Port,
		"id":       ad.ID,
	}).Info("Advertising endpoint via mDNS")

	return &Advertiser{server: server, ad: ad}, nil
}

// Shutdown stops answering queries.
func (a *Advertiser) Shutdown() error {
	logrus.WithFields(logrus.Fields{
		"function": "Shutdown",
		"instance": a.ad.Instance,
	}).Debug("Stopping mDNS advertisement")
	return a.server.Shutdown()
}

// Browse queries the network for pcmlink endpoints for up to timeout (or until
// ctx ends) and returns every distinct endpoint that answered.
func Browse(ctx context.Context, timeout time.Duration) ([]Endpoint, error) {
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	queryErr := make(chan error, 1)
	go func() {
		defer close(entries)
		queryErr <- mdns.Query(&mdns.QueryParam{
			Service: ServiceType,
			Domain:  Domain,
			Timeout: timeout,
			Entries: entries,
		})
	}()

	seen := make(map[string]bool)
	var found []Endpoint
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return found, <-queryErr
			}
			ep, err := EndpointFromEntry(entry)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Browse",
					"name":     entry.Name,
					"error":    err.Error(),
				}).Debug("Ignoring unusable mDNS answer")
				continue
			}
			if key := ep.Addr.String(); !seen[key] {
				seen[key] = true
				found = append(found, ep)
			}
		case <-ctx.Done():
			return found, ctx.Err()
		}
	}
}

// EndpointFromEntry converts an mDNS answer into an Endpoint. Answers without
// an address or with an incomplete TXT record are rejected.
func EndpointFromEntry(entry *mdns.ServiceEntry) (Endpoint, error) {
	if entry == nil {
		return Endpoint{}, fmt.Errorf("nil entry")
	}

	ip := entry.AddrV4
	if ip == nil {
		ip = entry.AddrV6
	}
	if ip == nil || entry.Port <= 0 {
		return Endpoint{}, fmt.Errorf("entry %q has no address", entry.Name)
	}

	ep := Endpoint{
		Name: entry.Name,
		Addr: &net.UDPAddr{IP: ip, Port: entry.Port},
	}
	if err := parseTXT(entry.InfoFields, &ep); err != nil {
		return Endpoint{}, err
	}
	return ep, nil
}

func parseTXT(fields []string, ep *Endpoint) error {
	values := make(map[string]string, len(fields))
	for _, f := range fields {
		if k, v, ok := strings.Cut(f, "="); ok {
			values[k] = v
		}
	}

	rate, err := strconv.ParseUint(values["rate"], 10, 32)
	if err != nil {
		return fmt.Errorf("bad rate %q: %w", values["rate"], err)
	}
	format, err := protocol.ParseSampleFormat(values["format"])
	if err != nil {
		return err
	}
	in, err := strconv.ParseUint(values["in"], 10, 16)
	if err != nil {
		return fmt.Errorf("bad channel count %q: %w", values["in"], err)
	}
	out, err := strconv.ParseUint(values["out"], 10, 16)
	if err != nil {
		return fmt.Errorf("bad channel count %q: %w", values["out"], err)
	}

	ep.ID = values["id"]
	ep.SampleRate = uint32(rate)
	ep.Format = format
	ep.ChannelsIn = uint16(in)
	ep.ChannelsOut = uint16(out)
	return nil
}

// localIPs returns the non-loopback IPv4 addresses of interfaces that are up.
func localIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP)
			}
		}
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("no usable interface addresses")
	}
	return ips, nil
}
