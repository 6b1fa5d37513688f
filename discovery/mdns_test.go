package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/opd-ai/pcmlink/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAdvertisement() Advertisement {
	return Advertisement{
		Instance:    "studio",
		Port:        6910,
		Host:        "studio.local",
		IPs:         []net.IP{net.IPv4(192, 168, 1, 20)},
		ID:          "0d9c7b52-6f1e-4a43-9d7e-2b0c3c8f6a11",
		SampleRate:  48000,
		Format:      protocol.FormatF32,
		ChannelsIn:  4,
		ChannelsOut: 2,
	}
}

func TestTXTRoundTrip(t *testing.T) {
	ad := testAdvertisement()
	entry := &mdns.ServiceEntry{
		Name:       "studio._pcmlink._udp.local.",
		AddrV4:     ad.IPs[0],
		Port:       ad.Port,
		InfoFields: ad.TXT(),
	}

	ep, err := EndpointFromEntry(entry)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20:6910", ep.Addr.String())
	assert.Equal(t, ad.ID, ep.ID)
	assert.Equal(t, uint32(48000), ep.SampleRate)
	assert.Equal(t, protocol.FormatF32, ep.Format)
	assert.Equal(t, uint16(4), ep.ChannelsIn)
	assert.Equal(t, uint16(2), ep.ChannelsOut)

	req := ep.ConnectRequest()
	assert.Equal(t, protocol.ConnectRequest{ChannelsIn: 2, ChannelsOut: 4, SampleRate: 48000, Format: protocol.FormatF32}, req)
	assert.Contains(t, ep.String(), "studio")
}

func TestEndpointFromEntryFallsBackToIPv6(t *testing.T) {
	ad := testAdvertisement()
	ep, err := EndpointFromEntry(&mdns.ServiceEntry{
		Name:       "v6",
		AddrV6:     net.ParseIP("fe80::1"),
		Port:       7000,
		InfoFields: ad.TXT(),
	})
	require.NoError(t, err)
	assert.Equal(t, "[fe80::1]:7000", ep.Addr.String())
}

func TestEndpointFromEntryRejectsIncompleteAnswers(t *testing.T) {
	ad := testAdvertisement()

	_, err := EndpointFromEntry(nil)
	assert.Error(t, err)

	_, err = EndpointFromEntry(&mdns.ServiceEntry{Name: "no addr", Port: 1, InfoFields: ad.TXT()})
	assert.Error(t, err)

	_, err = EndpointFromEntry(&mdns.ServiceEntry{Name: "no txt", AddrV4: ad.IPs[0], Port: 1})
	assert.Error(t, err)

	_, err = EndpointFromEntry(&mdns.ServiceEntry{
		Name:       "bad format",
		AddrV4:     ad.IPs[0],
		Port:       1,
		InfoFields: []string{"rate=48000", "format=f16", "in=2", "out=2"},
	})
	assert.Error(t, err)
}

func TestNewServiceBuildsZone(t *testing.T) {
	service, err := NewService(testAdvertisement())
	require.NoError(t, err)
	assert.Equal(t, "studio", service.Instance)
	assert.Equal(t, ServiceType, service.Service)
	assert.Equal(t, 6910, service.Port)
	assert.Contains(t, service.TXT, "format=f32")
}
