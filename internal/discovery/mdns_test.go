// ABOUTME: Tests for mDNS discovery
// ABOUTME: Covers manager defaults and conversion of service entries
package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Studio", Port: 8927})
	require.NotNil(t, mgr)
	defer mgr.Stop()

	assert.Equal(t, DefaultPath, mgr.config.Path)
	assert.Equal(t, []string{"path=/playclock"}, mgr.txtRecords())
}

func TestTXTRecordsIncludeInfo(t *testing.T) {
	mgr := NewManager(Config{ServiceName: "Studio", Port: 8927, Path: "/ws", Info: []string{"id=abc"}})
	defer mgr.Stop()

	assert.Equal(t, []string{"path=/ws", "id=abc"}, mgr.txtRecords())
}

func TestServerFromEntry(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name:       "Studio._playclock._tcp.local.",
		Host:       "studio.local.",
		AddrV4:     net.IPv4(192, 168, 1, 20),
		Port:       8927,
		InfoFields: []string{"path=/playclock", "id=abc", "flag"},
	}

	info, ok := serverFromEntry(entry)
	require.True(t, ok)
	assert.Equal(t, "Studio", info.Name)
	assert.Equal(t, "192.168.1.20", info.Host)
	assert.Equal(t, "192.168.1.20:8927", info.Addr())
	assert.Equal(t, "ws://192.168.1.20:8927/playclock", info.URL())
	assert.Equal(t, "abc", info.Info["id"])
	assert.Contains(t, info.Info, "flag")
}

func TestServerFromEntryFallsBackToHostName(t *testing.T) {
	entry := &mdns.ServiceEntry{
		Name: "Studio._playclock._tcp.local.",
		Host: "studio.local.",
		Port: 9000,
	}

	info, ok := serverFromEntry(entry)
	require.True(t, ok)
	assert.Equal(t, "studio.local", info.Host)
	assert.Equal(t, "ws://studio.local:9000/playclock", info.URL())
}

func TestServerFromEntryRejectsOtherServices(t *testing.T) {
	_, ok := serverFromEntry(&mdns.ServiceEntry{Name: "Printer._ipp._tcp.local.", Port: 631, AddrV4: net.IPv4(10, 0, 0, 1)})
	assert.False(t, ok)

	_, ok = serverFromEntry(&mdns.ServiceEntry{Name: "Studio._playclock._tcp.local."})
	assert.False(t, ok)

	_, ok = serverFromEntry(nil)
	assert.False(t, ok)
}

func TestServerInfoIPv6Addr(t *testing.T) {
	info := &ServerInfo{Host: "fe80::1", Port: 8927}
	assert.Equal(t, "[fe80::1]:8927", info.Addr())
}
