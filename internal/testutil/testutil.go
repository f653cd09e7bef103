// Package testutil provides shared test utilities and fixtures: assertion
// helpers plus builders for KITTI scans and UDP packet captures.
package testutil

import (
	"bytes"
	"encoding/binary"
	"math"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// KITTIScan encodes x, y, z, intensity quadruples as a KITTI velodyne .bin.
func KITTIScan(points [][4]float32) []byte {
	buf := make([]byte, 16*len(points))
	for i, p := range points {
		for j, v := range p {
			binary.LittleEndian.PutUint32(buf[16*i+4*j:], math.Float32bits(v))
		}
	}
	return buf
}

// Datagram describes one UDP packet written by PCAP.
type Datagram struct {
	Payload   []byte
	Timestamp time.Time
	DstPort   int
}

// PCAP builds an Ethernet/IPv4/UDP classic pcap file holding the datagrams.
func PCAP(t testing.TB, datagrams []Datagram) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("failed to write pcap header: %v", err)
	}

	for _, d := range datagrams {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x0a, 0x35, 0x00, 0x1e, 0x53},
			DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IP{192, 168, 1, 201},
			DstIP:    net.IP{192, 168, 1, 100},
		}
		udp := &layers.UDP{SrcPort: 10000, DstPort: layers.UDPPort(d.DstPort)}
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			t.Fatalf("failed to set checksum layer: %v", err)
		}

		sb := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(sb, opts, eth, ip, udp, gopacket.Payload(d.Payload)); err != nil {
			t.Fatalf("failed to serialize packet: %v", err)
		}
		data := sb.Bytes()
		ci := gopacket.CaptureInfo{Timestamp: d.Timestamp, CaptureLength: len(data), Length: len(data)}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("failed to write packet: %v", err)
		}
	}
	return buf.Bytes()
}
