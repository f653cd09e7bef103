package testutil

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func TestAssertHelpers_PassingCases(t *testing.T) {
	t.Parallel()

	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	AssertNoError(t, nil)
	AssertError(t, errors.New("boom"))
}

func TestKITTIScan(t *testing.T) {
	t.Parallel()

	data := KITTIScan([][4]float32{{1, 2, 3, 0.5}, {-1, 0, 0, 1}})
	if len(data) != 32 {
		t.Fatalf("len = %d, want 32", len(data))
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(data[8:])); got != 3 {
		t.Errorf("z = %v, want 3", got)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(data[16:])); got != -1 {
		t.Errorf("second x = %v, want -1", got)
	}
}

func TestPCAP_RoundTrip(t *testing.T) {
	t.Parallel()

	start := time.Unix(1700000000, 0).UTC()
	data := PCAP(t, []Datagram{
		{Payload: []byte("first"), Timestamp: start, DstPort: 2368},
		{Payload: []byte("second"), Timestamp: start.Add(time.Millisecond), DstPort: 7502},
	})

	r, err := pcapgo.NewReader(bytes.NewReader(data))
	AssertNoError(t, err)
	if r.LinkType() != layers.LinkTypeEthernet {
		t.Errorf("link type = %v", r.LinkType())
	}

	var ports []int
	for {
		pkt, ci, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		AssertNoError(t, err)
		p := gopacket.NewPacket(pkt, layers.LinkTypeEthernet, gopacket.Default)
		udp := p.Layer(layers.LayerTypeUDP).(*layers.UDP)
		ports = append(ports, int(udp.DstPort))
		if ci.Timestamp.IsZero() {
			t.Error("expected capture timestamp")
		}
	}
	if len(ports) != 2 || ports[0] != 2368 || ports[1] != 7502 {
		t.Errorf("ports = %v", ports)
	}
}
