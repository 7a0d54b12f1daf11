package rtnet

import (
	"context"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	trkerrors "github.com/CodedInternet/dextrack/tracker/errors"
)

// ReplayClient plays back the server side of a captured session. Every UDP
// datagram sent from Port that carries a data or error packet is handed out by
// Receive in capture order.
type ReplayClient struct {
	Path    string
	Port    int
	Configs []HWConfig

	lock   sync.Mutex
	file   *os.File
	source *gopacket.PacketSource
	opts   Options
}

// NewReplayClient replays server traffic from the pcap file at path.
func NewReplayClient(path string, port int) *ReplayClient {
	return &ReplayClient{
		Path: path,
		Port: port,
		Configs: []HWConfig{
			{ID: 1, Name: "CX1 replay", Devices: []int{CX1Device}},
		},
	}
}

func (c *ReplayClient) Connect(ctx context.Context, address string, port int) (ServerInfo, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return ServerInfo{}, trkerrors.ConfigError{Field: "replay", Reason: err.Error()}
	}

	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return ServerInfo{}, trkerrors.ConfigError{Field: "replay", Reason: err.Error()}
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.file != nil {
		c.file.Close()
	}
	c.file = f
	c.source = gopacket.NewPacketSource(r, r.LinkType())

	return ServerInfo{Version: ProtocolVersion}, nil
}

func (c *ReplayClient) EnumerateConfigs(ctx context.Context) ([]HWConfig, error) {
	return c.Configs, nil
}

func (c *ReplayClient) Configure(ctx context.Context, opts Options) error {
	c.lock.Lock()
	c.opts = opts
	c.lock.Unlock()
	return nil
}

func (c *ReplayClient) Receive(ctx context.Context) (RawPacket, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.source == nil {
		return nil, trkerrors.NetworkError{Kind: trkerrors.ConnectionLost, Op: "receive", Err: ErrNotConnected}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		packet, err := c.source.NextPacket()
		if err != nil {
			// io.EOF at the end of the capture, anything else means it is truncated
			return nil, trkerrors.NetworkError{Kind: trkerrors.ConnectionLost, Op: "receive", Err: err}
		}

		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp := udpLayer.(*layers.UDP)
		if int(udp.SrcPort) != c.Port {
			continue
		}

		h, _, err := ParseHeader(udp.Payload)
		if err != nil {
			continue
		}
		switch h.Type {
		case Type3D, TypeADC, TypeError:
			raw := make(RawPacket, len(udp.Payload))
			copy(raw, udp.Payload)
			return raw, nil
		}
	}
}

func (c *ReplayClient) Decode(raw RawPacket) (Packet, error) {
	return Decode(raw)
}

// DeviceStatus reports healthy units; faults in a capture arrive as error packets.
func (c *ReplayClient) DeviceStatus(ctx context.Context) (DeviceStatus, error) {
	return DeviceStatus{}, nil
}

func (c *ReplayClient) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.source = nil
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}
