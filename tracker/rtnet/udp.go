package rtnet

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	trkerrors "github.com/CodedInternet/dextrack/tracker/errors"
)

const (
	DefaultTimeout = 20 * time.Millisecond
	maxPacketSize  = 2048
)

// UDPClient talks to the server with one request datagram per reply.
type UDPClient struct {
	timeout time.Duration

	lock sync.Mutex
	conn *net.UDPConn
	tick uint32
	buf  []byte
}

func NewUDPClient(timeout time.Duration) *UDPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &UDPClient{
		timeout: timeout,
		buf:     make([]byte, maxPacketSize),
	}
}

func (c *UDPClient) Connect(ctx context.Context, address string, port int) (info ServerInfo, err error) {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return info, trkerrors.ConfigError{Field: "address", Reason: err.Error()}
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return info, trkerrors.NetworkError{Kind: trkerrors.ConnectionLost, Op: "connect", Err: err}
	}

	c.lock.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.lock.Unlock()

	h, payload, err := c.exchange(ctx, TypeHello, "connect")
	if err != nil {
		return info, err
	}
	if int(h.Count) > len(payload) {
		return info, malformed("connect", ErrShortPacket)
	}

	info.Version = string(payload[:h.Count])
	return info, nil
}

func (c *UDPClient) EnumerateConfigs(ctx context.Context) ([]HWConfig, error) {
	h, payload, err := c.exchange(ctx, TypeEnum, "enumerate")
	if err != nil {
		return nil, err
	}
	return decodeEnum(h, payload)
}

func (c *UDPClient) Configure(ctx context.Context, opts Options) error {
	raw, err := c.roundTrip(ctx, EncodeConfigure(opts), "configure", func(h Header) bool {
		return h.Type == TypeAck || h.Type == TypeError
	})
	if err != nil {
		return err
	}

	h, payload, err := ParseHeader(raw)
	if err != nil {
		return err
	}

	switch h.Type {
	case TypeAck:
		return nil
	case TypeError:
		status, err := decodeFaults(h, payload)
		if err != nil {
			return err
		}
		if err := status.Err(); err != nil {
			return err
		}
		return trkerrors.DeviceStatusError{}
	default:
		return malformed("configure", ErrUnexpectedPacket)
	}
}

// Receive requests the next data packet. The packet is returned undecoded.
// Replies to earlier requests that arrive late are discarded.
func (c *UDPClient) Receive(ctx context.Context) (RawPacket, error) {
	c.lock.Lock()
	c.tick++
	tick := c.tick
	c.lock.Unlock()

	return c.roundTrip(ctx, encodeRequest(TypeRequest, tick), "receive", func(h Header) bool {
		if h.Tick != tick {
			return false
		}
		return h.Type == Type3D || h.Type == TypeADC || h.Type == TypeError
	})
}

func (c *UDPClient) Decode(raw RawPacket) (Packet, error) {
	return Decode(raw)
}

func (c *UDPClient) DeviceStatus(ctx context.Context) (DeviceStatus, error) {
	h, payload, err := c.exchange(ctx, TypeStatus, "status")
	if err != nil {
		return DeviceStatus{}, err
	}
	return decodeFaults(h, payload)
}

func (c *UDPClient) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// exchange sends a bare request and waits for a reply of the same type.
func (c *UDPClient) exchange(ctx context.Context, typ uint8, op string) (Header, []byte, error) {
	raw, err := c.roundTrip(ctx, encodeRequest(typ, 0), op, func(h Header) bool {
		return h.Type == typ
	})
	if err != nil {
		return Header{}, nil, err
	}
	return ParseHeader(raw)
}

// roundTrip sends req and reads until a datagram passes verify or the deadline
// expires. Datagrams that fail verify are stale replies and are dropped.
func (c *UDPClient) roundTrip(ctx context.Context, req RawPacket, op string, verify func(Header) bool) (RawPacket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// one request in flight at a time
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.conn == nil {
		return nil, trkerrors.NetworkError{Kind: trkerrors.ConnectionLost, Op: op, Err: ErrNotConnected}
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, classify(op, err)
	}

	if _, err := c.conn.Write(req); err != nil {
		return nil, classify(op, err)
	}

	for {
		n, err := c.conn.Read(c.buf)
		if err != nil {
			return nil, classify(op, err)
		}

		h, _, err := ParseHeader(c.buf[:n])
		if err != nil {
			return nil, err
		}
		if !verify(h) {
			continue
		}

		raw := make(RawPacket, n)
		copy(raw, c.buf[:n])
		return raw, nil
	}
}

func classify(op string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return trkerrors.NetworkError{Kind: trkerrors.Timeout, Op: op, Err: err}
	}
	return trkerrors.NetworkError{Kind: trkerrors.ConnectionLost, Op: op, Err: err}
}
