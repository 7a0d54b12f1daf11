package rtnet

import (
	"encoding/binary"
	"errors"
	"math"

	trkerrors "github.com/CodedInternet/dextrack/tracker/errors"
)

// Every packet starts with an 18 byte little endian header:
//
//	magic u16 | type u8 | unit u8 | tick u32 | time f64 | count u16
//
// count is the number of payload records; their layout depends on type. A data
// or error packet sent in reply to a request carries the request's tick.
const (
	magic        uint16 = 0x4458
	headerSize          = 18
	coordSize           = 13
	configSize          = 7
	wireCombined        = 0xFF

	TypeHello     uint8 = 0x01
	TypeEnum      uint8 = 0x02
	TypeConfigure uint8 = 0x03
	TypeAck       uint8 = 0x04
	TypeRequest   uint8 = 0x05
	TypeStatus    uint8 = 0x06
	Type3D        uint8 = 0x10
	TypeADC       uint8 = 0x11
	TypeError     uint8 = 0x1F
)

var (
	ErrShortPacket = errors.New("packet is shorter than its header claims")
	ErrBadMagic    = errors.New("packet does not start with the protocol magic")
)

// RawPacket is one undecoded datagram.
type RawPacket []byte

type Header struct {
	Type  uint8
	Unit  uint8
	Tick  uint32
	Time  float64
	Count uint16
}

func (h Header) marshal(payload []byte) RawPacket {
	raw := make(RawPacket, headerSize+len(payload))
	binary.LittleEndian.PutUint16(raw[0:2], magic)
	raw[2] = h.Type
	raw[3] = h.Unit
	binary.LittleEndian.PutUint32(raw[4:8], h.Tick)
	binary.LittleEndian.PutUint64(raw[8:16], math.Float64bits(h.Time))
	binary.LittleEndian.PutUint16(raw[16:18], h.Count)
	copy(raw[headerSize:], payload)
	return raw
}

// ParseHeader splits a raw packet into its header and payload.
func ParseHeader(raw RawPacket) (h Header, payload []byte, err error) {
	if len(raw) < headerSize {
		return h, nil, malformed("header", ErrShortPacket)
	}
	if binary.LittleEndian.Uint16(raw[0:2]) != magic {
		return h, nil, malformed("header", ErrBadMagic)
	}

	h = Header{
		Type:  raw[2],
		Unit:  raw[3],
		Tick:  binary.LittleEndian.Uint32(raw[4:8]),
		Time:  math.Float64frombits(binary.LittleEndian.Uint64(raw[8:16])),
		Count: binary.LittleEndian.Uint16(raw[16:18]),
	}
	return h, raw[headerSize:], nil
}

func malformed(op string, err error) error {
	return trkerrors.NetworkError{Kind: trkerrors.Malformed, Op: op, Err: err}
}

// Packet is a decoded data packet, either *Result3D or *ResultADC.
type Packet interface {
	isPacket()
}

type Coord struct {
	X, Y, Z float32
	Visible bool
}

// UnitCoords holds the markers seen by one unit, or the combined set when Unit is CombinedUnit.
type UnitCoords struct {
	Unit   int
	Coords []Coord
}

// Result3D is one sample of marker coordinates from the CX1 device.
type Result3D struct {
	Tick  uint32
	Time  float64
	Units []UnitCoords
}

// ResultADC is one sample of the 16 bit analog channels.
type ResultADC struct {
	Tick    uint32
	Time    float64
	Samples []int16
}

func (*Result3D) isPacket()  {}
func (*ResultADC) isPacket() {}

func wireUnit(unit int) uint8 {
	if unit == CombinedUnit {
		return wireCombined
	}
	return uint8(unit)
}

func goUnit(unit uint8) int {
	if unit == wireCombined {
		return CombinedUnit
	}
	return int(unit)
}

func Encode3D(r *Result3D) RawPacket {
	size := 0
	for _, u := range r.Units {
		size += 2 + len(u.Coords)*coordSize
	}

	payload := make([]byte, 0, size)
	for _, u := range r.Units {
		payload = append(payload, wireUnit(u.Unit), uint8(len(u.Coords)))
		for _, c := range u.Coords {
			var b [coordSize]byte
			binary.LittleEndian.PutUint32(b[0:4], math.Float32bits(c.X))
			binary.LittleEndian.PutUint32(b[4:8], math.Float32bits(c.Y))
			binary.LittleEndian.PutUint32(b[8:12], math.Float32bits(c.Z))
			if c.Visible {
				b[12] = 1
			}
			payload = append(payload, b[:]...)
		}
	}

	return Header{
		Type:  Type3D,
		Unit:  wireCombined,
		Tick:  r.Tick,
		Time:  r.Time,
		Count: uint16(len(r.Units)),
	}.marshal(payload)
}

func decode3D(h Header, payload []byte) (*Result3D, error) {
	r := &Result3D{
		Tick:  h.Tick,
		Time:  h.Time,
		Units: make([]UnitCoords, 0, h.Count),
	}

	for i := 0; i < int(h.Count); i++ {
		if len(payload) < 2 {
			return nil, malformed("decode 3D", ErrShortPacket)
		}
		unit, n := payload[0], int(payload[1])
		payload = payload[2:]

		if len(payload) < n*coordSize {
			return nil, malformed("decode 3D", ErrShortPacket)
		}

		coords := make([]Coord, n)
		for j := range coords {
			b := payload[j*coordSize : (j+1)*coordSize]
			coords[j] = Coord{
				X:       math.Float32frombits(binary.LittleEndian.Uint32(b[0:4])),
				Y:       math.Float32frombits(binary.LittleEndian.Uint32(b[4:8])),
				Z:       math.Float32frombits(binary.LittleEndian.Uint32(b[8:12])),
				Visible: b[12] != 0,
			}
		}
		payload = payload[n*coordSize:]

		r.Units = append(r.Units, UnitCoords{Unit: goUnit(unit), Coords: coords})
	}

	return r, nil
}

func EncodeADC(r *ResultADC) RawPacket {
	payload := make([]byte, 2*len(r.Samples))
	for i, s := range r.Samples {
		binary.LittleEndian.PutUint16(payload[2*i:], uint16(s))
	}

	return Header{
		Type:  TypeADC,
		Tick:  r.Tick,
		Time:  r.Time,
		Count: uint16(len(r.Samples)),
	}.marshal(payload)
}

func decodeADC(h Header, payload []byte) (*ResultADC, error) {
	if len(payload) < 2*int(h.Count) {
		return nil, malformed("decode ADC", ErrShortPacket)
	}

	r := &ResultADC{
		Tick:    h.Tick,
		Time:    h.Time,
		Samples: make([]int16, h.Count),
	}
	for i := range r.Samples {
		r.Samples[i] = int16(binary.LittleEndian.Uint16(payload[2*i:]))
	}
	return r, nil
}

func encodeFaults(typ uint8, tick uint32, status DeviceStatus) RawPacket {
	payload := make([]byte, 4*len(status.Faults))
	for i, f := range status.Faults {
		binary.LittleEndian.PutUint32(payload[4*i:], f)
	}
	return Header{Type: typ, Tick: tick, Count: uint16(len(status.Faults))}.marshal(payload)
}

// EncodeStatus is the reply to a status request.
func EncodeStatus(tick uint32, status DeviceStatus) RawPacket {
	return encodeFaults(TypeStatus, tick, status)
}

// EncodeError is sent by the server in place of data when a unit has faulted.
func EncodeError(tick uint32, status DeviceStatus) RawPacket {
	return encodeFaults(TypeError, tick, status)
}

func decodeFaults(h Header, payload []byte) (DeviceStatus, error) {
	if len(payload) < 4*int(h.Count) {
		return DeviceStatus{}, malformed("decode status", ErrShortPacket)
	}

	status := DeviceStatus{Faults: make([]uint32, h.Count)}
	for i := range status.Faults {
		status.Faults[i] = binary.LittleEndian.Uint32(payload[4*i:])
	}
	return status, nil
}

func EncodeHello(version string) RawPacket {
	return Header{Type: TypeHello, Count: uint16(len(version))}.marshal([]byte(version))
}

func EncodeEnum(configs []HWConfig) RawPacket {
	var payload []byte
	for _, c := range configs {
		payload = binary.LittleEndian.AppendUint16(payload, uint16(c.ID))
		payload = append(payload, uint8(len(c.Name)))
		payload = append(payload, c.Name...)
		payload = append(payload, uint8(len(c.Devices)))
		for _, d := range c.Devices {
			payload = append(payload, uint8(d))
		}
	}
	return Header{Type: TypeEnum, Count: uint16(len(configs))}.marshal(payload)
}

func decodeEnum(h Header, payload []byte) ([]HWConfig, error) {
	configs := make([]HWConfig, 0, h.Count)
	for i := 0; i < int(h.Count); i++ {
		if len(payload) < 3 {
			return nil, malformed("decode configs", ErrShortPacket)
		}
		c := HWConfig{ID: int(binary.LittleEndian.Uint16(payload[0:2]))}
		n := int(payload[2])
		payload = payload[3:]

		if len(payload) < n+1 {
			return nil, malformed("decode configs", ErrShortPacket)
		}
		c.Name = string(payload[:n])
		nDev := int(payload[n])
		payload = payload[n+1:]

		if len(payload) < nDev {
			return nil, malformed("decode configs", ErrShortPacket)
		}
		c.Devices = make([]int, nDev)
		for j := range c.Devices {
			c.Devices[j] = int(payload[j])
		}
		payload = payload[nDev:]

		configs = append(configs, c)
	}
	return configs, nil
}

func EncodeConfigure(opts Options) RawPacket {
	payload := make([]byte, configSize)
	binary.LittleEndian.PutUint16(payload[0:2], opts.Mode.RateHz)
	payload[2] = opts.Mode.Decimation
	if opts.Mode.ExternalSync {
		payload[3] = 1
	}
	payload[4] = uint8(opts.PacketMode)
	binary.LittleEndian.PutUint16(payload[5:7], uint16(opts.ConfigID))
	return Header{Type: TypeConfigure, Count: 1}.marshal(payload)
}

func decodeConfigure(payload []byte) (Options, error) {
	if len(payload) < configSize {
		return Options{}, malformed("decode configure", ErrShortPacket)
	}
	return Options{
		Mode: Mode{
			RateHz:       binary.LittleEndian.Uint16(payload[0:2]),
			Decimation:   payload[2],
			ExternalSync: payload[3] != 0,
		},
		PacketMode: PacketMode(payload[4]),
		ConfigID:   int(binary.LittleEndian.Uint16(payload[5:7])),
	}, nil
}

func encodeRequest(typ uint8, tick uint32) RawPacket {
	return Header{Type: typ, Tick: tick}.marshal(nil)
}

// Decode turns a data packet into a *Result3D or *ResultADC. An error packet
// from the server comes back as a DeviceStatusError.
func Decode(raw RawPacket) (Packet, error) {
	h, payload, err := ParseHeader(raw)
	if err != nil {
		return nil, err
	}

	switch h.Type {
	case Type3D:
		return decode3D(h, payload)

	case TypeADC:
		return decodeADC(h, payload)

	case TypeError:
		status, err := decodeFaults(h, payload)
		if err != nil {
			return nil, err
		}
		if err := status.Err(); err != nil {
			return nil, err
		}
		return nil, trkerrors.DeviceStatusError{}

	default:
		return nil, malformed("decode", ErrUnexpectedPacket)
	}
}
