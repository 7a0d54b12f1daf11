package rtnet

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	trkerrors "github.com/CodedInternet/dextrack/tracker/errors"
)

func TestHeader(t *testing.T) {
	Convey("header fields are laid out little endian", t, func() {
		raw := Header{Type: Type3D, Unit: 2, Tick: 0x01020304, Time: 1.5, Count: 3}.marshal(nil)

		So(len(raw), ShouldEqual, headerSize)
		So(raw[0:2], ShouldResemble, []byte{0x58, 0x44})
		So(raw[2], ShouldEqual, Type3D)
		So(raw[3], ShouldEqual, 2)
		So(raw[4:8], ShouldResemble, []byte{0x04, 0x03, 0x02, 0x01})
		So(raw[16:18], ShouldResemble, []byte{0x03, 0x00})

		h, payload, err := ParseHeader(raw)
		So(err, ShouldBeNil)
		So(len(payload), ShouldEqual, 0)
		So(h.Time, ShouldEqual, 1.5)
		So(h.Tick, ShouldEqual, 0x01020304)
	})

	Convey("short and foreign packets are malformed", t, func() {
		var netErr trkerrors.NetworkError

		_, _, err := ParseHeader(RawPacket{0x58, 0x44, 0x10})
		So(errors.As(err, &netErr), ShouldBeTrue)
		So(netErr.Kind, ShouldEqual, trkerrors.Malformed)
		So(errors.Is(err, ErrShortPacket), ShouldBeTrue)

		raw := make(RawPacket, headerSize)
		_, _, err = ParseHeader(raw)
		So(errors.Is(err, ErrBadMagic), ShouldBeTrue)
	})
}

func TestDecode(t *testing.T) {
	Convey("3D results decode per unit and combined", t, func() {
		in := &Result3D{
			Tick: 7,
			Time: 0.035,
			Units: []UnitCoords{
				{Unit: 0, Coords: []Coord{{1, 2, 3, true}, {4, 5, 6, false}}},
				{Unit: 1, Coords: []Coord{{-1, -2, -3, true}}},
				{Unit: CombinedUnit, Coords: []Coord{{7, 8, 9, true}}},
			},
		}

		pkt, err := Decode(Encode3D(in))
		So(err, ShouldBeNil)
		So(pkt, ShouldHaveSameTypeAs, &Result3D{})
		So(pkt, ShouldResemble, in)
	})

	Convey("truncated 3D results are rejected", t, func() {
		raw := Encode3D(&Result3D{Units: []UnitCoords{{Unit: 0, Coords: []Coord{{1, 2, 3, true}}}}})
		_, err := Decode(raw[:len(raw)-4])
		So(errors.Is(err, ErrShortPacket), ShouldBeTrue)
	})

	Convey("ADC results decode", t, func() {
		in := &ResultADC{Tick: 3, Time: 0.015, Samples: []int16{-32768, 0, 12, 32767}}
		pkt, err := Decode(EncodeADC(in))
		So(err, ShouldBeNil)
		So(pkt, ShouldResemble, in)
	})

	Convey("error packets surface as device faults", t, func() {
		_, err := Decode(EncodeError(9, DeviceStatus{Faults: []uint32{0, 0x10}}))

		var devErr trkerrors.DeviceStatusError
		So(errors.As(err, &devErr), ShouldBeTrue)
		So(devErr.Faults, ShouldResemble, map[int]uint32{1: 0x10})
		So(err.Error(), ShouldContainSubstring, "unit 1: 0x00000010")
	})

	Convey("non data packets are unexpected", t, func() {
		_, err := Decode(EncodeHello(ProtocolVersion))
		So(errors.Is(err, ErrUnexpectedPacket), ShouldBeTrue)
	})
}

func TestControlPackets(t *testing.T) {
	Convey("hardware configs survive the wire", t, func() {
		in := []HWConfig{
			{ID: 1, Name: "cx1 only", Devices: []int{CX1Device}},
			{ID: 2, Name: "cx1 + adc", Devices: []int{CX1Device, 4}},
		}
		h, payload, err := ParseHeader(EncodeEnum(in))
		So(err, ShouldBeNil)

		out, err := decodeEnum(h, payload)
		So(err, ShouldBeNil)
		So(out, ShouldResemble, in)
		So(out[1].HasDevice(4), ShouldBeTrue)
		So(out[0].HasDevice(4), ShouldBeFalse)
	})

	Convey("configure options survive the wire", t, func() {
		in := Options{Mode: DefaultMode, PacketMode: PacketModeSeparateAndCombinedCoord, ConfigID: 1}
		_, payload, err := ParseHeader(EncodeConfigure(in))
		So(err, ShouldBeNil)

		out, err := decodeConfigure(payload)
		So(err, ShouldBeNil)
		So(out, ShouldResemble, in)
	})
}

func TestCheckVersion(t *testing.T) {
	Convey("compatible servers are accepted", t, func() {
		So(CheckVersion(ServerInfo{Version: "1.2.7"}), ShouldBeNil)
		So(CheckVersion(ServerInfo{Version: "DEV"}), ShouldBeNil)
	})

	Convey("incompatible servers are refused", t, func() {
		var cfgErr trkerrors.ConfigError
		So(errors.As(CheckVersion(ServerInfo{Version: "2.0.0"}), &cfgErr), ShouldBeTrue)
		So(errors.As(CheckVersion(ServerInfo{Version: "abc1234"}), &cfgErr), ShouldBeTrue)
	})
}

func TestDeviceStatus(t *testing.T) {
	Convey("healthy units report no error", t, func() {
		So(DeviceStatus{Faults: []uint32{0, 0}}.Err(), ShouldBeNil)
		So(DeviceStatus{}.Err(), ShouldBeNil)
	})

	Convey("a faulted unit is named", t, func() {
		err := DeviceStatus{Faults: []uint32{0, 0, 0x8}}.Err()
		So(err, ShouldHaveSameTypeAs, trkerrors.DeviceStatusError{})
		So(err.(trkerrors.DeviceStatusError).Faults, ShouldContainKey, 2)
	})
}
