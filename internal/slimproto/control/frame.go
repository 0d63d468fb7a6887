// Package control implements the SlimProto command codec: the packed
// binary frames exchanged between SlimStreamer and each playback client.
// Every frame is length-prefixed: a 2-byte big-endian size followed by
// payload bytes packed without padding, multi-byte integers in network byte
// order.
package control

import (
	"encoding/binary"
	"fmt"

	"github.com/heiderich/slimstreamer/internal/bufpool"
	sserrors "github.com/heiderich/slimstreamer/internal/errors"
)

// Command selects the STRM command byte sent to a client.
type Command byte

const (
	CommandStart Command = 's'
	CommandStop  Command = 'q'
	CommandTime  Command = 't'
)

// startThreshold is the STRM "threshold" field. The original protocol
// documents it as irrelevant for capture; it is preserved verbatim rather
// than omitted.
const startThreshold byte = 1

// httpHeaderPrefix is prepended to the clientID to build the Start frame's
// httpHeader field.
const httpHeaderPrefix = "GET /stream.pcm?player="

// strmBaseSize is the fixed portion of the STRM payload: opcode(4) +
// command(1) + autostart(1) + format(1) + sampleSize(1) + sampleRate(1) +
// channels(1) + endianness(1) + threshold(1) + serverPort(2) + serverIP(4).
const strmBaseSize = 4 + 1 + 1 + 1 + 1 + 1 + 1 + 1 + 1 + 2 + 4

var sampleRateToByte = map[int]byte{
	8000:  '5',
	11025: '0',
	12000: '6',
	16000: '7',
	22500: '1',
	24000: '8',
	32000: '2',
	44100: '3',
	48000: '4',
	96000: '9',
}

var byteToSampleRate = func() map[byte]int {
	m := make(map[byte]int, len(sampleRateToByte))
	for hz, b := range sampleRateToByte {
		m[b] = hz
	}
	return m
}()

// EncodeSampleRate maps a sampling rate in Hz to its ASCII wire byte.
// 176400 and 192000 Hz are intentionally left unmapped (TODO in the
// original protocol); they and any other unknown rate encode as '?', which
// fails negotiation on the client side.
func EncodeSampleRate(hz int) byte {
	if b, ok := sampleRateToByte[hz]; ok {
		return b
	}
	return '?'
}

// DecodeSampleRate reverses EncodeSampleRate. '?' and any byte not present
// in the mapping table report ok=false.
func DecodeSampleRate(b byte) (int, bool) {
	hz, ok := byteToSampleRate[b]
	return hz, ok
}

// STRMFrame is the decoded form of a server-to-client STRM command.
type STRMFrame struct {
	Command      Command
	SampleRateHz int // 0 if the on-wire byte did not map to a known rate
	ServerPort   uint16
	HTTPHeader   string // only set for Start
}

// EncodeSTRM builds the wire bytes (2-byte size prefix + payload) of a STRM
// command. serverPort and clientID are only meaningful for CommandStart;
// samplingRate of 0 is valid for Stop/Time, where the byte is never
// inspected by the client.
func EncodeSTRM(cmd Command, serverPort uint16, samplingRateHz int, clientID string) []byte {
	var httpHeader string
	if cmd == CommandStart {
		httpHeader = httpHeaderPrefix + clientID
	}

	scratch := bufpool.Get(strmBaseSize + len(httpHeader))
	defer bufpool.Put(scratch)

	payload := scratch[:0]
	payload = append(payload, "strm"...)
	payload = append(payload, byte(cmd))
	payload = append(payload, '1') // autostart
	payload = append(payload, 'p') // format: PCM
	payload = append(payload, '3') // sampleSize: 32-bit
	payload = append(payload, EncodeSampleRate(samplingRateHz))
	payload = append(payload, '2') // channels: stereo
	payload = append(payload, '1') // endianness: WAV/little-endian
	payload = append(payload, startThreshold)

	var portBytes [2]byte
	if cmd == CommandStart {
		binary.BigEndian.PutUint16(portBytes[:], serverPort)
	}
	payload = append(payload, portBytes[:]...)
	payload = append(payload, 0, 0, 0, 0) // serverIP: zero means "this host"

	if cmd == CommandStart {
		payload = append(payload, httpHeader...)
	}

	out := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(payload)))
	copy(out[2:], payload)
	return out
}

// DecodeSTRM decodes the wire bytes of a STRM command produced by EncodeSTRM
// (size prefix included). It exists primarily to support round-trip testing
// of the codec; SlimStreamer itself only ever sends STRM frames.
func DecodeSTRM(data []byte) (*STRMFrame, int, error) {
	if len(data) < 2 {
		return nil, 0, sserrors.NewProtocolDecodeError("strm.decode", sserrors.DecodeIncomplete, nil)
	}
	size := int(binary.BigEndian.Uint16(data[0:2]))
	total := 2 + size
	if len(data) < total {
		return nil, 0, sserrors.NewProtocolDecodeError("strm.decode", sserrors.DecodeIncomplete, nil)
	}
	if size < strmBaseSize {
		return nil, 0, sserrors.NewProtocolDecodeError("strm.decode", sserrors.DecodeMalformed, fmt.Errorf("payload too short: %d bytes", size))
	}
	payload := data[2:total]
	if string(payload[0:4]) != "strm" {
		return nil, 0, sserrors.NewProtocolDecodeError("strm.decode", sserrors.DecodeUnknownOpcode, nil)
	}

	cmd := Command(payload[4])
	rateByte := payload[8]
	rateHz, _ := DecodeSampleRate(rateByte)
	serverPort := binary.BigEndian.Uint16(payload[12:14])

	frame := &STRMFrame{
		Command:      cmd,
		SampleRateHz: rateHz,
		ServerPort:   serverPort,
	}
	if cmd == CommandStart && len(payload) > strmBaseSize {
		frame.HTTPHeader = string(payload[strmBaseSize:])
	}
	return frame, total, nil
}

// ClientOpcode identifies a client-to-server frame.
type ClientOpcode string

const (
	OpcodeHELO ClientOpcode = "HELO"
	OpcodeSTAT ClientOpcode = "STAT"
	OpcodeRESP ClientOpcode = "RESP"
)

// HELOFrame identifies a client and delivers its clientID.
type HELOFrame struct {
	DeviceID byte
	Revision byte
	ClientID string // formatted like a MAC address, e.g. "AA:BB:CC:DD:EE:FF"
}

// STATFrame is a periodic client status report. Only the event code and
// elapsed-time fields are decoded; the rest of the real status payload is
// accepted but not interpreted.
type STATFrame struct {
	Event         string
	ElapsedMillis uint32
}

// RESPFrame echoes the HTTP headers the client received; informational only.
type RESPFrame struct {
	Raw []byte
}

// ClientFrame is the decoded form of any client-to-server frame.
type ClientFrame struct {
	Opcode ClientOpcode
	HELO   *HELOFrame
	STAT   *STATFrame
	RESP   *RESPFrame
}

const (
	heloMinLen = 4 + 1 + 1 + 6 // opcode + deviceID + revision + 6-byte MAC
	statMinLen = 4 + 4 + 6 + 4 // opcode + event + reserved + elapsedMillis
)

// DecodeClient decodes one client-to-server frame from the front of data,
// which must begin with the 2-byte size prefix. It returns the number of
// bytes consumed on success. DecodeIncomplete is returned when data does not
// yet contain a full frame (the caller should read more and retry);
// DecodeMalformed when a recognized opcode's payload is too short;
// DecodeUnknownOpcode when the 4-byte opcode isn't HELO/STAT/RESP.
func DecodeClient(data []byte) (*ClientFrame, int, error) {
	if len(data) < 2 {
		return nil, 0, sserrors.NewProtocolDecodeError("client.decode", sserrors.DecodeIncomplete, nil)
	}
	size := int(binary.BigEndian.Uint16(data[0:2]))
	total := 2 + size
	if len(data) < total {
		return nil, 0, sserrors.NewProtocolDecodeError("client.decode", sserrors.DecodeIncomplete, nil)
	}
	payload := data[2:total]
	if len(payload) < 4 {
		return nil, 0, sserrors.NewProtocolDecodeError("client.decode", sserrors.DecodeMalformed, fmt.Errorf("payload too short for an opcode: %d bytes", len(payload)))
	}

	switch ClientOpcode(payload[0:4]) {
	case OpcodeHELO:
		if len(payload) < heloMinLen {
			return nil, 0, sserrors.NewProtocolDecodeError("client.decode.helo", sserrors.DecodeMalformed, fmt.Errorf("HELO payload too short: %d bytes", len(payload)))
		}
		mac := payload[6:12]
		return &ClientFrame{
			Opcode: OpcodeHELO,
			HELO: &HELOFrame{
				DeviceID: payload[4],
				Revision: payload[5],
				ClientID: formatMAC(mac),
			},
		}, total, nil

	case OpcodeSTAT:
		if len(payload) < statMinLen {
			return nil, 0, sserrors.NewProtocolDecodeError("client.decode.stat", sserrors.DecodeMalformed, fmt.Errorf("STAT payload too short: %d bytes", len(payload)))
		}
		event := string(payload[4:8])
		elapsed := binary.BigEndian.Uint32(payload[14:18])
		return &ClientFrame{
			Opcode: OpcodeSTAT,
			STAT:   &STATFrame{Event: event, ElapsedMillis: elapsed},
		}, total, nil

	case OpcodeRESP:
		return &ClientFrame{
			Opcode: OpcodeRESP,
			RESP:   &RESPFrame{Raw: append([]byte(nil), payload[4:]...)},
		}, total, nil

	default:
		return nil, 0, sserrors.NewProtocolDecodeError("client.decode", sserrors.DecodeUnknownOpcode, fmt.Errorf("opcode %q", payload[0:4]))
	}
}

func formatMAC(mac []byte) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}
