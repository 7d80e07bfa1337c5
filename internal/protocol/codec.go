package protocol

import (
	"encoding/binary"
	"fmt"
)

// EncodeHeader serializes h into a fresh HeaderSize-byte buffer.
func EncodeHeader(h *Header) []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, h)
	return buf
}

func putHeader(buf []byte, h *Header) {
	binary.BigEndian.PutUint16(buf[0:2], h.Magic)
	buf[2] = h.Version
	buf[3] = uint8(h.Flags)
	binary.BigEndian.PutUint32(buf[4:8], h.Seq)
	binary.BigEndian.PutUint32(buf[8:12], h.AckBase)
	buf[12] = h.AckBits
	buf[13] = uint8(h.Channel)
	binary.BigEndian.PutUint16(buf[14:16], h.Size)
	binary.BigEndian.PutUint32(buf[16:20], h.ID)
	buf[20] = uint8(h.Command)
}

// DecodeHeader parses the first HeaderSize bytes of data. Magic and version
// are returned as read; validating them is the caller's policy.
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, newError(KindMalformedPacket, "header too short: %d bytes (need %d)", len(data), HeaderSize)
	}
	return Header{
		Magic:   binary.BigEndian.Uint16(data[0:2]),
		Version: data[2],
		Flags:   Flags(data[3]),
		Seq:     binary.BigEndian.Uint32(data[4:8]),
		AckBase: binary.BigEndian.Uint32(data[8:12]),
		AckBits: data[12],
		Channel: Channel(data[13]),
		Size:    binary.BigEndian.Uint16(data[14:16]),
		ID:      binary.BigEndian.Uint32(data[16:20]),
		Command: Command(data[20]),
	}, nil
}

// EncodePacket serializes pkt as header followed by payload. The size field
// is taken from the payload length, and pkt.Header.Size is updated to match.
// A payload longer than MaxPayloadSize is a programming error and panics.
func EncodePacket(pkt *Packet) []byte {
	if len(pkt.Payload) > MaxPayloadSize {
		panic(fmt.Sprintf("protocol: payload of %d bytes exceeds %d", len(pkt.Payload), MaxPayloadSize))
	}
	pkt.Header.Size = uint16(len(pkt.Payload))

	buf := make([]byte, HeaderSize+len(pkt.Payload))
	putHeader(buf, &pkt.Header)
	copy(buf[HeaderSize:], pkt.Payload)
	return buf
}

// DecodePacket parses a full datagram. Bytes beyond header.Size are ignored.
// The returned payload does not alias data.
func DecodePacket(data []byte) (*Packet, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	end := HeaderSize + int(h.Size)
	if len(data) < end {
		return nil, newError(KindMalformedPacket, "payload truncated: have %d bytes, header declares %d", len(data)-HeaderSize, h.Size)
	}
	pkt := &Packet{Header: h, Payload: make([]byte, h.Size)}
	copy(pkt.Payload, data[HeaderSize:end])
	return pkt, nil
}
