package protocol

import "encoding/binary"

// FragmentHeaderSize is the size of the index/total prefix carried by every
// packet with FlagFragment set.
const FragmentHeaderSize = 4

// FragmentInfo is the prefix of a fragment payload.
type FragmentInfo struct {
	Index uint16
	Total uint16
}

// AppendFragment appends the fragment prefix followed by chunk to b.
func AppendFragment(b []byte, info FragmentInfo, chunk []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, info.Index)
	b = binary.BigEndian.AppendUint16(b, info.Total)
	return append(b, chunk...)
}

// SplitFragment parses the prefix of a fragment payload and returns the
// chunk that follows it. The chunk aliases payload.
func SplitFragment(payload []byte) (FragmentInfo, []byte, error) {
	if len(payload) < FragmentHeaderSize {
		return FragmentInfo{}, nil, newError(KindMalformedPacket, "fragment prefix too short: %d bytes", len(payload))
	}
	info := FragmentInfo{
		Index: binary.BigEndian.Uint16(payload[0:2]),
		Total: binary.BigEndian.Uint16(payload[2:4]),
	}
	if info.Total == 0 || info.Index >= info.Total {
		return FragmentInfo{}, nil, newError(KindMalformedPacket, "fragment %d of %d", info.Index, info.Total)
	}
	return info, payload[FragmentHeaderSize:], nil
}
