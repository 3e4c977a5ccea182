// Package rtpext reads and writes RFC 8285 one-byte RTP header extensions
// directly on the wire encoding, without round-tripping the whole packet
// through a parser. All offsets are validated against the buffer length
// before use.
package rtpext

import (
	"encoding/binary"
	"errors"
)

const (
	// ProfileOneByte identifies the one-byte extension element encoding.
	ProfileOneByte = 0xBEDE

	fixedHeaderSize = 12
	extHeaderSize   = 4
	extensionFlag   = 0x10
	csrcCountMask   = 0x0F

	minExtensionID = 1
	maxExtensionID = 14
	// A one-byte element length field is 4 bits storing len-1, so values
	// span 1 to 16 bytes.
	maxElementLen = 16
)

var (
	// ErrShortPacket means the buffer is too small to hold the header
	// structure its own fields describe.
	ErrShortPacket = errors.New("packet is not large enough")
	// ErrInvalidID means the extension id is outside the one-byte range.
	ErrInvalidID = errors.New("extension id out of one-byte range [1,14]")
	// ErrValueLength means the element value does not fit a one-byte
	// length field.
	ErrValueLength = errors.New("extension value must be 1 to 16 bytes")
)

// headerLen returns the length of the fixed header including CSRCs, after
// validating the buffer can hold it.
func headerLen(buf []byte) (int, error) {
	if len(buf) < fixedHeaderSize {
		return 0, ErrShortPacket
	}
	n := fixedHeaderSize + 4*int(buf[0]&csrcCountMask)
	if len(buf) < n {
		return 0, ErrShortPacket
	}
	return n, nil
}

// extBlock locates the extension block payload, returning the offset of the
// 4-byte extension header and the block length in bytes. ok is false when
// the packet carries no extension or a profile other than ProfileOneByte.
func extBlock(buf []byte) (offset, length int, ok bool, err error) {
	hdrLen, err := headerLen(buf)
	if err != nil {
		return 0, 0, false, err
	}
	if buf[0]&extensionFlag == 0 {
		return hdrLen, 0, false, nil
	}
	if len(buf) < hdrLen+extHeaderSize {
		return 0, 0, false, ErrShortPacket
	}
	if binary.BigEndian.Uint16(buf[hdrLen:]) != ProfileOneByte {
		return hdrLen, 0, false, nil
	}
	length = 4 * int(binary.BigEndian.Uint16(buf[hdrLen+2:]))
	if len(buf) < hdrLen+extHeaderSize+length {
		return 0, 0, false, ErrShortPacket
	}
	return hdrLen, length, true, nil
}

// AddExtension appends a one-byte header extension element (id, value) to
// the RTP packet in buf and returns the rewritten packet.
//
// A packet without an extension block gets a fresh ProfileOneByte block
// inserted after the fixed header. A packet that already carries a
// ProfileOneByte block has the element appended after the existing
// elements, re-padding the block to a 32-bit word boundary. A packet
// carrying a foreign extension profile is returned unchanged since it
// cannot be augmented with one-byte elements.
func AddExtension(buf []byte, id uint8, value []byte) ([]byte, error) {
	if id < minExtensionID || id > maxExtensionID {
		return nil, ErrInvalidID
	}
	if len(value) == 0 || len(value) > maxElementLen {
		return nil, ErrValueLength
	}
	hdrLen, err := headerLen(buf)
	if err != nil {
		return nil, err
	}

	element := make([]byte, 1+len(value))
	element[0] = id<<4 | uint8(len(value)-1)
	copy(element[1:], value)

	if buf[0]&extensionFlag != 0 {
		offset, extLen, ok, err := extBlock(buf)
		if err != nil {
			return nil, err
		}
		if !ok {
			return buf, nil
		}
		blockEnd := offset + extHeaderSize + extLen
		newWords := (extLen + len(element) + 3) / 4

		out := make([]byte, 0, len(buf)+len(element)+3)
		out = append(out, buf[:blockEnd]...)
		out = append(out, element...)
		for len(out) < offset+extHeaderSize+newWords*4 {
			out = append(out, 0)
		}
		out = append(out, buf[blockEnd:]...)
		binary.BigEndian.PutUint16(out[offset+2:], uint16(newWords))
		return out, nil
	}

	words := (len(element) + 3) / 4
	out := make([]byte, 0, len(buf)+extHeaderSize+words*4)
	out = append(out, buf[:hdrLen]...)
	out[0] |= extensionFlag

	var extHeader [extHeaderSize]byte
	binary.BigEndian.PutUint16(extHeader[0:], ProfileOneByte)
	binary.BigEndian.PutUint16(extHeader[2:], uint16(words))
	out = append(out, extHeader[:]...)

	out = append(out, element...)
	for len(out) < hdrLen+extHeaderSize+words*4 {
		out = append(out, 0)
	}
	out = append(out, buf[hdrLen:]...)
	return out, nil
}

// GetExtension returns the value of the one-byte extension element with the
// given id, or ok=false when the packet carries no such element.
func GetExtension(buf []byte, id uint8) (value []byte, ok bool) {
	offset, extLen, ok, err := extBlock(buf)
	if err != nil || !ok {
		return nil, false
	}
	block := buf[offset+extHeaderSize : offset+extHeaderSize+extLen]
	for i := 0; i < len(block); {
		if block[i] == 0 { // padding
			i++
			continue
		}
		elementID := block[i] >> 4
		elementLen := int(block[i]&0x0F) + 1
		if elementID == 15 {
			// Reserved id, stop processing per RFC 8285.
			break
		}
		if i+1+elementLen > len(block) {
			break
		}
		if elementID == id {
			return block[i+1 : i+1+elementLen], true
		}
		i += 1 + elementLen
	}
	return nil, false
}
