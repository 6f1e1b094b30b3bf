package ca

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Channel Access message commands used by this client.
const (
	cmdVersion      uint16 = 0
	cmdSearch       uint16 = 6
	cmdError        uint16 = 11
	cmdClearChannel uint16 = 12
	cmdNotFound     uint16 = 14
	cmdReadNotify   uint16 = 15
	cmdCreateChan   uint16 = 18
	cmdClientName   uint16 = 20
	cmdHostName     uint16 = 21
	cmdAccessRights uint16 = 22
	cmdCreateChFail uint16 = 26
)

// minorVersion is the CA protocol minor revision this client speaks.
// TCP name search requires at least 12.
const minorVersion = 13

// searchDoReply asks the server to answer a failed search explicitly.
const searchDoReply = 10

// ecaNormal is the CA status code of a successful operation.
const ecaNormal = 1

const headerLen = 16

// maxPayload is the standard CA payload bound. The large-payload header
// extension is not spoken by this client.
const maxPayload = 0x4000 - headerLen

// frame is one CA protocol message: the fixed 16-byte header plus a payload
// padded to an 8-byte boundary on the wire.
type frame struct {
	Command  uint16
	DataType uint16
	Count    uint16
	Param1   uint32
	Param2   uint32
	Payload  []byte
}

func encodeFrame(f frame) ([]byte, error) {
	padded := (len(f.Payload) + 7) &^ 7
	if padded > maxPayload {
		return nil, fmt.Errorf("payload length %d exceeds maximum %d", len(f.Payload), maxPayload)
	}

	buf := make([]byte, headerLen+padded)
	binary.BigEndian.PutUint16(buf[0:2], f.Command)
	binary.BigEndian.PutUint16(buf[2:4], uint16(padded))
	binary.BigEndian.PutUint16(buf[4:6], f.DataType)
	binary.BigEndian.PutUint16(buf[6:8], f.Count)
	binary.BigEndian.PutUint32(buf[8:12], f.Param1)
	binary.BigEndian.PutUint32(buf[12:16], f.Param2)
	copy(buf[headerLen:], f.Payload)

	return buf, nil
}

func readFrame(r io.Reader) (frame, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return frame{}, fmt.Errorf("read frame header: %w", err)
	}

	f := frame{
		Command:  binary.BigEndian.Uint16(header[0:2]),
		DataType: binary.BigEndian.Uint16(header[4:6]),
		Count:    binary.BigEndian.Uint16(header[6:8]),
		Param1:   binary.BigEndian.Uint32(header[8:12]),
		Param2:   binary.BigEndian.Uint32(header[12:16]),
	}

	size := int(binary.BigEndian.Uint16(header[2:4]))
	if size > maxPayload {
		return frame{}, fmt.Errorf("frame payload length %d exceeds maximum %d", size, maxPayload)
	}
	if size > 0 {
		f.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return frame{}, fmt.Errorf("read frame payload: %w", err)
		}
	}

	return f, nil
}

// namePayload renders a PV name as the NUL-terminated C string CA expects.
func namePayload(name string) []byte {
	return append([]byte(name), 0)
}
