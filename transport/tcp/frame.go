package tcp

import (
	"encoding/binary"
	"io"
)

// Frames on the wire are a 2-byte big-endian length followed by that many
// payload bytes.

func writeFrame(w io.Writer, data []byte) error {
	var header [2]byte
	binary.BigEndian.PutUint16(header[:], uint16(len(data)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	_, err := w.Write(data)

	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint16(header[:])
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	return data, nil
}
