package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FragmentHeader is a decoded record marker.
type FragmentHeader struct {
	IsLast bool
	Length uint32
}

func ReadFragmentHeader(r io.Reader) (FragmentHeader, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return FragmentHeader{}, err
	}
	header := binary.BigEndian.Uint32(buf[:])
	return FragmentHeader{
		IsLast: header&LastFragmentFlag != 0,
		Length: header & FragmentSizeMask,
	}, nil
}

// ReadRecord reads fragments from r until the last one and returns the
// reassembled message. Records larger than maxSize are refused.
func ReadRecord(r io.Reader, maxSize uint32) ([]byte, error) {
	var record []byte
	for {
		header, err := ReadFragmentHeader(r)
		if err != nil {
			if len(record) > 0 && err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if uint64(len(record))+uint64(header.Length) > uint64(maxSize) {
			return nil, fmt.Errorf("record too large: %d bytes exceeds %d", uint64(len(record))+uint64(header.Length), maxSize)
		}

		start := len(record)
		record = append(record, make([]byte, header.Length)...)
		if _, err := io.ReadFull(r, record[start:]); err != nil {
			return nil, fmt.Errorf("read fragment: %w", err)
		}
		if header.IsLast {
			return record, nil
		}
	}
}
