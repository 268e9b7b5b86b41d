package cl

import (
	"bytes"
	"encoding/binary"

	"github.com/gomlx/gocl/cl/driver"
	"github.com/pkg/errors"
)

// infoQuery is one driver info call, with the parameters bound. It follows the size-then-fetch protocol.
type infoQuery func(dst []byte) (int, driver.Status)

// queryInfo asks for the size of the value first, and then fetches it into a buffer of exactly that size.
func queryInfo(call string, query infoQuery) ([]byte, error) {
	size, status := query(nil)
	if err := statusError(call, status); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}
	fetched, status := query(buf)
	if err := statusError(call, status); err != nil {
		return nil, err
	}
	if fetched != size {
		return nil, errors.Errorf("%s: value size changed from %d to %d bytes between calls", call, size, fetched)
	}
	return buf, nil
}

func queryString(call string, query infoQuery) (string, error) {
	value, err := queryInfo(call, query)
	if err != nil {
		return "", err
	}
	return string(bytes.TrimRight(value, "\x00")), nil
}

// queryUint decodes 4 or 8 bytes values.
func queryUint(call string, query infoQuery) (uint64, error) {
	value, err := queryInfo(call, query)
	if err != nil {
		return 0, err
	}
	switch len(value) {
	case 4:
		return uint64(binary.LittleEndian.Uint32(value)), nil
	case 8:
		return binary.LittleEndian.Uint64(value), nil
	default:
		return 0, errors.Errorf("%s: unexpected value of %d bytes for an integer", call, len(value))
	}
}

func queryHandles[H ~uintptr](call string, query infoQuery) ([]H, error) {
	value, err := queryInfo(call, query)
	if err != nil {
		return nil, err
	}
	if len(value)%8 != 0 {
		return nil, errors.Errorf("%s: unexpected value of %d bytes for a list of handles", call, len(value))
	}
	handles := make([]H, len(value)/8)
	for i := range handles {
		handles[i] = H(binary.LittleEndian.Uint64(value[8*i:]))
	}
	return handles, nil
}
