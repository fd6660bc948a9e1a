package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// Record layout, version 1:
//
//	[version:1][uidLen:1][uid][flags:1][createdAt ms:8][expiresAt ms:8]
//
// The promotion script in store.go reads the same offsets.
const (
	formatVersion byte = 1

	flagMFAVerified byte = 1 << 0
)

// ErrCorrupt is returned when a stored record cannot be decoded.
var ErrCorrupt = errors.New("session record corrupt")

// Encode serialises s without its ID, which lives in the Redis key.
func Encode(s *Session) ([]byte, error) {
	if len(s.UserID) == 0 || len(s.UserID) > 255 {
		return nil, errors.New("session: user id must be 1..255 bytes")
	}

	var buf bytes.Buffer
	buf.Grow(3 + len(s.UserID) + 16)

	buf.WriteByte(formatVersion)
	buf.WriteByte(byte(len(s.UserID)))
	buf.WriteString(s.UserID)

	var flags byte
	if s.MFAVerified {
		flags |= flagMFAVerified
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (*Session, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}

	uidLen, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if uidLen == 0 {
		return nil, fmt.Errorf("%w: empty user id", ErrCorrupt)
	}
	uid := make([]byte, uidLen)
	if _, err := io.ReadFull(r, uid); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	flags, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var created, expires int64
	if err := binary.Read(r, binary.BigEndian, &created); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := binary.Read(r, binary.BigEndian, &expires); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, r.Len())
	}

	return &Session{
		UserID:      string(uid),
		MFAVerified: flags&flagMFAVerified != 0,
		CreatedAt:   time.UnixMilli(created),
		ExpiresAt:   time.UnixMilli(expires),
	}, nil
}
