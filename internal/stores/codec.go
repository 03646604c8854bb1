package stores

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Binary record encoding for the Redis backend. Version-prefixed so record
// shape can evolve without flag days; strings are uint16-length-prefixed,
// maps are uint8-count-prefixed key/value pairs, integers are big endian.

const (
	challengeRecordVersion1 = 1
	grantRecordVersion1     = 1
)

var errCorruptRecord = errors.New("corrupt store record")

func writeString(b *bytes.Buffer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("%w: string too long", errCorruptRecord)
	}
	if err := binary.Write(b, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := b.WriteString(s)
	return err
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", errCorruptRecord
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", errCorruptRecord
	}
	return string(buf), nil
}

func writeStringMap(b *bytes.Buffer, m map[string]string) error {
	if len(m) > 0xFF {
		return fmt.Errorf("%w: map too large", errCorruptRecord)
	}
	if err := b.WriteByte(byte(len(m))); err != nil {
		return err
	}
	for k, v := range m {
		if err := writeString(b, k); err != nil {
			return err
		}
		if err := writeString(b, v); err != nil {
			return err
		}
	}
	return nil
}

func readStringMap(r *bytes.Reader) (map[string]string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	m := make(map[string]string, n)
	for i := 0; i < int(n); i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func encodeChallengeRecord(rec *ChallengeRecord) ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte(challengeRecordVersion1)

	if err := writeString(&b, rec.Principal); err != nil {
		return nil, err
	}
	if err := writeString(&b, rec.Action); err != nil {
		return nil, err
	}
	if err := writeStringMap(&b, rec.Codes); err != nil {
		return nil, err
	}
	if err := writeStringMap(&b, rec.Handles); err != nil {
		return nil, err
	}
	if err := binary.Write(&b, binary.BigEndian, rec.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&b, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}
	b.WriteByte(rec.Attempts)
	if rec.Used {
		b.WriteByte(1)
	} else {
		b.WriteByte(0)
	}

	return b.Bytes(), nil
}

func decodeChallengeRecord(data []byte) (*ChallengeRecord, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil || version != challengeRecordVersion1 {
		return nil, errCorruptRecord
	}

	rec := &ChallengeRecord{}
	if rec.Principal, err = readString(r); err != nil {
		return nil, err
	}
	if rec.Action, err = readString(r); err != nil {
		return nil, err
	}
	if rec.Codes, err = readStringMap(r); err != nil {
		return nil, err
	}
	if rec.Handles, err = readStringMap(r); err != nil {
		return nil, err
	}
	if err = binary.Read(r, binary.BigEndian, &rec.IssuedAt); err != nil {
		return nil, errCorruptRecord
	}
	if err = binary.Read(r, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, errCorruptRecord
	}
	attempts, err := r.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	rec.Attempts = attempts
	used, err := r.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	rec.Used = used == 1

	if r.Len() != 0 {
		return nil, errCorruptRecord
	}
	return rec, nil
}

func encodeGrantRecord(rec *GrantRecord) ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte(grantRecordVersion1)

	if err := writeString(&b, rec.Principal); err != nil {
		return nil, err
	}
	if err := writeString(&b, rec.Action); err != nil {
		return nil, err
	}
	if err := binary.Write(&b, binary.BigEndian, rec.GrantedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&b, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}
	var flags byte
	if rec.SingleUse {
		flags |= 1
	}
	if rec.Consumed {
		flags |= 2
	}
	b.WriteByte(flags)

	return b.Bytes(), nil
}

func decodeGrantRecord(data []byte) (*GrantRecord, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil || version != grantRecordVersion1 {
		return nil, errCorruptRecord
	}

	rec := &GrantRecord{}
	if rec.Principal, err = readString(r); err != nil {
		return nil, err
	}
	if rec.Action, err = readString(r); err != nil {
		return nil, err
	}
	if err = binary.Read(r, binary.BigEndian, &rec.GrantedAt); err != nil {
		return nil, errCorruptRecord
	}
	if err = binary.Read(r, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, errCorruptRecord
	}
	flags, err := r.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	rec.SingleUse = flags&1 != 0
	rec.Consumed = flags&2 != 0

	if r.Len() != 0 {
		return nil, errCorruptRecord
	}
	return rec, nil
}
