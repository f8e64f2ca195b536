package ranging

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

// TokenVersion is the only envelope version UnarchiveToken accepts
const TokenVersion = 1

// ErrMalformedToken is returned when archived bytes cannot be turned back into a token
var ErrMalformedToken = errors.New("malformed discovery token")

// Field numbers of the archived envelope
const (
	fieldVersion   protowire.Number = 1
	fieldSessionID protowire.Number = 2
	fieldDeviceID  protowire.Number = 3
	fieldNonce     protowire.Number = 4
)

// DiscoveryToken addresses one ranging session attempt. The coordinators only
// move it around; the engine is the only thing that looks inside.
type DiscoveryToken struct {
	SessionID uuid.UUID
	DeviceID  string
	Nonce     []byte
}

// Equal reports whether two tokens address the same session attempt
func (t *DiscoveryToken) Equal(other *DiscoveryToken) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.SessionID == other.SessionID &&
		t.DeviceID == other.DeviceID &&
		bytes.Equal(t.Nonce, other.Nonce)
}

func (t *DiscoveryToken) String() string {
	if t == nil {
		return "<nil token>"
	}
	return fmt.Sprintf("token(%s)", t.SessionID.String()[:8])
}

// ArchiveToken serializes a token into its protobuf wire envelope
func ArchiveToken(t *DiscoveryToken) ([]byte, error) {
	if t == nil {
		return nil, fmt.Errorf("archive token: %w", ErrMalformedToken)
	}

	var b []byte
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, TokenVersion)

	sid := t.SessionID
	b = protowire.AppendTag(b, fieldSessionID, protowire.BytesType)
	b = protowire.AppendBytes(b, sid[:])

	if t.DeviceID != "" {
		b = protowire.AppendTag(b, fieldDeviceID, protowire.BytesType)
		b = protowire.AppendString(b, t.DeviceID)
	}

	if len(t.Nonce) > 0 {
		b = protowire.AppendTag(b, fieldNonce, protowire.BytesType)
		b = protowire.AppendBytes(b, t.Nonce)
	}

	return b, nil
}

// UnarchiveToken parses bytes produced by ArchiveToken. Unknown fields are skipped.
func UnarchiveToken(data []byte) (*DiscoveryToken, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("unarchive token: empty payload: %w", ErrMalformedToken)
	}

	var (
		token      DiscoveryToken
		version    uint64
		hasVersion bool
		hasSession bool
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("unarchive token: bad tag: %v: %w", protowire.ParseError(n), ErrMalformedToken)
		}
		data = data[n:]

		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("unarchive token: bad version: %v: %w", protowire.ParseError(m), ErrMalformedToken)
			}
			version, hasVersion = v, true
			n = m

		case num == fieldSessionID && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("unarchive token: bad session id: %v: %w", protowire.ParseError(m), ErrMalformedToken)
			}
			sid, err := uuid.FromBytes(v)
			if err != nil {
				return nil, fmt.Errorf("unarchive token: session id: %v: %w", err, ErrMalformedToken)
			}
			token.SessionID, hasSession = sid, true
			n = m

		case num == fieldDeviceID && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return nil, fmt.Errorf("unarchive token: bad device id: %v: %w", protowire.ParseError(m), ErrMalformedToken)
			}
			token.DeviceID = v
			n = m

		case num == fieldNonce && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("unarchive token: bad nonce: %v: %w", protowire.ParseError(m), ErrMalformedToken)
			}
			token.Nonce = append([]byte(nil), v...)
			n = m

		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("unarchive token: bad field %d: %v: %w", num, protowire.ParseError(m), ErrMalformedToken)
			}
			n = m
		}
		data = data[n:]
	}

	if !hasVersion || version != TokenVersion {
		return nil, fmt.Errorf("unarchive token: unsupported version %d: %w", version, ErrMalformedToken)
	}
	if !hasSession || token.SessionID == uuid.Nil {
		return nil, fmt.Errorf("unarchive token: missing session id: %w", ErrMalformedToken)
	}

	return &token, nil
}
