package utils

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// SixIDSubtype is the BSON binary subtype used to store identifiers.
const SixIDSubtype byte = 0x80

// SixIDHookFunc lets tests force the next generated identifier.
type SixIDHookFunc func() (id SixID, override bool)

// NewSixIDHook overrides NewSixID when set.
var NewSixIDHook SixIDHookFunc

// SixID is a 6-byte random identifier shared by requests, projects, messages and users.
// Its text form is 10 characters of Crockford base32.
type SixID [6]byte

var ErrInvalidSixID = errors.New("invalid id")

const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Strict rejects text whose unused trailing bits are set, so every id has
// exactly one accepted spelling.
var crockford = base32.NewEncoding(crockfordAlphabet).WithPadding(base32.NoPadding).Strict()

// NewSixID returns a fresh random identifier.
func NewSixID() SixID {
	if NewSixIDHook != nil {
		if id, override := NewSixIDHook(); override {
			return id
		}
	}
	var id SixID
	if _, err := rand.Read(id[:]); err != nil {
		panic(fmt.Sprintf("sixid: crypto/rand failed: %v", err))
	}
	return id
}

// ParseSixID decodes the text form. Lowercase input, hyphens and the usual
// look-alike letters (O, I, L) are accepted.
func ParseSixID(s string) (SixID, error) {
	s = strings.ToUpper(strings.NewReplacer("-", "", " ", "").Replace(s))
	s = strings.NewReplacer("O", "0", "I", "1", "L", "1").Replace(s)
	if len(s) != 10 {
		return SixID{}, fmt.Errorf("%w: want 10 characters, got %d", ErrInvalidSixID, len(s))
	}
	raw, err := crockford.DecodeString(s)
	if err != nil || len(raw) != 6 {
		return SixID{}, fmt.Errorf("%w: %q", ErrInvalidSixID, s)
	}
	var id SixID
	copy(id[:], raw)
	return id, nil
}

// MustParseSixID is ParseSixID for literals in tests and fixtures.
func MustParseSixID(s string) SixID {
	id, err := ParseSixID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (u SixID) String() string {
	return crockford.EncodeToString(u[:])
}

func (u SixID) IsZero() bool {
	return u == SixID{}
}

func (u SixID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u *SixID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*u = SixID{}
		return nil
	}
	parsed, err := ParseSixID(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// MarshalBSONValue stores the id as binary with subtype 0x80.
func (u SixID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.TypeBinary, bsoncore.AppendBinary(nil, SixIDSubtype, u[:]), nil
}

func (u *SixID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bson.TypeNull || t == bson.TypeUndefined {
		*u = SixID{}
		return nil
	}
	if t != bson.TypeBinary {
		return fmt.Errorf("%w: bson type %s", ErrInvalidSixID, t)
	}
	subtype, raw, _, ok := bsoncore.ReadBinary(data)
	if !ok || subtype != SixIDSubtype || len(raw) != 6 {
		return fmt.Errorf("%w: bad binary payload", ErrInvalidSixID)
	}
	copy(u[:], raw)
	return nil
}
