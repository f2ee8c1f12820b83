package fragment

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// ObjectIDSize is the encoded width of an ObjectID.
// Format: [1 version][1 type][4 chunk][4 layout map][16 uid][1 cell][2 silo][1 rule]
const ObjectIDSize = 30

// ObjectIDVersion is the identifier format written by NewObjectID.
const ObjectIDVersion = 1

// ObjectType distinguishes data objects from the metadata objects that link to them.
type ObjectType uint8

const (
	// TypeNull marks the zero identifier.
	TypeNull ObjectType = 0
	// TypeData is an object carrying user content.
	TypeData ObjectType = 1
	// TypeMetadata is an object whose link identifier references a data object.
	TypeMetadata ObjectType = 2
)

func (t ObjectType) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeData:
		return "data"
	case TypeMetadata:
		return "metadata"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// ObjectID is the self-describing identifier of a stored object.
// The zero value is the null identifier.
type ObjectID struct {
	Version     uint8
	Type        ObjectType
	ChunkNumber int32
	LayoutMapID int32
	UID         uuid.UUID
	CellID      uint8
	SiloID      uint16
	RuleID      uint8
}

// NewObjectID returns a fresh identifier with a random UID.
func NewObjectID(t ObjectType, layoutMapID int32) ObjectID {
	return ObjectID{
		Version:     ObjectIDVersion,
		Type:        t,
		LayoutMapID: layoutMapID,
		UID:         uuid.New(),
	}
}

// IsNull reports whether id is the null identifier.
func (id ObjectID) IsNull() bool {
	return id == ObjectID{}
}

// Bytes returns the 30-byte encoding of id.
func (id ObjectID) Bytes() []byte {
	e := newEncoder(ObjectIDSize)
	id.encode(e)
	return e.buf
}

// String returns the lowercase hex form of the encoding.
func (id ObjectID) String() string {
	return hex.EncodeToString(id.Bytes())
}

func (id ObjectID) encode(e *encoder) {
	e.putUint8(id.Version)
	e.putUint8(uint8(id.Type))
	e.putUint32(uint32(id.ChunkNumber))
	e.putUint32(uint32(id.LayoutMapID))
	e.putBytes(id.UID[:])
	e.putUint8(id.CellID)
	e.putUint16(id.SiloID)
	e.putUint8(id.RuleID)
}

func decodeObjectID(d *decoder) ObjectID {
	var id ObjectID
	id.Version = d.readUint8()
	id.Type = ObjectType(d.readUint8())
	id.ChunkNumber = d.readInt32()
	id.LayoutMapID = d.readInt32()
	copy(id.UID[:], d.take(len(id.UID)))
	id.CellID = d.readUint8()
	id.SiloID = d.readUint16()
	id.RuleID = d.readUint8()
	return id
}

// ParseObjectID parses the hex form produced by String.
func ParseObjectID(s string) (ObjectID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ObjectID{}, fmt.Errorf("parse object id: %w", err)
	}
	if len(raw) != ObjectIDSize {
		return ObjectID{}, fmt.Errorf("parse object id: %d bytes, want %d", len(raw), ObjectIDSize)
	}
	d := newDecoder(raw)
	id := decodeObjectID(d)
	if d.err != nil {
		return ObjectID{}, d.err
	}
	return id, nil
}
