package store

// RecordFlags classifies a record type row. At most one of the kind
// bits is set.
type RecordFlags uint32

const (
	RecordIsStruct RecordFlags = 1 << iota
	RecordIsUnion
	RecordIsClass
	RecordIsAnonymous
)

// TypeFlags classifies the type of a record member. The low kind bits
// line up with RecordFlags so a member's flags can be narrowed to the
// record kind directly.
type TypeFlags uint32

const (
	TypeIsStruct TypeFlags = 1 << iota
	TypeIsUnion
	TypeIsClass
	TypeIsPointer
	TypeIsArray
	TypeIsEnum
	TypeIsFunction
	TypeIsAnonymous
)

// TypeIsAggregate masks the kinds that carry a nested record reference.
const TypeIsAggregate = TypeIsStruct | TypeIsUnion | TypeIsClass

// RecordKind narrows member type flags to the record kind bits.
func (f TypeFlags) RecordKind() RecordFlags {
	return RecordFlags(f & TypeIsAggregate)
}

// StructTypeRow is a row of the struct_type table. (Name, File, Line)
// is the row identity.
type StructTypeRow struct {
	ID           uint64
	File         string
	Line         uint32
	Name         string
	Size         uint64
	Flags        RecordFlags
	HasImprecise bool
}

// StructMemberRow is a row of the struct_member table.
// (Owner, Name, ByteOffset) is the row identity. Nested references the
// member's record type when the member is an aggregate.
type StructMemberRow struct {
	ID         uint64
	Owner      uint64
	Nested     *uint64
	Name       string
	TypeName   string
	Line       uint32
	ByteSize   uint64
	BitSize    *uint8
	ByteOffset uint64
	BitOffset  *uint8
	Flags      TypeFlags
	ArrayItems *uint64
}

// IsVLA reports whether the member is a variable-length array tail,
// recognised by an array whose element count is absent or zero.
func (m *StructMemberRow) IsVLA() bool {
	return m.Flags&TypeIsArray != 0 && (m.ArrayItems == nil || *m.ArrayItems == 0)
}

// MemberBoundsRow is a row of the member_bounds table: one flattened
// layout entry of a record with its representable capability bounds.
type MemberBoundsRow struct {
	ID                uint64
	Owner             uint64
	Member            uint64
	Name              string
	Offset            uint64
	Base              uint64
	Top               uint64
	IsImprecise       bool
	RequiredPrecision uint32
}
