package scraper

import (
	"errors"
	"sync/atomic"

	"github.com/qwattash/cheri-dwarf-scanner/internal/store"
)

// Error kinds that abort the walker for the current input. Warnings
// (for example a record with no byte size) are logged and skipped
// instead.
var (
	// ErrInvalidCompilationUnit marks a CU with no DW_AT_name.
	ErrInvalidCompilationUnit = errors.New("invalid compilation unit")
	// ErrUnsupportedSpecification marks a DW_AT_specification chain,
	// which the walker refuses to follow.
	ErrUnsupportedSpecification = errors.New("DW_AT_specification unsupported")
)

// typeKey is the identity of a record type within the working set.
type typeKey struct {
	name string
	file string
	line uint32
}

// recordEntry is the per-CU working state for one record type: the row
// itself, its direct members, and the flattened layout computed after
// the row set is committed.
type recordEntry struct {
	row             store.StructTypeRow
	members         []store.StructMemberRow
	flattened       []store.MemberBoundsRow
	skipPostprocess bool
}

// IDAlloc hands out process-wide unique row IDs, one counter per
// entity kind. IDs start at 2: 0 means unset, 1 is reserved. A single
// allocator is shared by all walkers of a run.
type IDAlloc struct {
	structType   atomic.Uint64
	structMember atomic.Uint64
}

// NewIDAlloc creates an allocator seeded so the first ID handed out
// is 2.
func NewIDAlloc() *IDAlloc {
	a := &IDAlloc{}
	a.structType.Store(1)
	a.structMember.Store(1)
	return a
}

// NextType allocates a struct_type ID.
func (a *IDAlloc) NextType() uint64 { return a.structType.Add(1) }

// NextMember allocates a struct_member ID.
func (a *IDAlloc) NextMember() uint64 { return a.structMember.Add(1) }

// Result is the counted summary of one walker run.
type Result struct {
	Path            string
	CUsProcessed    int
	TypesInserted   int
	MembersInserted int
	DupStructs      int
	Errors          []string
}
