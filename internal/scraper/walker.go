// Package scraper walks the DWARF debug info of one binary, extracts
// record-type layouts and persists them, together with the
// representable sub-object capability bounds of every member, through
// the shared store.
package scraper

import (
	"context"
	"debug/dwarf"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/qwattash/cheri-dwarf-scanner/internal/cheri"
	"github.com/qwattash/cheri-dwarf-scanner/internal/dwarfsrc"
	"github.com/qwattash/cheri-dwarf-scanner/internal/store"
)

// Scraper extracts struct/union/class layouts from one DIE source.
// Records are collected per compilation unit and drained into the
// store at each CU boundary.
type Scraper struct {
	src    dwarfsrc.Source
	store  *store.Store
	ids    *IDAlloc
	strip  string
	log    logrus.Ext1FieldLogger
	arch   dwarfsrc.Architecture
	format cheri.Format

	// Working set of the current CU, keyed by record identity.
	types map[typeKey]*recordEntry
	res   Result
}

// New creates a scraper over src writing to st. The ID allocator is
// shared by every scraper of a run. stripPrefix, when non-empty, makes
// stored file paths relative to it.
func New(src dwarfsrc.Source, st *store.Store, ids *IDAlloc, stripPrefix string, log logrus.Ext1FieldLogger) *Scraper {
	arch := src.Architecture()
	return &Scraper{
		src:    src,
		store:  st,
		ids:    ids,
		strip:  stripPrefix,
		log:    log.WithField("input", src.Path()),
		arch:   arch,
		format: arch.Cap,
		types:  make(map[typeKey]*recordEntry),
		res:    Result{Path: src.Path()},
	}
}

// Source returns the DIE source being walked.
func (s *Scraper) Source() dwarfsrc.Source { return s.src }

// InitSchema prepares the storage schema. Idempotent.
func (s *Scraper) InitSchema() error { return s.store.InitSchema() }

// Result returns the counted summary of the run so far.
func (s *Scraper) Result() Result { return s.res }

// Run walks every compilation unit of the source. Cancellation is
// observed at CU boundaries: the current CU is finished cleanly and
// the partial summary is kept.
func (s *Scraper) Run(ctx context.Context) error {
	it := s.src.CompilationUnits()
	for {
		if ctx.Err() != nil {
			s.log.Info("scrape cancelled")
			return nil
		}
		cu, err := it.Next()
		if err != nil {
			return s.fail(fmt.Errorf("reading compilation unit: %w", err))
		}
		if cu == nil {
			return nil
		}
		if err := s.scanUnit(cu); err != nil {
			return s.fail(err)
		}
		s.res.CUsProcessed++
	}
}

// fail records a fatal walker error in the summary before propagating.
func (s *Scraper) fail(err error) error {
	s.res.Errors = append(s.res.Errors, err.Error())
	return err
}

// scanUnit walks one CU subtree and drains the working set.
func (s *Scraper) scanUnit(cu dwarfsrc.DIE) error {
	name, ok := cu.Str(dwarf.AttrName)
	if !ok {
		return fmt.Errorf("%w: missing AT_name", ErrInvalidCompilationUnit)
	}
	s.log.WithField("unit", name).Debug("enter compilation unit")

	if err := s.walkDIE(cu); err != nil {
		return err
	}
	return s.drainUnit()
}

// walkDIE visits record types in the subtree rooted at die.
func (s *Scraper) walkDIE(die dwarfsrc.DIE) error {
	var kind store.RecordFlags
	switch die.Tag() {
	case dwarf.TagStructType:
		kind = store.RecordIsStruct
	case dwarf.TagClassType:
		kind = store.RecordIsClass
	case dwarf.TagUnionType:
		kind = store.RecordIsUnion
	}
	if kind != 0 {
		if _, err := s.visitRecord(die, kind); err != nil {
			return err
		}
	}
	for _, child := range die.Children() {
		if err := s.walkDIE(child); err != nil {
			return err
		}
	}
	return nil
}

// visitRecord classifies one record DIE and collects its members into
// the working set. Returns the record's local ID, or 0 when the DIE is
// a declaration or lacks the attributes needed to identify it.
func (s *Scraper) visitRecord(die dwarfsrc.DIE, kind store.RecordFlags) (uint64, error) {
	// Declarations carry no layout.
	if die.Has(dwarf.AttrDeclaration) {
		return 0, nil
	}
	if die.Has(dwarf.AttrSpecification) {
		return 0, fmt.Errorf("%w: DIE at %#x", ErrUnsupportedSpecification, die.Offset())
	}

	size, ok := die.Uint(dwarf.AttrByteSize)
	if !ok {
		s.log.Warnf("missing record size for DIE at %#x", die.Offset())
		return 0, nil
	}

	row := store.StructTypeRow{
		Flags: kind,
		Size:  size,
		File:  s.relFile(die.DeclFile()),
		Line:  die.DeclLine(),
	}
	if name, ok := die.Str(dwarf.AttrName); ok {
		row.Name = name
	} else {
		row.Name = anonRecordName(row.File, row.Line, die.Offset())
		row.Flags |= store.RecordIsAnonymous
	}

	key := typeKey{name: row.Name, file: row.File, line: row.Line}
	if entry, ok := s.types[key]; ok {
		return entry.row.ID, nil
	}

	// The ID is needed before the members are visited, they reference
	// it as their owner.
	row.ID = s.ids.NextType()
	entry := &recordEntry{row: row}
	memberIndex := 0
	for _, child := range die.Children() {
		if child.Tag() != dwarf.TagMember {
			continue
		}
		m, err := s.visitMember(child, &entry.row, memberIndex)
		if err != nil {
			return 0, err
		}
		entry.members = append(entry.members, m)
		memberIndex++
	}
	s.types[key] = entry
	return row.ID, nil
}

// visitMember extracts one member row, resolving its type and the
// byte/bit offsets, and recursing into nested aggregates.
func (s *Scraper) visitMember(die dwarfsrc.DIE, owner *store.StructTypeRow, index int) (store.StructMemberRow, error) {
	m := store.StructMemberRow{
		Owner: owner.ID,
		Line:  die.DeclLine(),
	}
	if m.Owner == 0 {
		return m, fmt.Errorf("visiting member of %q with unset owner ID", owner.Name)
	}
	m.ID = s.ids.NextMember()

	typeDie, err := die.Type()
	if err != nil {
		return m, fmt.Errorf("resolving member type: %w", err)
	}
	info, err := s.classifyType(typeDie)
	if err != nil {
		return m, err
	}
	m.TypeName = info.name
	m.ByteSize = info.byteSize
	m.Flags = info.flags
	m.ArrayItems = info.arrayItems

	// A byte size on the member itself wins: that is the bitfield
	// storage unit.
	if v, ok := die.Uint(dwarf.AttrByteSize); ok {
		m.ByteSize = v
	}
	if v, ok := die.Uint(dwarf.AttrBitSize); ok {
		bs := uint8(v)
		m.BitSize = &bs
	}

	dataOffset, _ := die.Uint(dwarf.AttrDataMemberLoc)
	var bitOffset *uint64
	if v, ok := die.Uint(dwarf.AttrDataBitOffset); ok {
		total := dataOffset*8 + v
		bitOffset = &total
	}
	if legacy, ok := die.Uint(dwarf.AttrBitOffset); ok {
		// Pre-DWARF4 bit offsets count from the storage unit's most
		// significant bit; the distance from bit 0 depends on the
		// target endianness.
		var total uint64
		if bitOffset != nil {
			total = *bitOffset
		}
		if s.arch.LittleEndian {
			var bits uint64
			if m.BitSize != nil {
				bits = uint64(*m.BitSize)
			}
			total += m.ByteSize*8 - (legacy + bits)
		} else {
			total += legacy
		}
		bitOffset = &total
	}
	if bitOffset != nil {
		m.ByteOffset = *bitOffset / 8
		rem := uint8(*bitOffset % 8)
		m.BitOffset = &rem
	} else {
		m.ByteOffset = dataOffset
	}

	if name, ok := die.Str(dwarf.AttrName); ok {
		m.Name = name
	} else if owner.Flags&store.RecordIsUnion != 0 {
		m.Name = fmt.Sprintf("<anon>@%d", index)
	} else {
		m.Name = fmt.Sprintf("<anon>@%d", m.ByteOffset)
		if m.BitOffset != nil {
			m.Name += fmt.Sprintf(":%d", *m.BitOffset)
		}
	}

	// Nested aggregates are visited through the DIE graph; pointers
	// are only flagged, which keeps cyclic references finite.
	if m.Flags&store.TypeIsAggregate != 0 {
		nested, err := s.visitRecord(info.die, m.Flags.RecordKind())
		if err != nil {
			return m, err
		}
		switch {
		case nested == 0:
			s.log.Warnf("unresolved nested record for member %q", m.Name)
		case nested == m.Owner:
			return m, fmt.Errorf("member %q nests its own owner", m.Name)
		default:
			m.Nested = &nested
		}
	}
	return m, nil
}

// relFile makes file relative to the configured strip prefix.
func (s *Scraper) relFile(file string) string {
	if s.strip == "" || file == "" {
		return file
	}
	rel, err := filepath.Rel(s.strip, file)
	if err != nil {
		return file
	}
	return rel
}

// anonRecordName synthesises a stable name for an anonymous record.
func anonRecordName(file string, line uint32, offset uint64) string {
	return fmt.Sprintf("<anon>@%s:%d:%#x", file, line, offset)
}
