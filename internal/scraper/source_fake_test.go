package scraper

import (
	"debug/dwarf"

	"github.com/qwattash/cheri-dwarf-scanner/internal/cheri"
	"github.com/qwattash/cheri-dwarf-scanner/internal/dwarfsrc"
)

// fakeDIE is a hand-built debug-info entry for walker tests.
type fakeDIE struct {
	tag      dwarf.Tag
	offset   uint64
	attrs    map[dwarf.Attr]any
	typ      *fakeDIE
	children []*fakeDIE
	file     string
	line     uint32
}

func (d *fakeDIE) Tag() dwarf.Tag { return d.tag }

func (d *fakeDIE) Offset() uint64 { return d.offset }

func (d *fakeDIE) Has(attr dwarf.Attr) bool {
	_, ok := d.attrs[attr]
	return ok
}

func (d *fakeDIE) Uint(attr dwarf.Attr) (uint64, bool) {
	v, ok := d.attrs[attr].(uint64)
	return v, ok
}

func (d *fakeDIE) Str(attr dwarf.Attr) (string, bool) {
	v, ok := d.attrs[attr].(string)
	return v, ok
}

func (d *fakeDIE) Children() []dwarfsrc.DIE {
	out := make([]dwarfsrc.DIE, len(d.children))
	for i, c := range d.children {
		out[i] = c
	}
	return out
}

func (d *fakeDIE) Type() (dwarfsrc.DIE, error) {
	if d.typ == nil {
		return nil, nil
	}
	return d.typ, nil
}

func (d *fakeDIE) DeclFile() string { return d.file }

func (d *fakeDIE) DeclLine() uint32 { return d.line }

// fakeSource serves hand-built compilation units.
type fakeSource struct {
	path string
	arch dwarfsrc.Architecture
	cus  []*fakeDIE
}

func newFakeSource(cus ...*fakeDIE) *fakeSource {
	return &fakeSource{
		path: "test/fake.elf",
		arch: dwarfsrc.Architecture{LittleEndian: true, Cap: cheri.Cap128},
		cus:  cus,
	}
}

func (s *fakeSource) Path() string { return s.path }

func (s *fakeSource) Architecture() dwarfsrc.Architecture { return s.arch }

func (s *fakeSource) Close() error { return nil }

func (s *fakeSource) CompilationUnits() dwarfsrc.CUIter {
	return &fakeCUIter{cus: s.cus}
}

type fakeCUIter struct {
	cus  []*fakeDIE
	next int
}

func (it *fakeCUIter) Next() (dwarfsrc.DIE, error) {
	if it.next >= len(it.cus) {
		return nil, nil
	}
	cu := it.cus[it.next]
	it.next++
	return cu, nil
}

// DIE builders. Offsets only need to be unique per test, a running
// counter keeps them so.
var nextOffset uint64

func newDIE(tag dwarf.Tag, attrs map[dwarf.Attr]any) *fakeDIE {
	nextOffset += 8
	if attrs == nil {
		attrs = map[dwarf.Attr]any{}
	}
	return &fakeDIE{tag: tag, offset: nextOffset, attrs: attrs}
}

func compileUnit(name string, children ...*fakeDIE) *fakeDIE {
	cu := newDIE(dwarf.TagCompileUnit, map[dwarf.Attr]any{dwarf.AttrName: name})
	cu.children = children
	return cu
}

func baseType(name string, size uint64) *fakeDIE {
	return newDIE(dwarf.TagBaseType, map[dwarf.Attr]any{
		dwarf.AttrName:     name,
		dwarf.AttrByteSize: size,
	})
}

func recordType(tag dwarf.Tag, name, file string, line uint32, size uint64, members ...*fakeDIE) *fakeDIE {
	attrs := map[dwarf.Attr]any{dwarf.AttrByteSize: size}
	if name != "" {
		attrs[dwarf.AttrName] = name
	}
	die := newDIE(tag, attrs)
	die.file = file
	die.line = line
	die.children = members
	return die
}

func structType(name, file string, line uint32, size uint64, members ...*fakeDIE) *fakeDIE {
	return recordType(dwarf.TagStructType, name, file, line, size, members...)
}

func unionType(name, file string, line uint32, size uint64, members ...*fakeDIE) *fakeDIE {
	return recordType(dwarf.TagUnionType, name, file, line, size, members...)
}

func member(name string, offset uint64, typ *fakeDIE) *fakeDIE {
	die := newDIE(dwarf.TagMember, map[dwarf.Attr]any{
		dwarf.AttrName:          name,
		dwarf.AttrDataMemberLoc: offset,
	})
	die.typ = typ
	return die
}

// arrayOf builds an array type. count < 0 omits the subrange count,
// which the walker classifies as a VLA.
func arrayOf(elem *fakeDIE, count int64) *fakeDIE {
	sub := newDIE(dwarf.TagSubrangeType, map[dwarf.Attr]any{})
	if count >= 0 {
		sub.attrs[dwarf.AttrCount] = uint64(count)
	}
	arr := newDIE(dwarf.TagArrayType, map[dwarf.Attr]any{})
	arr.typ = elem
	arr.children = []*fakeDIE{sub}
	return arr
}
