// Package dwarfsrc exposes the debug information of an ELF binary as
// iterable DIE trees. The scraper consumes the Source and DIE
// interfaces so that tests can substitute synthetic trees.
package dwarfsrc

import (
	"debug/dwarf"
	"debug/elf"
	"fmt"
	"sort"

	"github.com/qwattash/cheri-dwarf-scanner/internal/cheri"
)

// Architecture describes the target the binary was compiled for.
type Architecture struct {
	LittleEndian bool
	Cap          cheri.Format
}

// DIE is a single debug-info entry. Children and type references are
// resolved within the owning Source.
type DIE interface {
	Tag() dwarf.Tag
	Offset() uint64
	// Has reports whether the attribute is present at all (also for
	// flag-class attributes carrying no useful value).
	Has(attr dwarf.Attr) bool
	// Uint returns the attribute as an unsigned constant.
	Uint(attr dwarf.Attr) (uint64, bool)
	// Str returns the attribute as a string.
	Str(attr dwarf.Attr) (string, bool)
	Children() []DIE
	// Type resolves DW_AT_type to the referenced DIE. Returns
	// (nil, nil) when the attribute is absent.
	Type() (DIE, error)
	// DeclFile returns the absolute declaration file path, or "" when
	// unknown.
	DeclFile() string
	DeclLine() uint32
}

// CUIter iterates over the compilation units of a Source in file
// order. Next returns (nil, nil) once the sequence is exhausted,
// following the debug/dwarf reader convention. The sequence is
// forward-only.
type CUIter interface {
	Next() (DIE, error)
}

// Source is an open debug-info producer for one binary.
type Source interface {
	Path() string
	Architecture() Architecture
	CompilationUnits() CUIter
	Close() error
}

// elfSource reads DWARF data out of an ELF file. Compilation unit
// subtrees are materialised on first visit and indexed by offset so
// that type references resolve without re-reading.
type elfSource struct {
	path string
	file *elf.File
	data *dwarf.Data
	arch Architecture

	// Root offsets of every CU, ascending. A DIE at offset o belongs
	// to the last CU whose root offset is <= o.
	cuOffsets []dwarf.Offset
	cus       map[dwarf.Offset]*compUnit
	byOffset  map[dwarf.Offset]*die
}

// compUnit carries the per-CU context needed to turn DW_AT_decl_file
// indices back into paths.
type compUnit struct {
	root    *die
	files   []*dwarf.LineFile
	compDir string
}

// Open opens the binary at path and prepares its DWARF data.
func Open(path string) (Source, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	d, err := f.DWARF()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("reading DWARF from %s: %w", path, err)
	}

	src := &elfSource{
		path:     path,
		file:     f,
		data:     d,
		cus:      make(map[dwarf.Offset]*compUnit),
		byOffset: make(map[dwarf.Offset]*die),
	}
	src.arch = Architecture{
		LittleEndian: f.Data == elf.ELFDATA2LSB,
		Cap:          cheri.Cap128,
	}
	if f.Class == elf.ELFCLASS32 {
		src.arch.Cap = cheri.Cap64
	}

	// Cheap prescan of the CU roots; subtrees are read lazily.
	r := d.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("scanning units of %s: %w", path, err)
		}
		if entry == nil {
			break
		}
		if entry.Tag == dwarf.TagCompileUnit {
			src.cuOffsets = append(src.cuOffsets, entry.Offset)
		}
		r.SkipChildren()
	}
	return src, nil
}

func (s *elfSource) Path() string { return s.path }

func (s *elfSource) Architecture() Architecture { return s.arch }

func (s *elfSource) Close() error { return s.file.Close() }

func (s *elfSource) CompilationUnits() CUIter {
	return &cuIter{src: s}
}

type cuIter struct {
	src  *elfSource
	next int
}

func (it *cuIter) Next() (DIE, error) {
	if it.next >= len(it.src.cuOffsets) {
		return nil, nil
	}
	off := it.src.cuOffsets[it.next]
	it.next++
	cu, err := it.src.materialize(off)
	if err != nil {
		return nil, err
	}
	return cu.root, nil
}

// unitFor locates the compilation unit owning the DIE at off,
// materialising it if needed.
func (s *elfSource) unitFor(off dwarf.Offset) (*compUnit, error) {
	i := sort.Search(len(s.cuOffsets), func(i int) bool {
		return s.cuOffsets[i] > off
	})
	if i == 0 {
		return nil, fmt.Errorf("no compilation unit owns DIE offset %#x", off)
	}
	return s.materialize(s.cuOffsets[i-1])
}

// materialize reads the whole subtree of the CU rooted at off into
// offset-indexed DIE nodes.
func (s *elfSource) materialize(off dwarf.Offset) (*compUnit, error) {
	if cu, ok := s.cus[off]; ok {
		return cu, nil
	}
	r := s.data.Reader()
	r.Seek(off)
	entry, err := r.Next()
	if err != nil {
		return nil, fmt.Errorf("reading unit at %#x: %w", off, err)
	}
	if entry == nil || entry.Tag != dwarf.TagCompileUnit {
		return nil, fmt.Errorf("no compilation unit at offset %#x", off)
	}

	cu := &compUnit{}
	cu.compDir, _ = entry.Val(dwarf.AttrCompDir).(string)
	if lr, err := s.data.LineReader(entry); err == nil && lr != nil {
		cu.files = lr.Files()
	}
	cu.root = s.newDIE(entry, cu)
	s.cus[off] = cu

	if !entry.Children {
		return cu, nil
	}
	stack := []*die{cu.root}
	for len(stack) > 0 {
		e, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("reading unit at %#x: %w", off, err)
		}
		if e == nil {
			return nil, fmt.Errorf("truncated unit at %#x", off)
		}
		if e.Tag == 0 {
			// End of the current children list.
			stack = stack[:len(stack)-1]
			continue
		}
		d := s.newDIE(e, cu)
		parent := stack[len(stack)-1]
		parent.children = append(parent.children, d)
		if e.Children {
			stack = append(stack, d)
		}
	}
	return cu, nil
}

func (s *elfSource) newDIE(entry *dwarf.Entry, cu *compUnit) *die {
	d := &die{entry: entry, cu: cu, src: s}
	s.byOffset[entry.Offset] = d
	return d
}
