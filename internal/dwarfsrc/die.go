package dwarfsrc

import (
	"debug/dwarf"
	"fmt"
	"path/filepath"
)

// die is a materialised debug-info entry node.
type die struct {
	entry    *dwarf.Entry
	cu       *compUnit
	src      *elfSource
	children []*die
}

func (d *die) Tag() dwarf.Tag { return d.entry.Tag }

func (d *die) Offset() uint64 { return uint64(d.entry.Offset) }

func (d *die) Has(attr dwarf.Attr) bool {
	for _, f := range d.entry.Field {
		if f.Attr == attr {
			return true
		}
	}
	return false
}

func (d *die) Uint(attr dwarf.Attr) (uint64, bool) {
	switch v := d.entry.Val(attr).(type) {
	case int64:
		return uint64(v), true
	case uint64:
		return v, true
	}
	return 0, false
}

func (d *die) Str(attr dwarf.Attr) (string, bool) {
	s, ok := d.entry.Val(attr).(string)
	return s, ok
}

func (d *die) Children() []DIE {
	out := make([]DIE, len(d.children))
	for i, c := range d.children {
		out[i] = c
	}
	return out
}

func (d *die) Type() (DIE, error) {
	off, ok := d.entry.Val(dwarf.AttrType).(dwarf.Offset)
	if !ok {
		return nil, nil
	}
	if t, ok := d.src.byOffset[off]; ok {
		return t, nil
	}
	// Reference into a unit we have not materialised yet.
	if _, err := d.src.unitFor(off); err != nil {
		return nil, err
	}
	t, ok := d.src.byOffset[off]
	if !ok {
		return nil, fmt.Errorf("dangling type reference to offset %#x", off)
	}
	return t, nil
}

func (d *die) DeclFile() string {
	idx, ok := d.Uint(dwarf.AttrDeclFile)
	if !ok || d.cu == nil || idx >= uint64(len(d.cu.files)) {
		return ""
	}
	f := d.cu.files[idx]
	if f == nil {
		return ""
	}
	if filepath.IsAbs(f.Name) || d.cu.compDir == "" {
		return f.Name
	}
	return filepath.Join(d.cu.compDir, f.Name)
}

func (d *die) DeclLine() uint32 {
	line, _ := d.Uint(dwarf.AttrDeclLine)
	return uint32(line)
}
