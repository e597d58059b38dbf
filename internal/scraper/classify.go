package scraper

import (
	"debug/dwarf"
	"fmt"

	"github.com/qwattash/cheri-dwarf-scanner/internal/dwarfsrc"
	"github.com/qwattash/cheri-dwarf-scanner/internal/store"
)

// typeInfo is the normalised description of a member's type.
type typeInfo struct {
	name     string
	byteSize uint64
	flags    store.TypeFlags
	// arrayItems is the element count for arrays; nil means the count
	// is unknown (VLA).
	arrayItems *uint64
	// die is the underlying record DIE when the type is an aggregate.
	die dwarfsrc.DIE
}

// classifyType normalises a type DIE to a canonical name, flag set and
// size, chasing typedefs and qualifiers and collapsing arrays to their
// element type. A nil DIE is the void type.
func (s *Scraper) classifyType(die dwarfsrc.DIE) (typeInfo, error) {
	if die == nil {
		return typeInfo{name: "void"}, nil
	}
	switch die.Tag() {
	case dwarf.TagTypedef, dwarf.TagConstType, dwarf.TagVolatileType, dwarf.TagRestrictType:
		under, err := die.Type()
		if err != nil {
			return typeInfo{}, fmt.Errorf("resolving qualified type: %w", err)
		}
		return s.classifyType(under)

	case dwarf.TagStructType:
		return s.classifyRecord(die, store.TypeIsStruct), nil
	case dwarf.TagUnionType:
		return s.classifyRecord(die, store.TypeIsUnion), nil
	case dwarf.TagClassType:
		return s.classifyRecord(die, store.TypeIsClass), nil

	case dwarf.TagPointerType:
		pointee, err := die.Type()
		if err != nil {
			return typeInfo{}, fmt.Errorf("resolving pointee type: %w", err)
		}
		inner, err := s.classifyType(pointee)
		if err != nil {
			return typeInfo{}, err
		}
		size, ok := die.Uint(dwarf.AttrByteSize)
		if !ok {
			size = 8
		}
		return typeInfo{
			name:     inner.name + " *",
			byteSize: size,
			flags:    store.TypeIsPointer,
		}, nil

	case dwarf.TagArrayType:
		elemDie, err := die.Type()
		if err != nil {
			return typeInfo{}, fmt.Errorf("resolving array element type: %w", err)
		}
		elem, err := s.classifyType(elemDie)
		if err != nil {
			return typeInfo{}, err
		}
		info := typeInfo{
			flags: elem.flags | store.TypeIsArray,
			die:   elem.die,
		}
		info.arrayItems = arrayCount(die)
		if size, ok := die.Uint(dwarf.AttrByteSize); ok {
			info.byteSize = size
		} else if info.arrayItems != nil {
			info.byteSize = *info.arrayItems * elem.byteSize
		}
		if info.arrayItems != nil {
			info.name = fmt.Sprintf("%s[%d]", elem.name, *info.arrayItems)
		} else {
			info.name = elem.name + "[]"
		}
		return info, nil

	case dwarf.TagEnumerationType:
		info := typeInfo{flags: store.TypeIsEnum}
		info.byteSize, _ = die.Uint(dwarf.AttrByteSize)
		if name, ok := die.Str(dwarf.AttrName); ok {
			info.name = name
		} else {
			info.name = "<anon enum>"
			info.flags |= store.TypeIsAnonymous
		}
		return info, nil

	case dwarf.TagSubroutineType:
		return typeInfo{name: "<fn>", flags: store.TypeIsFunction}, nil

	default:
		info := typeInfo{}
		info.byteSize, _ = die.Uint(dwarf.AttrByteSize)
		if name, ok := die.Str(dwarf.AttrName); ok {
			info.name = name
		} else {
			info.name = fmt.Sprintf("<unknown>@%#x", die.Offset())
		}
		return info, nil
	}
}

// classifyRecord describes an aggregate type without visiting its
// members; the walker does that through visitRecord.
func (s *Scraper) classifyRecord(die dwarfsrc.DIE, kind store.TypeFlags) typeInfo {
	info := typeInfo{flags: kind, die: die}
	info.byteSize, _ = die.Uint(dwarf.AttrByteSize)
	if name, ok := die.Str(dwarf.AttrName); ok {
		info.name = name
	} else {
		info.name = anonRecordName(s.relFile(die.DeclFile()), die.DeclLine(), die.Offset())
		info.flags |= store.TypeIsAnonymous
	}
	return info
}

// arrayCount extracts the element count from an array type's subrange
// children. nil means no count is known: the array is a VLA.
func arrayCount(die dwarfsrc.DIE) *uint64 {
	for _, child := range die.Children() {
		if child.Tag() != dwarf.TagSubrangeType {
			continue
		}
		if n, ok := child.Uint(dwarf.AttrCount); ok {
			return &n
		}
		if upper, ok := child.Uint(dwarf.AttrUpperBound); ok {
			n := upper + 1
			return &n
		}
		return nil
	}
	return nil
}
