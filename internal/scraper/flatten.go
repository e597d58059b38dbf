package scraper

import (
	"fmt"

	"github.com/qwattash/cheri-dwarf-scanner/internal/store"
)

// drainUnit commits the working set of the current CU.
//
// Transaction #1 inserts the record rows, remapping local IDs to
// stored IDs for records that already existed, and then the member
// rows with owner and nested references rewritten through the remap.
// Records that already existed skip postprocessing: their flattened
// layout was produced when they were first seen.
//
// Transaction #2 inserts the flattened layout bounds, derives the
// sub-object aliases, and marks owners with imprecise members.
func (s *Scraper) drainUnit() error {
	entryByID := make(map[uint64]*recordEntry)
	remap := make(map[uint64]uint64)

	err := s.store.WithTx(func(tx *store.Tx) error {
		for _, entry := range s.types {
			localID := entry.row.ID
			if localID == 0 {
				return fmt.Errorf("unassigned local ID for %q", entry.row.Name)
			}
			s.log.WithField("type", entry.row.Name).Trace("try insert record")
			inserted, err := tx.InsertStructType(&entry.row)
			if err != nil {
				return err
			}
			if inserted {
				s.res.TypesInserted++
			} else {
				remap[localID] = entry.row.ID
				entry.skipPostprocess = true
				s.res.DupStructs++
			}
			entryByID[entry.row.ID] = entry
		}

		// Record IDs are stable now, deal with the members.
		for _, entry := range s.types {
			owner := entry.row.ID
			for i := range entry.members {
				m := &entry.members[i]
				m.Owner = owner
				if m.Nested != nil {
					if mapped, ok := remap[*m.Nested]; ok {
						if mapped == owner {
							return fmt.Errorf("member %q of %q nests its own owner",
								m.Name, entry.row.Name)
						}
						nested := mapped
						m.Nested = &nested
					}
				}
				inserted, err := tx.InsertStructMember(m)
				if err != nil {
					return err
				}
				if inserted {
					s.res.MembersInserted++
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, entry := range s.types {
		if entry.skipPostprocess {
			continue
		}
		s.flattenEntry(entryByID, entry)
	}

	err = s.store.WithTx(func(tx *store.Tx) error {
		for _, entry := range s.types {
			if entry.skipPostprocess {
				continue
			}
			imprecise := false
			for i := range entry.flattened {
				row := &entry.flattened[i]
				if err := tx.InsertMemberBounds(row); err != nil {
					return err
				}
				imprecise = imprecise || row.IsImprecise
			}
			if err := tx.InsertAliases(entry.row.ID); err != nil {
				return err
			}
			if imprecise {
				if err := tx.SetHasImprecise(entry.row.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	clear(s.types)
	return nil
}

// flattenEntry produces the flattened layout of one record: every
// direct and transitively nested member with its cumulative offset,
// "::"-joined name and representable capability bounds. The row for an
// aggregate member precedes the rows of its expansion.
func (s *Scraper) flattenEntry(entryByID map[uint64]*recordEntry, entry *recordEntry) {
	if len(entry.flattened) > 0 {
		return
	}
	s.flattenInto(entryByID, entry, entry, 0, entry.row.Name)
}

func (s *Scraper) flattenInto(entryByID map[uint64]*recordEntry, top, cur *recordEntry, offset uint64, prefix string) {
	for i := range cur.members {
		m := &cur.members[i]
		row := store.MemberBoundsRow{
			Owner:  top.row.ID,
			Member: m.ID,
			Name:   prefix + "::" + m.Name,
			Offset: offset + m.ByteOffset,
		}
		// Bitfields reach one byte past their storage unit remainder.
		reqLen := m.ByteSize
		if m.BitSize != nil {
			reqLen++
		}
		base, length := s.format.RepresentableRange(row.Offset, reqLen)
		row.Base = base
		row.Top = base + length
		row.RequiredPrecision = s.format.RequiredPrecision(row.Offset, reqLen)
		row.IsImprecise = row.Offset != base || length != reqLen
		top.flattened = append(top.flattened, row)

		s.log.WithField("member", row.Name).Tracef(
			"record member bounds base=%#x off=%#x top=%#x p=%d",
			row.Base, row.Offset, row.Top, row.RequiredPrecision)

		if m.Nested != nil {
			nested, ok := entryByID[*m.Nested]
			if !ok {
				// Nested records are collected in the same CU as their
				// owner, the reference cannot dangle.
				s.log.Warnf("nested record %d of %q not in compilation unit",
					*m.Nested, row.Name)
				continue
			}
			s.flattenInto(entryByID, top, nested, offset+m.ByteOffset, row.Name)
		}
	}
}
