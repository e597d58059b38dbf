// Package store handles persistence of record layout data to SQLite.
package store

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Store is the shared storage backend. It is safe for use by multiple
// walkers: a single underlying connection serialises writes, and all
// multi-statement work goes through WithTx.
type Store struct {
	db   *sql.DB
	path string
	log  logrus.FieldLogger

	insertStruct *sql.Stmt
	selectStruct *sql.Stmt
	insertMember *sql.Stmt
	selectMember *sql.Stmt
	insertBounds *sql.Stmt
	insertAlias  *sql.Stmt
	setImprecise *sql.Stmt
}

// Open creates or opens a layout database. Use ":memory:" for an
// in-memory database in tests.
func Open(path string, log logrus.FieldLogger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	// One connection keeps transactions from interleaving across
	// workers; SQLite holds a single write lock anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	return &Store{db: db, path: path, log: log}, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close releases the prepared statements and the database.
func (s *Store) Close() error {
	for _, stmt := range s.statements() {
		if *stmt != nil {
			(*stmt).Close()
		}
	}
	return s.db.Close()
}

func (s *Store) statements() []**sql.Stmt {
	return []**sql.Stmt{
		&s.insertStruct, &s.selectStruct, &s.insertMember, &s.selectMember,
		&s.insertBounds, &s.insertAlias, &s.setImprecise,
	}
}

// InitSchema creates the schema and the prepared statements. It is
// idempotent and cheap to call from every walker.
func (s *Store) InitSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	if s.insertStruct != nil {
		return nil
	}
	s.log.Debug("initialize struct layout schema")

	prepared := []struct {
		dst  **sql.Stmt
		text string
	}{
		{&s.insertStruct,
			`INSERT INTO struct_type (id, file, line, name, size, flags)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT DO NOTHING RETURNING id`},
		{&s.selectStruct,
			`SELECT id FROM struct_type
			 WHERE file = ? AND line = ? AND name = ?`},
		{&s.insertMember,
			`INSERT INTO struct_member (
			     id, owner, nested, name, type_name, line, size,
			     bit_size, offset, bit_offset, flags, array_items
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT DO NOTHING RETURNING id`},
		{&s.selectMember,
			`SELECT id FROM struct_member
			 WHERE owner = ? AND name = ? AND offset = ?`},
		{&s.insertBounds,
			`INSERT INTO member_bounds (
			     owner, member, offset, name, base, top, is_imprecise, precision
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`},
		{&s.insertAlias,
			`INSERT INTO subobject_alias (subobj, alias)
			 SELECT ab.subobj_id, ab.alias_id
			 FROM alias_bounds ab
			 WHERE ab.owner = ?
			 ON CONFLICT DO NOTHING`},
		{&s.setImprecise,
			`UPDATE struct_type SET has_imprecise = 1 WHERE id = ?`},
	}
	for _, p := range prepared {
		stmt, err := s.db.Prepare(p.text)
		if err != nil {
			return fmt.Errorf("preparing statement: %w", err)
		}
		*p.dst = stmt
	}
	return nil
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise. Transactions do not nest.
func (s *Store) WithTx(fn func(*Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(&Tx{tx: tx, s: s}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Tx is a transaction scope over the prepared statements.
type Tx struct {
	tx *sql.Tx
	s  *Store
}

// InsertStructType inserts a record type row. When the identity
// (name, file, line) already exists, the stored ID replaces row.ID and
// inserted is false.
func (t *Tx) InsertStructType(row *StructTypeRow) (inserted bool, err error) {
	err = t.tx.Stmt(t.s.insertStruct).
		QueryRow(row.ID, row.File, row.Line, row.Name, row.Size, row.Flags).
		Scan(&row.ID)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("inserting struct_type %q: %w", row.Name, err)
	}
	err = t.tx.Stmt(t.s.selectStruct).
		QueryRow(row.File, row.Line, row.Name).
		Scan(&row.ID)
	if err != nil {
		return false, fmt.Errorf("resolving struct_type %q: %w", row.Name, err)
	}
	return false, nil
}

// InsertStructMember inserts a member row. When the identity
// (owner, name, offset) already exists, the stored ID replaces row.ID
// and inserted is false.
func (t *Tx) InsertStructMember(row *StructMemberRow) (inserted bool, err error) {
	err = t.tx.Stmt(t.s.insertMember).QueryRow(
		row.ID, row.Owner, row.Nested, row.Name, row.TypeName, row.Line,
		row.ByteSize, row.BitSize, row.ByteOffset, row.BitOffset,
		row.Flags, row.ArrayItems,
	).Scan(&row.ID)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("inserting struct_member %q: %w", row.Name, err)
	}
	err = t.tx.Stmt(t.s.selectMember).
		QueryRow(row.Owner, row.Name, row.ByteOffset).
		Scan(&row.ID)
	if err != nil {
		return false, fmt.Errorf("resolving struct_member %q: %w", row.Name, err)
	}
	return false, nil
}

// InsertMemberBounds inserts a flattened layout row and records the
// assigned ID.
func (t *Tx) InsertMemberBounds(row *MemberBoundsRow) error {
	res, err := t.tx.Stmt(t.s.insertBounds).Exec(
		row.Owner, row.Member, row.Offset, row.Name,
		row.Base, row.Top, row.IsImprecise, row.RequiredPrecision,
	)
	if err != nil {
		return fmt.Errorf("inserting member_bounds %q: %w", row.Name, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		row.ID = uint64(id)
	}
	return nil
}

// InsertAliases derives and stores the subobject_alias pairs for one
// record from the alias_bounds view.
func (t *Tx) InsertAliases(owner uint64) error {
	if _, err := t.tx.Stmt(t.s.insertAlias).Exec(owner); err != nil {
		return fmt.Errorf("deriving aliases for owner %d: %w", owner, err)
	}
	return nil
}

// SetHasImprecise marks a record type as containing at least one
// imprecisely representable member.
func (t *Tx) SetHasImprecise(owner uint64) error {
	if _, err := t.tx.Stmt(t.s.setImprecise).Exec(owner); err != nil {
		return fmt.Errorf("marking owner %d imprecise: %w", owner, err)
	}
	return nil
}

// Stats holds row counts of the layout tables.
type Stats struct {
	StructTypes  int
	Members      int
	MemberBounds int
	Aliases      int
}

// Stats returns row counts for an existing database.
func (s *Store) Stats() (*Stats, error) {
	stats := &Stats{}
	counts := []struct {
		table string
		dst   *int
	}{
		{"struct_type", &stats.StructTypes},
		{"struct_member", &stats.Members},
		{"member_bounds", &stats.MemberBounds},
		{"subobject_alias", &stats.Aliases},
	}
	for _, c := range counts {
		err := s.db.QueryRow("SELECT COUNT(*) FROM " + c.table).Scan(c.dst)
		if err != nil {
			return nil, fmt.Errorf("counting %s: %w", c.table, err)
		}
	}
	return stats, nil
}

// DB exposes the underlying database for ad-hoc queries.
// Use with caution - prefer adding methods to Store instead.
func (s *Store) DB() *sql.DB {
	return s.db
}
