package store

// schema contains the SQL statements to create the layout database
// schema. All statements are idempotent.
//
// The literal 16 in the layout_member view is the array bit of
// TypeFlags; a VLA is an array member whose element count is absent or
// zero.
const schema = `
-- Structures, unions and classes. Two records are the same when they
-- share name, file and line.
CREATE TABLE IF NOT EXISTS struct_type (
    id            INTEGER NOT NULL PRIMARY KEY,
    file          TEXT NOT NULL,
    line          INTEGER NOT NULL,
    name          TEXT,
    size          INTEGER NOT NULL,
    flags         INTEGER DEFAULT 0 NOT NULL,
    has_imprecise BOOLEAN DEFAULT 0,
    UNIQUE(name, file, line)
);

-- Members of a record. A member of aggregate type also references the
-- nested record.
CREATE TABLE IF NOT EXISTS struct_member (
    id          INTEGER NOT NULL PRIMARY KEY,
    owner       INTEGER NOT NULL,
    nested      INTEGER,
    name        TEXT NOT NULL,
    type_name   TEXT NOT NULL,
    line        INTEGER NOT NULL,
    size        INTEGER NOT NULL,
    bit_size    INTEGER,
    offset      INTEGER NOT NULL,
    bit_offset  INTEGER,
    flags       INTEGER DEFAULT 0 NOT NULL,
    array_items INTEGER,
    FOREIGN KEY (owner) REFERENCES struct_type (id),
    FOREIGN KEY (nested) REFERENCES struct_type (id),
    UNIQUE(owner, name, offset),
    CHECK(owner != nested)
);

-- Representable sub-object bounds for every entry of a record's
-- flattened layout.
CREATE TABLE IF NOT EXISTS member_bounds (
    id           INTEGER NOT NULL PRIMARY KEY,
    owner        INTEGER NOT NULL,
    name         TEXT NOT NULL,
    member       INTEGER NOT NULL,
    offset       INTEGER NOT NULL,
    base         INTEGER NOT NULL,
    top          INTEGER NOT NULL,
    is_imprecise BOOL DEFAULT 0,
    precision    INTEGER,
    FOREIGN KEY (owner) REFERENCES struct_type (id),
    FOREIGN KEY (member) REFERENCES struct_member (id)
);

-- Pairs of sub-objects where the widened bounds of one reach into the
-- other.
CREATE TABLE IF NOT EXISTS subobject_alias (
    subobj INTEGER NOT NULL,
    alias  INTEGER NOT NULL,
    PRIMARY KEY (subobj, alias),
    FOREIGN KEY (subobj) REFERENCES member_bounds (id),
    FOREIGN KEY (alias) REFERENCES member_bounds (id)
);

-- Candidate aliasing pairs: distinct flattened entries of the same
-- owner whose byte ranges overlap and where neither name is a prefix of
-- the other (a member never aliases its own sub-members).
CREATE VIEW IF NOT EXISTS alias_bounds AS
WITH impl (
    owner, id, alias_id, name, alias_name, base, check_base, top, check_top
) AS (
    SELECT
        mb.owner,
        mb.id,
        alb.id AS alias_id,
        mb.name,
        alb.name AS alias_name,
        mb.base,
        alb.offset AS check_base,
        mb.top,
        (alb.offset + alm.size + IIF(alm.bit_size, 1, 0)) AS check_top
    FROM member_bounds alb
        JOIN struct_member alm ON alb.member = alm.id
        JOIN member_bounds mb ON
            mb.owner = alb.owner AND mb.id != alb.id
)
SELECT owner, id AS subobj_id, alias_id
FROM impl
WHERE
    MAX(check_base, base) < MIN(check_top, top) AND
    NOT (name LIKE alias_name || '%') AND
    NOT (alias_name LIKE name || '%');

-- Flattened layout entries annotated with VLA classification.
CREATE VIEW IF NOT EXISTS layout_member AS
SELECT
    mb.id,
    mb.owner,
    mb.member,
    mb.name,
    mb.offset,
    mb.base,
    mb.top,
    mb.is_imprecise,
    mb.precision,
    (sm.flags & 16 != 0 AND IFNULL(sm.array_items, 0) = 0) AS is_vla
FROM member_bounds mb
    JOIN struct_member sm ON mb.member = sm.id;

-- Record types annotated with whether any flattened member is a VLA.
CREATE VIEW IF NOT EXISTS type_layout AS
SELECT
    st.id,
    st.file,
    st.line,
    st.name,
    st.size,
    st.flags,
    st.has_imprecise,
    EXISTS(
        SELECT 1 FROM layout_member lm
        WHERE lm.owner = st.id AND lm.is_vla
    ) AS has_vla
FROM struct_type st;
`
