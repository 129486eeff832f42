package metastore

// Schema mirrors original_source/dedupfs.py's init_metastore, translated to
// the directory tree, inode table, symlinks and block index. "index" is
// quoted because it is a SQL keyword.
const schema = `
CREATE TABLE IF NOT EXISTS tree (
	id        INTEGER PRIMARY KEY,
	parent_id INTEGER,
	name      TEXT NOT NULL,
	inode     INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS tree_parent_name ON tree(parent_id, name);
CREATE INDEX IF NOT EXISTS tree_parent ON tree(parent_id);
CREATE INDEX IF NOT EXISTS tree_inode ON tree(inode);

CREATE TABLE IF NOT EXISTS inodes (
	inode  INTEGER PRIMARY KEY,
	nlinks INTEGER NOT NULL,
	mode   INTEGER NOT NULL,
	uid    INTEGER NOT NULL,
	gid    INTEGER NOT NULL,
	rdev   INTEGER NOT NULL,
	size   INTEGER NOT NULL,
	atime  INTEGER NOT NULL,
	mtime  INTEGER NOT NULL,
	ctime  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS inodes_size ON inodes(inode, size);

CREATE TABLE IF NOT EXISTS links (
	inode  INTEGER NOT NULL,
	target BLOB NOT NULL,
	PRIMARY KEY (inode)
);

CREATE TABLE IF NOT EXISTS hashes (
	id   INTEGER PRIMARY KEY,
	hash BLOB NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS "index" (
	inode    INTEGER NOT NULL,
	hash_id  INTEGER NOT NULL,
	block_nr INTEGER NOT NULL,
	PRIMARY KEY (inode, hash_id, block_nr)
);
CREATE INDEX IF NOT EXISTS index_inode ON "index"(inode);
CREATE INDEX IF NOT EXISTS index_hash ON "index"(hash_id);

CREATE TABLE IF NOT EXISTS options (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// RootInode is the inode number of the filesystem root.
const RootInode = 1

// RootTreeID is the surrogate tree id of the root entry.
const RootTreeID = 1
