package metastore

import (
	"database/sql"
	"strings"

	"github.com/dedupfs/dedupfs/internal/errs"
)

// TreeNode is a row of the tree entity: one directory entry.
type TreeNode struct {
	ID       int64
	ParentID sql.NullInt64
	Name     string
	Inode    int64
}

// Inode is a row of the inodes table.
type Inode struct {
	Inode  int64
	Nlinks int64
	Mode   uint32
	Uid    uint32
	Gid    uint32
	Rdev   uint32
	Size   int64
	Atime  int64
	Mtime  int64
	Ctime  int64
}

// LookupChild resolves a single path segment under parentID: the
// path cache's cache-miss fallback and the lookup operation's own path.
func (tx *Tx) LookupChild(parentID int64, name string) (*TreeNode, error) {
	row := tx.queryRow(`SELECT id, parent_id, name, inode FROM tree WHERE parent_id = ? AND name = ?`, parentID, name)
	n := &TreeNode{}
	if err := row.Scan(&n.ID, &n.ParentID, &n.Name, &n.Inode); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, errs.IOErrorf("metastore: lookup %q under tree id %d: %v", name, parentID, err)
	}
	return n, nil
}

// TreeNodeByID returns the tree row by its own id, with its name and
// parent.
func (tx *Tx) TreeNodeByID(id int64) (*TreeNode, error) {
	row := tx.queryRow(`SELECT id, parent_id, name, inode FROM tree WHERE id = ?`, id)
	n := &TreeNode{}
	if err := row.Scan(&n.ID, &n.ParentID, &n.Name, &n.Inode); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, errs.IOErrorf("metastore: tree node %d: %v", id, err)
	}
	return n, nil
}

// ListChildren returns every tree entry directly under parentID, ordered
// by name, for readdir.
func (tx *Tx) ListChildren(parentID int64) ([]TreeNode, error) {
	rows, err := tx.query(`SELECT id, parent_id, name, inode FROM tree WHERE parent_id = ? ORDER BY name`, parentID)
	if err != nil {
		return nil, errs.IOErrorf("metastore: list children of %d: %v", parentID, err)
	}
	defer rows.Close()

	var out []TreeNode
	for rows.Next() {
		var n TreeNode
		if err := rows.Scan(&n.ID, &n.ParentID, &n.Name, &n.Inode); err != nil {
			return nil, errs.IOErrorf("metastore: scan tree row: %v", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// InsertTreeNode adds a directory entry pointing at inode, per the create
// family of operations (mkdir, create, symlink, mknod, link).
func (tx *Tx) InsertTreeNode(parentID int64, name string, inode int64) (int64, error) {
	res, err := tx.exec(`INSERT INTO tree (parent_id, name, inode) VALUES (?, ?, ?)`, parentID, name, inode)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, errs.ErrExist
		}
		return 0, errs.IOErrorf("metastore: insert tree node %q: %v", name, err)
	}
	return res.LastInsertId()
}

// DeleteTreeNode removes a single directory entry by its tree id, per
// unlink/rmdir.
func (tx *Tx) DeleteTreeNode(id int64) error {
	if _, err := tx.exec(`DELETE FROM tree WHERE id = ?`, id); err != nil {
		return errs.IOErrorf("metastore: delete tree node %d: %v", id, err)
	}
	return nil
}

// RetargetTreeNode repoints an existing directory entry at a new parent
// and/or name, used by rename to move an entry in place rather than
// delete-then-insert (preserving its tree id, and with it any cached
// path-cache references to it).
func (tx *Tx) RetargetTreeNode(id, newParentID int64, newName string) error {
	_, err := tx.exec(`UPDATE tree SET parent_id = ?, name = ? WHERE id = ?`, newParentID, newName, id)
	if err != nil {
		return errs.IOErrorf("metastore: retarget tree node %d: %v", id, err)
	}
	return nil
}

// HasChildren reports whether parentID (a directory's tree id) has any
// entries, for rmdir's not-empty check.
func (tx *Tx) HasChildren(parentID int64) (bool, error) {
	var count int
	row := tx.queryRow(`SELECT count(*) FROM tree WHERE parent_id = ? LIMIT 1`, parentID)
	if err := row.Scan(&count); err != nil {
		return false, errs.IOErrorf("metastore: count children of %d: %v", parentID, err)
	}
	return count > 0, nil
}

// GetInode reads an inode's attributes.
func (tx *Tx) GetInode(inode int64) (*Inode, error) {
	row := tx.queryRow(`SELECT inode, nlinks, mode, uid, gid, rdev, size, atime, mtime, ctime FROM inodes WHERE inode = ?`, inode)
	n := &Inode{}
	if err := row.Scan(&n.Inode, &n.Nlinks, &n.Mode, &n.Uid, &n.Gid, &n.Rdev, &n.Size, &n.Atime, &n.Mtime, &n.Ctime); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, errs.IOErrorf("metastore: get inode %d: %v", inode, err)
	}
	return n, nil
}

// InsertInode creates a new inode row and returns its allocated number.
func (tx *Tx) InsertInode(n Inode) (int64, error) {
	res, err := tx.exec(
		`INSERT INTO inodes (nlinks, mode, uid, gid, rdev, size, atime, mtime, ctime) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.Nlinks, n.Mode, n.Uid, n.Gid, n.Rdev, n.Size, n.Atime, n.Mtime, n.Ctime)
	if err != nil {
		return 0, errs.IOErrorf("metastore: insert inode: %v", err)
	}
	return res.LastInsertId()
}

// DeleteInode removes an inode row outright, used only by the garbage
// collector once nlinks has reached zero and no tree entry references it.
func (tx *Tx) DeleteInode(inode int64) error {
	if _, err := tx.exec(`DELETE FROM inodes WHERE inode = ?`, inode); err != nil {
		return errs.IOErrorf("metastore: delete inode %d: %v", inode, err)
	}
	return nil
}

// AdjustNlinks adds delta to an inode's link count, per link/unlink.
func (tx *Tx) AdjustNlinks(inode int64, delta int64) error {
	if _, err := tx.exec(`UPDATE inodes SET nlinks = nlinks + ? WHERE inode = ?`, delta, inode); err != nil {
		return errs.IOErrorf("metastore: adjust nlinks of %d: %v", inode, err)
	}
	return nil
}

// UpdateInodeSize sets size and mtime/ctime after a write or truncate.
func (tx *Tx) UpdateInodeSize(inode, size, mtime, ctime int64) error {
	_, err := tx.exec(`UPDATE inodes SET size = ?, mtime = ?, ctime = ? WHERE inode = ?`, size, mtime, ctime, inode)
	if err != nil {
		return errs.IOErrorf("metastore: update size of inode %d: %v", inode, err)
	}
	return nil
}

// UpdateInodeTimes sets any of atime/mtime/ctime (utime/utimens), passing
// -1 for a field that should be left unchanged.
func (tx *Tx) UpdateInodeTimes(inode int64, atime, mtime, ctime int64) error {
	if atime >= 0 {
		if _, err := tx.exec(`UPDATE inodes SET atime = ? WHERE inode = ?`, atime, inode); err != nil {
			return errs.IOErrorf("metastore: update atime of inode %d: %v", inode, err)
		}
	}
	if mtime >= 0 {
		if _, err := tx.exec(`UPDATE inodes SET mtime = ? WHERE inode = ?`, mtime, inode); err != nil {
			return errs.IOErrorf("metastore: update mtime of inode %d: %v", inode, err)
		}
	}
	if ctime >= 0 {
		if _, err := tx.exec(`UPDATE inodes SET ctime = ? WHERE inode = ?`, ctime, inode); err != nil {
			return errs.IOErrorf("metastore: update ctime of inode %d: %v", inode, err)
		}
	}
	return nil
}

// UpdateInodeMode sets the permission/type bits of mode (chmod). The
// caller is responsible for preserving the file-type bits.
func (tx *Tx) UpdateInodeMode(inode int64, mode uint32, ctime int64) error {
	_, err := tx.exec(`UPDATE inodes SET mode = ?, ctime = ? WHERE inode = ?`, mode, ctime, inode)
	if err != nil {
		return errs.IOErrorf("metastore: chmod inode %d: %v", inode, err)
	}
	return nil
}

// UpdateInodeOwner sets uid/gid (chown). Pass -1 to leave a field alone.
func (tx *Tx) UpdateInodeOwner(inode int64, uid, gid int64, ctime int64) error {
	if uid >= 0 {
		if _, err := tx.exec(`UPDATE inodes SET uid = ? WHERE inode = ?`, uid, inode); err != nil {
			return errs.IOErrorf("metastore: chown uid of inode %d: %v", inode, err)
		}
	}
	if gid >= 0 {
		if _, err := tx.exec(`UPDATE inodes SET gid = ? WHERE inode = ?`, gid, inode); err != nil {
			return errs.IOErrorf("metastore: chown gid of inode %d: %v", inode, err)
		}
	}
	_, err := tx.exec(`UPDATE inodes SET ctime = ? WHERE inode = ?`, ctime, inode)
	if err != nil {
		return errs.IOErrorf("metastore: touch ctime of inode %d: %v", inode, err)
	}
	return nil
}

// InsertSymlink records a symlink's target text.
func (tx *Tx) InsertSymlink(inode int64, target string) error {
	if _, err := tx.exec(`INSERT INTO links (inode, target) VALUES (?, ?)`, inode, []byte(target)); err != nil {
		return errs.IOErrorf("metastore: insert symlink %d: %v", inode, err)
	}
	return nil
}

// GetSymlink returns a symlink's target text.
func (tx *Tx) GetSymlink(inode int64) (string, error) {
	var target []byte
	row := tx.queryRow(`SELECT target FROM links WHERE inode = ?`, inode)
	if err := row.Scan(&target); err != nil {
		if err == sql.ErrNoRows {
			return "", errs.ErrNotFound
		}
		return "", errs.IOErrorf("metastore: read symlink %d: %v", inode, err)
	}
	return string(target), nil
}

// DeleteSymlink removes a symlink's target row.
func (tx *Tx) DeleteSymlink(inode int64) error {
	if _, err := tx.exec(`DELETE FROM links WHERE inode = ?`, inode); err != nil {
		return errs.IOErrorf("metastore: delete symlink %d: %v", inode, err)
	}
	return nil
}

// LookupHash returns the hash entity's surrogate id for digest, if known.
func (tx *Tx) LookupHash(digest []byte) (id int64, ok bool, err error) {
	row := tx.queryRow(`SELECT id FROM hashes WHERE hash = ?`, digest)
	if scanErr := row.Scan(&id); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, errs.IOErrorf("metastore: lookup hash: %v", scanErr)
	}
	return id, true, nil
}

// InsertHash records a newly seen digest and returns its surrogate id.
func (tx *Tx) InsertHash(digest []byte) (int64, error) {
	res, err := tx.exec(`INSERT INTO hashes (hash) VALUES (?)`, digest)
	if err != nil {
		return 0, errs.IOErrorf("metastore: insert hash: %v", err)
	}
	return res.LastInsertId()
}

// HashByID returns the digest stored under a hash entity's surrogate id,
// used when reassembling a file's content (buffer population and
// truncation of a file with no open handle) to map back from an index
// row to the raw digest.
func (tx *Tx) HashByID(id int64) ([]byte, error) {
	var digest []byte
	row := tx.queryRow(`SELECT hash FROM hashes WHERE id = ?`, id)
	if err := row.Scan(&digest); err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.ErrNotFound
		}
		return nil, errs.IOErrorf("metastore: read hash %d: %v", id, err)
	}
	return digest, nil
}

// IndexRow is a row of the block index entity: the hash_id occupying
// block_nr of inode's content.
type IndexRow struct {
	Inode   int64
	HashID  int64
	BlockNr int64
}

// ListIndex returns inode's block index ordered by block_nr, for
// populating the write buffer on open.
func (tx *Tx) ListIndex(inode int64) ([]IndexRow, error) {
	rows, err := tx.query(`SELECT inode, hash_id, block_nr FROM "index" WHERE inode = ? ORDER BY block_nr`, inode)
	if err != nil {
		return nil, errs.IOErrorf("metastore: list index for inode %d: %v", inode, err)
	}
	defer rows.Close()

	var out []IndexRow
	for rows.Next() {
		var r IndexRow
		if err := rows.Scan(&r.Inode, &r.HashID, &r.BlockNr); err != nil {
			return nil, errs.IOErrorf("metastore: scan index row: %v", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertIndexRow records that hashID occupies blockNr of inode's content.
func (tx *Tx) InsertIndexRow(inode, hashID, blockNr int64) error {
	_, err := tx.exec(`INSERT INTO "index" (inode, hash_id, block_nr) VALUES (?, ?, ?)`, inode, hashID, blockNr)
	if err != nil {
		return errs.IOErrorf("metastore: insert index row (inode %d, block %d): %v", inode, blockNr, err)
	}
	return nil
}

// DeleteIndexForInode removes every index row for inode, the first step
// of a flush's re-chunk (truncation included) and of the garbage
// collector's dead-inode sweep.
func (tx *Tx) DeleteIndexForInode(inode int64) error {
	if _, err := tx.exec(`DELETE FROM "index" WHERE inode = ?`, inode); err != nil {
		return errs.IOErrorf("metastore: delete index for inode %d: %v", inode, err)
	}
	return nil
}

// OrphanInodes returns inodes with nlinks <= 0 and no surviving tree
// entry, the first garbage-collection sweep.
func (tx *Tx) OrphanInodes() ([]int64, error) {
	rows, err := tx.query(`
		SELECT inode FROM inodes
		WHERE nlinks <= 0
		  AND inode NOT IN (SELECT inode FROM tree)
	`)
	if err != nil {
		return nil, errs.IOErrorf("metastore: scan orphan inodes: %v", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var inode int64
		if err := rows.Scan(&inode); err != nil {
			return nil, errs.IOErrorf("metastore: scan orphan inode row: %v", err)
		}
		out = append(out, inode)
	}
	return out, rows.Err()
}

// OrphanIndexRows returns index rows whose inode no longer exists, the
// second garbage-collection sweep.
func (tx *Tx) OrphanIndexRows() ([]IndexRow, error) {
	rows, err := tx.query(`
		SELECT "index".inode, "index".hash_id, "index".block_nr FROM "index"
		LEFT JOIN inodes ON inodes.inode = "index".inode
		WHERE inodes.inode IS NULL
	`)
	if err != nil {
		return nil, errs.IOErrorf("metastore: scan orphan index rows: %v", err)
	}
	defer rows.Close()

	var out []IndexRow
	for rows.Next() {
		var r IndexRow
		if err := rows.Scan(&r.Inode, &r.HashID, &r.BlockNr); err != nil {
			return nil, errs.IOErrorf("metastore: scan orphan index row: %v", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteIndexRow removes one fully-identified index row, used while
// reconciling an orphaned row away during garbage collection.
func (tx *Tx) DeleteIndexRow(inode, hashID, blockNr int64) error {
	_, err := tx.exec(`DELETE FROM "index" WHERE inode = ? AND hash_id = ? AND block_nr = ?`, inode, hashID, blockNr)
	if err != nil {
		return errs.IOErrorf("metastore: delete index row: %v", err)
	}
	return nil
}

// OrphanHashes returns hash entities no longer referenced by any index
// row, the third garbage-collection sweep; their blocks may then be
// deleted from the Block Store.
func (tx *Tx) OrphanHashes() ([]struct {
	ID   int64
	Hash []byte
}, error) {
	rows, err := tx.query(`
		SELECT hashes.id, hashes.hash FROM hashes
		LEFT JOIN "index" ON "index".hash_id = hashes.id
		WHERE "index".hash_id IS NULL
	`)
	if err != nil {
		return nil, errs.IOErrorf("metastore: scan orphan hashes: %v", err)
	}
	defer rows.Close()

	var out []struct {
		ID   int64
		Hash []byte
	}
	for rows.Next() {
		var id int64
		var hash []byte
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, errs.IOErrorf("metastore: scan orphan hash row: %v", err)
		}
		out = append(out, struct {
			ID   int64
			Hash []byte
		}{id, hash})
	}
	return out, rows.Err()
}

// DeleteHash removes a hash entity row, the final step of reconciling an
// orphan hash once its block has been deleted from the Block Store.
func (tx *Tx) DeleteHash(id int64) error {
	if _, err := tx.exec(`DELETE FROM hashes WHERE id = ?`, id); err != nil {
		return errs.IOErrorf("metastore: delete hash %d: %v", id, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
