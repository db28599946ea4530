// Package tail follows append-only JSON-lines logs written by the
// capture engines. Each followed file gets a single producer loop that
// survives rotation, truncation, and transient parse failures, feeding
// normalized alerts into the event bus. The package also serves bounded
// synchronous reads of a file's tail for the REST surface, behind a
// short TTL cache with single-flight semantics.
package tail

import (
	"os"
)

// Cursor is the resume point for one followed file. The (inode, offset)
// pair identifies a position; when the inode under the path changes, or
// the file shrinks below the offset, the file was rotated and the cursor
// restarts at zero against the new inode.
type Cursor struct {
	Path     string
	Inode    uint64
	Offset   int64
	LastSize int64
}

// rotated reports whether the stat result describes a different file
// generation than the cursor tracks.
func (c *Cursor) rotated(fi os.FileInfo) bool {
	if ino := inodeOf(fi); ino != 0 && c.Inode != 0 && ino != c.Inode {
		return true
	}
	return fi.Size() < c.Offset
}

// reset points the cursor at the start of the file described by fi.
func (c *Cursor) reset(fi os.FileInfo) {
	c.Inode = inodeOf(fi)
	c.Offset = 0
	c.LastSize = fi.Size()
}
