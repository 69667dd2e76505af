package namespace

import (
	"strings"

	"github.com/shardfs/shardfs/common"
	"github.com/shardfs/shardfs/fserr"
)

// ValidateName checks a single directory entry name against the
// writer's bound: non-empty, no separator or NUL, not "." or "..",
// and at most MaxFilenameLen bytes.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fserr.ErrInvalidPath
	}
	if strings.ContainsAny(name, "/\x00") {
		return fserr.ErrInvalidPath
	}
	if uint64(len(name)) > common.MaxFilenameLen {
		return fserr.ErrFilenameTooLong
	}
	return nil
}

// Split separates an absolute path into its parent directory path and
// final component. Split("/a/b/c") = ("/a/b", "c").
func Split(path string) (string, string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", "", fserr.ErrPathNotAbsolute
	}
	if path == "/" {
		return "", "", fserr.ErrCannotModifyRoot
	}
	i := strings.LastIndexByte(path, '/')
	dir, name := path[:i], path[i+1:]
	if dir == "" {
		dir = "/"
	}
	if err := ValidateName(name); err != nil {
		return "", "", err
	}
	return dir, name, nil
}

// Resolve walks an absolute path component by component from the root
// inode and returns the inode it names.
func (t *Table) Resolve(path string) (common.Inum, error) {
	if !strings.HasPrefix(path, "/") {
		return common.NULLINUM, fserr.ErrPathNotAbsolute
	}
	cur := common.ROOTINUM
	if _, err := t.lookup(cur); err != nil {
		return common.NULLINUM, err
	}
	if path == "/" {
		return cur, nil
	}
	for _, comp := range strings.Split(path[1:], "/") {
		if err := ValidateName(comp); err != nil {
			return common.NULLINUM, err
		}
		inode, err := t.lookup(cur)
		if err != nil {
			return common.NULLINUM, err
		}
		if !inode.Dir {
			return common.NULLINUM, fserr.ErrNotDirectory
		}
		child, ok := inode.children[comp]
		if !ok {
			return common.NULLINUM, fserr.ErrNoSuchFile
		}
		cur = child
	}
	return cur, nil
}
