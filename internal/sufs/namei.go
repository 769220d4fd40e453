package sufs

import (
	"strings"

	"github.com/disnoca/sufsos/internal/bpath"
	"github.com/disnoca/sufsos/internal/errno"
)

// namei resolves an already-canonical absolute path to an inumber, per
// spec.md's glossary ("namei: resolve a path to an inode number"). It
// walks component by component from the root, requiring every intermediate
// component to be a directory.
func (fs *Fs) namei(path string) (uint32, error) {
	inum := fs.sb.RootIno
	if path == "/" {
		return inum, nil
	}

	for _, comp := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		if comp == "" {
			continue
		}
		dir, err := fs.iget(inum)
		if err != nil {
			return 0, err
		}
		if !dir.IsDir() {
			return 0, errno.ENOTDIR
		}
		next := fs.searchDir(dir, comp)
		if next == 0 {
			return 0, errno.ENOENT
		}
		inum = next
	}
	return inum, nil
}

// resolvePath canonicalizes path against cwd (see bpath.FormatPath) and
// resolves it via namei.
func (fs *Fs) resolvePath(path, cwd string) (uint32, string, error) {
	canon, n := bpath.FormatPath(bpath.Path(path), bpath.Path(cwd), maxPathLen)
	if n == 0 {
		return 0, "", errno.ENAMETOOLONG
	}
	inum, err := fs.namei(string(canon))
	if err != nil {
		return 0, "", err
	}
	return inum, string(canon), nil
}

// splitParent splits an already-canonical absolute path into its parent
// directory path and final component name, per spec.md §4.5.7's shared
// prologue ("split at the last separator"). path must not be "/".
func splitParent(path string) (parent, name string) {
	i := strings.LastIndexByte(path, '/')
	name = path[i+1:]
	if i == 0 {
		return "/", name
	}
	return path[:i], name
}

// maxPathLen bounds the canonical path buffer format_path writes into, per
// spec.md §4.7's dst/max contract. 4096 matches common Unix PATH_MAX.
const maxPathLen = 4096
