// Command sufsctl is an offline inspection/maintenance CLI over a SUFS disk
// image, exposing the high-level operations of internal/sufs the way the
// teacher's ufs.Ufs_t exposes open/read/write/stat/ls/rename as one method
// surface (biscuit/src/ufs/ufs.go), per SPEC_FULL.md's supplemented
// features.
package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/disnoca/sufsos/internal/sufs"
)

var (
	app   = kingpin.New("sufsctl", "Inspect and modify a SUFS disk image.")
	image = app.Flag("image", "path to the disk image").Required().String()

	statCmd  = app.Command("stat", "print metadata for a path")
	statPath = statCmd.Arg("path", "path within the volume").Required().String()

	lsCmd  = app.Command("ls", "list a directory's entries")
	lsPath = lsCmd.Arg("path", "directory path").Default("/").String()

	catCmd  = app.Command("cat", "print a file's contents to stdout")
	catPath = catCmd.Arg("path", "file path").Required().String()

	mkdirCmd  = app.Command("mkdir", "create a directory")
	mkdirPath = mkdirCmd.Arg("path", "directory path").Required().String()

	rmCmd  = app.Command("rm", "remove a file")
	rmPath = rmCmd.Arg("path", "file path").Required().String()

	rmdirCmd  = app.Command("rmdir", "remove an empty directory")
	rmdirPath = rmdirCmd.Arg("path", "directory path").Required().String()

	mvCmd = app.Command("mv", "rename/move an entry")
	mvSrc = mvCmd.Arg("src", "source path").Required().String()
	mvDst = mvCmd.Arg("dst", "destination path").Required().String()

	statsCmd = app.Command("stats", "print volume occupancy statistics")
)

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := run(cmd); err != nil {
		fmt.Fprintf(os.Stderr, "sufsctl: %+v\n", err)
		os.Exit(1)
	}
}

func run(cmd string) error {
	dev, err := sufs.OpenFileBlockDevice(*image, false, 0)
	if err != nil {
		return errors.Wrapf(err, "opening image %q", *image)
	}
	defer dev.Close()

	fs, err := sufs.Mount(dev)
	if err != nil {
		return errors.Wrap(err, "mounting volume")
	}

	switch cmd {
	case statCmd.FullCommand():
		return doStat(fs, *statPath)
	case lsCmd.FullCommand():
		return doLs(fs, *lsPath)
	case catCmd.FullCommand():
		return doCat(fs, *catPath)
	case mkdirCmd.FullCommand():
		return errors.Wrap(fs.Mkdir(*mkdirPath, "/"), "mkdir")
	case rmCmd.FullCommand():
		return errors.Wrap(fs.Unlink(*rmPath, "/"), "rm")
	case rmdirCmd.FullCommand():
		return errors.Wrap(fs.Rmdir(*rmdirPath, "/"), "rmdir")
	case mvCmd.FullCommand():
		return errors.Wrap(fs.Rename(*mvSrc, *mvDst, "/"), "mv")
	case statsCmd.FullCommand():
		fmt.Println(fs.Statistics())
		return nil
	}
	return nil
}

func doStat(fs *sufs.Fs, path string) error {
	st, err := fs.Stat(path, "/")
	if err != nil {
		return errors.Wrapf(err, "stat %q", path)
	}
	fmt.Printf("ino=%d mode=0%o size=%d nlink=%d nblocks=%d\n",
		st.Ino, st.Mode, st.Size, st.Nlink, st.Nblocks)
	return nil
}

func doLs(fs *sufs.Fs, path string) error {
	entries, err := fs.Ls(path, "/")
	if err != nil {
		return errors.Wrapf(err, "ls %q", path)
	}
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := entries[name]
		kind := "-"
		if st.Mode&sufs.IFDIR != 0 {
			kind = "d"
		}
		fmt.Printf("%s %8d %s\n", kind, st.Size, name)
	}
	return nil
}

func doCat(fs *sufs.Fs, path string) error {
	f, err := fs.Open(path, "/")
	if err != nil {
		return errors.Wrapf(err, "open %q", path)
	}
	defer f.Close()

	if f.IsDir() {
		return errors.Errorf("%q is a directory", path)
	}

	buf := make([]byte, 32*1024)
	var off uint64
	for off < f.Size() {
		want := uint64(len(buf))
		if remaining := f.Size() - off; remaining < want {
			want = remaining
		}
		n, err := f.Read(buf[:want], off, int(want))
		if n > 0 {
			os.Stdout.Write(buf[:n])
			off += uint64(n)
		}
		if err != nil {
			return errors.Wrapf(err, "reading %q at offset %d", path, off)
		}
		if n == 0 {
			break
		}
	}
	return nil
}
