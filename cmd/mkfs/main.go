// Command mkfs formats a SUFS disk image and optionally bootstraps it from
// a ustar archive, grounded on the teacher's biscuit/src/mkfs/mkfs.go
// (nlogblks/ninodeblks/ndatablks constants, MkDisk + BootFS + addfiles
// entry-point shape), generalized per SPEC_FULL.md's ustar-bootstrap
// supplement: the skeleton tree is sourced from a ustar stream instead of
// a host directory, since original_source/'s use of ustar is specifically
// a boot-time archive reader.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"github.com/disnoca/sufsos/internal/sufs"
	"github.com/disnoca/sufsos/internal/ustar"
)

var (
	app = kingpin.New("mkfs", "Format a SUFS disk image, optionally bootstrapping it from a ustar archive.")

	image          = app.Arg("image", "path to the disk image to create").Required().String()
	sizeMB         = app.Flag("size", "image size in MiB").Default("16").Int64()
	blockSize      = app.Flag("block-size", "filesystem block size in bytes").Default("1024").Uint32()
	inodeCount     = app.Flag("inodes", "number of inodes to provision").Default("1024").Uint32()
	dataBlockCount = app.Flag("data-blocks", "number of data blocks to provision").Default("8192").Uint32()
	volumeName     = app.Flag("label", "volume label").Default("sufs").String()
	skelArchive    = app.Flag("skel", "ustar archive to bootstrap the volume from").String()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %+v\n", err)
		os.Exit(1)
	}
}

func run() error {
	dev, err := sufs.OpenFileBlockDevice(*image, true, *sizeMB*1024*1024)
	if err != nil {
		return errors.Wrapf(err, "creating image %q", *image)
	}
	defer dev.Close()

	params := sufs.FormatParams{
		BlockSize:      *blockSize,
		InodeCount:     *inodeCount,
		DataBlockCount: *dataBlockCount,
		VolumeName:     *volumeName,
	}
	if err := sufs.Format(dev, params); err != nil {
		return errors.Wrap(err, "formatting volume")
	}

	fs, err := sufs.Mount(dev)
	if err != nil {
		return errors.Wrap(err, "mounting freshly formatted volume")
	}
	if _, err := fs.Stat("/", "/"); err != nil {
		return errors.Wrap(err, "not a valid fs: no root inode")
	}

	if *skelArchive != "" {
		if err := addFilesFromArchive(fs, *skelArchive); err != nil {
			return errors.Wrapf(err, "bootstrapping from %q", *skelArchive)
		}
	}

	return fs.Sync()
}

// addFilesFromArchive walks a ustar stream and replicates its entries into
// fs, mirroring the teacher's addfiles/copydata (there: filepath.WalkDir
// over a host skeleton directory; here: sequential ustar entries, per
// SPEC_FULL.md).
func addFilesFromArchive(fs *sufs.Fs, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	tr := ustar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading archive entry")
		}

		name := "/" + hdr.FullName()
		switch {
		case hdr.IsDir():
			if err := fs.Mkdir(name, "/"); err != nil {
				fmt.Fprintf(os.Stderr, "mkfs: mkdir %s: %v\n", name, err)
			}
		case hdr.Typeflag == ustar.TypeReg || hdr.Typeflag == ustar.TypeRegOld:
			if err := copyArchiveEntry(fs, tr, name, hdr.Size); err != nil {
				fmt.Fprintf(os.Stderr, "mkfs: %s: %v\n", name, err)
			}
		default:
			fmt.Fprintf(os.Stderr, "mkfs: skipping %s: unsupported typeflag %q\n", name, hdr.Typeflag)
		}
	}
}

// copyArchiveEntry creates name and streams size bytes of tr's current
// payload into it, mirroring copydata's read-a-chunk/append loop.
func copyArchiveEntry(fs *sufs.Fs, tr *ustar.Reader, name string, size int64) error {
	if err := fs.Create(name, "/", 0644); err != nil {
		return err
	}
	f, err := fs.Open(name, "/")
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, 32*1024)
	var off uint64
	for off < uint64(size) {
		want := len(buf)
		if remaining := int(uint64(size) - off); remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(tr, buf[:want])
		if n > 0 {
			if _, werr := f.Write(buf[:n], off, n); werr != nil {
				return werr
			}
			off += uint64(n)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
