// Command blockfsutil is the host-side tool for a blockfs volume image,
// replacing the teacher's format-specific examples/ programs
// (create-iso-from-folder, serve-image) with one CLI that exercises this
// module's own operations end to end.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/djherbis/times.v1"

	"github.com/blockfs/blockfs/backend/file"
	"github.com/blockfs/blockfs/filesystem"
	"github.com/blockfs/blockfs/imageio"
	"github.com/blockfs/blockfs/sync"
	"github.com/blockfs/blockfs/util"
	"github.com/blockfs/blockfs/util/timestamp"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "format":
		err = cmdFormat(os.Args[2:])
	case "ls":
		err = cmdLs(os.Args[2:])
	case "cat":
		err = cmdCat(os.Args[2:])
	case "put":
		err = cmdPut(os.Args[2:])
	case "mkdir":
		err = cmdMkdir(os.Args[2:])
	case "dump":
		err = cmdDump(os.Args[2:])
	case "stat":
		err = cmdStat(os.Args[2:])
	case "export":
		err = cmdExport(os.Args[2:])
	case "import":
		err = cmdImport(os.Args[2:])
	case "extract":
		err = cmdExtract(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("blockfsutil %s: %s", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: blockfsutil <command> [arguments]

commands:
  format <image> <size-bytes>        create a fresh, formatted volume image
  ls     <image> <path>              list a directory's entries
  cat    <image> <path>              print a file's contents to stdout
  put    <image> <host-file> <path>  copy a host file into the volume
  mkdir  <image> <path>              create a directory
  dump   <image> <path>              hex/ASCII dump of a file's contents
  stat   <image> <path>              print metadata about a path and the volume
  export  [-codec=lz4|xz] <image> <out>  compress a whole volume image
  import  [-codec=lz4|xz] <in> <image>   decompress a whole volume image
  extract <image> <path> <host-dir>    copy a volume directory tree out to the host`)
}

func openVolume(imagePath string, readOnly bool) (*filesystem.FileSystem, error) {
	storage, err := file.OpenFromPath(imagePath, readOnly)
	if err != nil {
		return nil, fmt.Errorf("open image %q: %w", imagePath, err)
	}
	return filesystem.Init(storage)
}

func cmdFormat(args []string) error {
	fs := flag.NewFlagSet("format", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: format <image> <size-bytes>")
	}
	imagePath := fs.Arg(0)
	var size int64
	if _, err := fmt.Sscanf(fs.Arg(1), "%d", &size); err != nil {
		return fmt.Errorf("invalid size %q: %w", fs.Arg(1), err)
	}

	storage, err := file.CreateFromPath(imagePath, size)
	if err != nil {
		return fmt.Errorf("create image %q: %w", imagePath, err)
	}
	vol, err := filesystem.Init(storage, filesystem.WithFormat())
	if err != nil {
		return fmt.Errorf("format volume: %w", err)
	}
	fmt.Printf("formatted %s (%d bytes), volume id %s\n", imagePath, size, vol.VolumeID())
	return vol.Shutdown()
}

func cmdLs(args []string) error {
	fs := flag.NewFlagSet("ls", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: ls <image> <path>")
	}
	vol, err := openVolume(fs.Arg(0), true)
	if err != nil {
		return err
	}
	defer vol.Shutdown()

	f, err := vol.Open(fs.Arg(1))
	if err != nil {
		return err
	}
	defer f.Close()

	isDir, err := f.IsDir()
	if err != nil {
		return err
	}
	if !isDir {
		return fmt.Errorf("%s: not a directory", fs.Arg(1))
	}
	names, err := f.ReadDirNames()
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func cmdCat(args []string) error {
	fs := flag.NewFlagSet("cat", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: cat <image> <path>")
	}
	vol, err := openVolume(fs.Arg(0), true)
	if err != nil {
		return err
	}
	defer vol.Shutdown()

	f, err := vol.Open(fs.Arg(1))
	if err != nil {
		return err
	}
	defer f.Close()

	length, err := f.Length()
	if err != nil {
		return err
	}
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return err
	}
	_, err = os.Stdout.Write(buf)
	return err
}

func cmdPut(args []string) error {
	fs := flag.NewFlagSet("put", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 3 {
		return fmt.Errorf("usage: put <image> <host-file> <path>")
	}
	data, err := os.ReadFile(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("read host file: %w", err)
	}

	vol, err := openVolume(fs.Arg(0), false)
	if err != nil {
		return err
	}
	defer vol.Shutdown()

	if err := vol.Create(fs.Arg(2), int64(len(data))); err != nil {
		return fmt.Errorf("create %s: %w", fs.Arg(2), err)
	}
	f, err := vol.Open(fs.Arg(2))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteAt(data, 0)
	return err
}

func cmdMkdir(args []string) error {
	fs := flag.NewFlagSet("mkdir", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: mkdir <image> <path>")
	}
	vol, err := openVolume(fs.Arg(0), false)
	if err != nil {
		return err
	}
	defer vol.Shutdown()
	return vol.Mkdir(fs.Arg(1))
}

func cmdDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	perRow := fs.Int("width", 16, "bytes per row")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: dump <image> <path>")
	}
	vol, err := openVolume(fs.Arg(0), true)
	if err != nil {
		return err
	}
	defer vol.Shutdown()

	f, err := vol.Open(fs.Arg(1))
	if err != nil {
		return err
	}
	defer f.Close()

	length, err := f.Length()
	if err != nil {
		return err
	}
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return err
	}
	fmt.Print(util.DumpByteSlice(buf, *perRow, true, true, false, nil))
	return nil
}

func cmdStat(args []string) error {
	fs := flag.NewFlagSet("stat", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: stat <image> <path>")
	}
	imagePath := fs.Arg(0)
	vol, err := openVolume(imagePath, true)
	if err != nil {
		return err
	}
	defer vol.Shutdown()

	f, err := vol.Open(fs.Arg(1))
	if err != nil {
		return err
	}
	defer f.Close()

	length, err := f.Length()
	if err != nil {
		return err
	}
	isDir, err := f.IsDir()
	if err != nil {
		return err
	}

	fmt.Printf("path:       %s\n", fs.Arg(1))
	fmt.Printf("inumber:    %d\n", f.Inumber())
	fmt.Printf("is_dir:     %t\n", isDir)
	fmt.Printf("length:     %d\n", length)
	fmt.Printf("volume_id:  %s\n", vol.VolumeID())

	if ts, err := times.Stat(imagePath); err == nil && ts.HasBirthTime() {
		fmt.Printf("image_born: %s\n", ts.BirthTime().Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

func cmdExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	codec := fs.String("codec", "lz4", "compression codec: lz4 or xz")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: export [-codec=lz4|xz] <image> <out>")
	}

	in, err := os.Open(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer in.Close()

	out, err := os.Create(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	n, err := imageio.Export(out, in, imageio.Codec(*codec))
	if err != nil {
		return err
	}
	exportedAt := timestamp.GetTime()
	fmt.Printf("exported %d bytes from %s to %s (%s) at %s\n",
		n, fs.Arg(0), fs.Arg(1), *codec, exportedAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

func cmdImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	codec := fs.String("codec", "lz4", "compression codec: lz4 or xz")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: import [-codec=lz4|xz] <in> <image>")
	}

	in, err := os.Open(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(fs.Arg(1)), 0o755); err != nil {
		return err
	}
	out, err := os.Create(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	defer out.Close()

	n, err := imageio.Import(out, in, imageio.Codec(*codec))
	if err != nil {
		return err
	}
	fmt.Printf("imported %d bytes from %s to %s (%s)\n", n, fs.Arg(0), fs.Arg(1), *codec)
	return nil
}

func cmdExtract(args []string) error {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 3 {
		return fmt.Errorf("usage: extract <image> <path> <host-dir>")
	}
	vol, err := openVolume(fs.Arg(0), true)
	if err != nil {
		return err
	}
	defer vol.Shutdown()

	if err := os.MkdirAll(fs.Arg(2), 0o755); err != nil {
		return err
	}
	return sync.CopyOut(vol, fs.Arg(1), fs.Arg(2))
}
