package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/KarpelesLab/codexfs"
)

const usage = `codexfs - codexfs image CLI tool

Usage:
  codexfs ls <image> [<path>]        List files in an image (optionally under a specific path)
  codexfs cat <image> <file>         Display contents of a file in an image
  codexfs info <image>               Display information about an image
  codexfs mkfs <dir> <image> [-z]    Build an image from a directory (-z enables LZMA compression)
  codexfs help                       Show this help message

Examples:
  codexfs ls archive.img             List all files in archive.img, recursively from the root
  codexfs ls archive.img lib         List all files under the lib directory, recursively
  codexfs cat archive.img etc/motd   Display contents of etc/motd from archive.img
  codexfs mkfs ./rootfs rootfs.img -z
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "ls":
		if len(os.Args) < 3 {
			fmt.Println("Error: Missing image path")
			fmt.Print(usage)
			os.Exit(1)
		}
		dir := "."
		if len(os.Args) > 3 {
			dir = os.Args[3]
		}
		err = listFiles(os.Args[2], dir)

	case "cat":
		if len(os.Args) < 4 {
			fmt.Println("Error: Missing image path or target file")
			fmt.Print(usage)
			os.Exit(1)
		}
		err = catFile(os.Args[2], os.Args[3])

	case "info":
		if len(os.Args) < 3 {
			fmt.Println("Error: Missing image path")
			fmt.Print(usage)
			os.Exit(1)
		}
		err = showInfo(os.Args[2])

	case "mkfs":
		if len(os.Args) < 4 {
			fmt.Println("Error: Missing source directory or image path")
			fmt.Print(usage)
			os.Exit(1)
		}
		compress := len(os.Args) > 4 && os.Args[4] == "-z"
		err = mkfs(os.Args[2], os.Args[3], compress)

	case "help":
		fmt.Print(usage)

	default:
		fmt.Printf("Error: Unknown command '%s'\n", cmd)
		fmt.Print(usage)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// printFileInfo prints file information in a consistent format
func printFileInfo(path string, info fs.FileInfo) {
	size := fmt.Sprintf("%8d", info.Size())
	if info.IsDir() {
		size = "       -"
	}
	fmt.Printf("%s %s %s\n", info.Mode().String(), size, path)
}

// listFiles recursively lists files under dirPath
func listFiles(imgPath, dirPath string) error {
	cfs, err := codexfs.Open(imgPath)
	if err != nil {
		return err
	}
	defer cfs.Close()

	return fs.WalkDir(cfs, dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		printFileInfo(path, info)
		return nil
	})
}

// catFile writes a file's contents to stdout
func catFile(imgPath, filePath string) error {
	cfs, err := codexfs.Open(imgPath)
	if err != nil {
		return err
	}
	defer cfs.Close()

	f, err := cfs.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(os.Stdout, f)
	return err
}

// showInfo prints superblock metadata
func showInfo(imgPath string) error {
	cfs, err := codexfs.Open(imgPath)
	if err != nil {
		return err
	}
	defer cfs.Close()

	fmt.Printf("codexfs image: %s\n", imgPath)
	fmt.Printf("  Block size:  %d\n", cfs.BlockSize())
	fmt.Printf("  Blocks:      %d\n", cfs.Blocks)
	fmt.Printf("  Inodes:      %d\n", cfs.Inos)
	fmt.Printf("  Root nid:    %d\n", cfs.RootNid)
	fmt.Printf("  Flags:       %s\n", cfs.Flags)
	fmt.Printf("  Checksum:    0x%08x\n", cfs.Checksum)
	return nil
}

// mkfs builds an image from a local directory
func mkfs(srcDir, imgPath string, compress bool) error {
	out, err := os.Create(imgPath)
	if err != nil {
		return err
	}
	defer out.Close()

	var opts []codexfs.WriterOption
	if compress {
		opts = append(opts, codexfs.WithCompression())
	}
	w, err := codexfs.NewWriter(out, opts...)
	if err != nil {
		return err
	}

	src := os.DirFS(srcDir)
	w.SetSourceFS(src)
	if err := fs.WalkDir(src, ".", w.Add); err != nil {
		return err
	}
	return w.Finalize()
}
