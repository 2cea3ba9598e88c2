// Command ipodfs inspects iPod disk images through the boot storage stack:
// the image is served by a simulated ATA controller, read through the polled
// driver and its sector cache, and mounted with the read-only FAT layer.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/robrohan/ipodpatcher/ata"
	"github.com/robrohan/ipodpatcher/console"
	"github.com/robrohan/ipodpatcher/fat"
	"github.com/robrohan/ipodpatcher/sim"
	"github.com/robrohan/ipodpatcher/vfs"
)

const usage = `usage: ipodfs [flags] <image> <command> [args]

commands:
  info                 identify the drive and scan the partition table
  ls [path]            walk a directory tree ("" is the root)
  cat <path>           copy a file to stdout, e.g. [fat]/NOTES/TEST.TXT
  dump <lba> <count>   hex dump raw blocks, bypassing the sector cache

flags:
`

var (
	flagVerbose = flag.Bool("v", false, "debug logging")
	flagQuirks  = flag.String("quirks", "", "YAML file with drive alignment quirks")
	flagOffset  = flag.Uint("offset", 0, "mount a FAT volume at this block instead of scanning the MBR")
	flagPart    = flag.Int("part", -1, "browse this partition slot instead of the first FAT partition")
	flagAlign   = flag.Uint("align", 0, "simulate 1<<align blocks per physical sector")
	flagModel   = flag.String("model", "TOSHIBA MK3008GAL", "model string the simulated drive reports")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}

	log := console.New()
	if *flagVerbose {
		log.SetLevel(logrus.DebugLevel)
	}

	dev := openDevice(log, flag.Arg(0))

	var err error
	switch cmd, args := flag.Arg(1), flag.Args()[2:]; cmd {
	case "info":
		err = runInfo(log, dev)
	case "ls":
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		err = runLs(log, dev, path)
	case "cat":
		if len(args) != 1 {
			flag.Usage()
			os.Exit(2)
		}
		err = runCat(log, dev, args[0])
	case "dump":
		if len(args) != 2 {
			flag.Usage()
			os.Exit(2)
		}
		err = runDump(dev, args[0], args[1])
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		log.Errorf("%s: %v", flag.Arg(1), err)
		os.Exit(1)
	}
}

// openDevice serves the image file through the simulated controller and
// brings up the driver on it.
func openDevice(log *console.Console, path string) *ata.Device {
	image, err := afero.NewOsFs().Open(path)
	if err != nil {
		log.Fatalf("open image: %v", err)
	}

	stat, err := image.Stat()
	if err != nil {
		log.Fatalf("stat image: %v", err)
	}

	quirks := ata.DefaultQuirks()
	if *flagQuirks != "" {
		f, err := os.Open(*flagQuirks)
		if err != nil {
			log.Fatalf("open quirks: %v", err)
		}
		quirks, err = ata.LoadQuirks(f)
		f.Close()
		if err != nil {
			log.Fatalf("load quirks: %v", err)
		}
	}

	port := sim.New(image, sim.Options{
		Model:         *flagModel,
		Serial:        "Z00000001",
		Firmware:      "1.0",
		Sectors:       uint64(stat.Size()+ata.BlockSize-1) / ata.BlockSize,
		AlignmentLog2: uint8(*flagAlign),
	})

	dev := ata.New(port, log, ata.WithQuirks(quirks))
	if err := dev.Init(); err != nil {
		log.Fatalf("init: %v", err)
	}

	// The identify pass teaches the driver the drive's alignment and
	// address mode; reads before it assume an unaligned LBA28 drive.
	dev.Identify()
	return dev
}

// mount returns the dispatch table, from the MBR scan or from a direct
// FAT mount when -offset is given.
func mount(log *console.Console, dev *ata.Device) (*vfs.VFS, error) {
	if *flagOffset > 0 || noMBR(dev) {
		fs, err := fat.Mount(dev, log, 0, uint32(*flagOffset))
		if err != nil {
			return nil, err
		}
		v := vfs.New()
		v.Register(0, vfs.TypeFAT, fs)
		return v, nil
	}
	return vfs.Probe(dev, log)
}

// noMBR reports whether block zero looks like a FAT boot sector rather
// than a partition table, so bare volume images work without -offset.
func noMBR(dev *ata.Device) bool {
	raw := make([]byte, ata.BlockSize)
	if err := dev.ReadBlocks(raw, 0, 1); err != nil {
		return false
	}
	return raw[510] == 0x55 && raw[511] == 0xAA &&
		(raw[0] == 0xEB || raw[0] == 0xE9)
}

// firstFAT digs the mounted FAT volume back out of the dispatch table for
// the commands that browse it directly.
func firstFAT(log *console.Console, dev *ata.Device) (*fat.FS, error) {
	v, err := mount(log, dev)
	if err != nil {
		return nil, err
	}

	part := *flagPart
	if part < 0 {
		part = v.FindPartition(vfs.TypeFAT)
	}

	fs, ok := v.Mounted(part).(*fat.FS)
	if !ok {
		return nil, fmt.Errorf("no FAT volume on partition %d", part)
	}
	return fs, nil
}

func runInfo(log *console.Console, dev *ata.Device) error {
	info := dev.Identify()
	cfg := dev.Config()

	fmt.Printf("model:    %s\n", info.Model)
	fmt.Printf("serial:   %s\n", info.Serial)
	fmt.Printf("firmware: %s\n", info.Firmware)
	fmt.Printf("ata:      ATA-%d\n", info.Version)
	fmt.Printf("sectors:  %d (lba48=%v, %d blocks per physical sector)\n",
		cfg.Sectors, cfg.LBA48, 1<<cfg.AlignmentLog2)

	v, err := mount(log, dev)
	if err != nil {
		return err
	}

	if fs, ok := v.Mounted(v.FindPartition(vfs.TypeFAT)).(*fat.FS); ok {
		fmt.Printf("volume:   %q (FAT%d, partition %d)\n", fs.Label(), fs.Type(), fs.Partition())
	}
	return nil
}

func runLs(log *console.Console, dev *ata.Device, path string) error {
	fs, err := firstFAT(log, dev)
	if err != nil {
		return err
	}

	return afero.Walk(fat.NewAfero(fs), path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		kind := "file"
		if info.IsDir() {
			kind = "dir "
		}
		fmt.Printf("%s %10d  %s  /%s\n", kind, info.Size(), info.ModTime().Format("2006-01-02 15:04"), p)
		return nil
	})
}

func runCat(log *console.Console, dev *ata.Device, path string) error {
	v, err := mount(log, dev)
	if err != nil {
		return err
	}

	fd, err := v.Open(path)
	if err != nil {
		return err
	}
	defer v.Close(fd)

	buf := make([]byte, 4096)
	for {
		n, err := v.Read(fd, buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func runDump(dev *ata.Device, lbaArg, countArg string) error {
	lba, err := strconv.ParseUint(lbaArg, 0, 32)
	if err != nil {
		return err
	}
	count, err := strconv.ParseUint(countArg, 0, 32)
	if err != nil {
		return err
	}

	buf := make([]byte, count*ata.BlockSize)
	if err := dev.ReadBlocksUncached(buf, uint32(lba), uint32(count)); err != nil {
		return err
	}
	fmt.Print(hex.Dump(buf))
	return nil
}
