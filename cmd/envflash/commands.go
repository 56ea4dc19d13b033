package main

import (
	"encoding/binary"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/gentam/envflash"
)

func initCommand(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	o := addCommonFlags(fs)
	fs.Parse(args)

	s := mustOpen(o)
	defer s.Close()

	part, defaults, err := s.port.Init()
	if err != nil {
		fatalf("init failed: %v", err)
	}
	fmt.Printf("partition\t%s\n", part)
	for _, e := range defaults {
		fmt.Printf("default\t%s\n", e)
	}
}

// target resolves -addr/-size style flags against the partition.
func target(s *session, addr, size u32Flag) (uint32, uint32) {
	part := s.port.Geometry().Partition()
	a, n := part.Start, part.Size
	if addr.set {
		a = addr.v
	}
	if size.set {
		n = size.v
	}
	return a, n
}

func readCommand(args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	o := addCommonFlags(fs)
	var (
		addr, size u32Flag
		outFile    string
	)
	fs.Var(&addr, "addr", "start address (default: partition start)")
	fs.Var(&size, "n", "bytes to read, rounded up to words (default: partition size)")
	fs.StringVar(&outFile, "o", "", "output file (default: hexdump)")
	fs.Parse(args)

	s := mustOpen(o)
	defer s.Close()

	a, n := target(s, addr, size)
	words := make([]uint32, (n+envflash.WordSize-1)/envflash.WordSize)
	if err := s.port.Read(a, words); err != nil {
		fatalf("read flash failed: %v", err)
	}
	data := wordBytes(words)
	if outFile == "" {
		fmt.Printf("0x%08X\n", a)
		fmt.Print(hex.Dump(data))
		return
	}
	if err := os.WriteFile(outFile, data, 0644); err != nil {
		fatalf("write file failed: %v", err)
	}
}

func eraseCommand(args []string) {
	fs := flag.NewFlagSet("erase", flag.ExitOnError)
	o := addCommonFlags(fs)
	var addr, size u32Flag
	fs.Var(&addr, "addr", "start address (default: partition start)")
	fs.Var(&size, "size", "bytes to erase, rounded up to pages (default: partition size)")
	fs.Parse(args)

	s := mustOpen(o)
	defer s.Close()

	a, n := target(s, addr, size)
	span, err := s.port.EraseSpan(a, n)
	if err != nil {
		fatalf("erase failed: %v", err)
	}
	if err := s.port.Erase(a, n); err != nil {
		fatalf("erase failed: %v", err)
	}
	fmt.Printf("erased 0x%08X-0x%08X (%d pages", span.Start, span.End, span.Pages)
	if span.Extra > 0 {
		fmt.Printf(", %d bytes past the request", span.Extra)
	}
	fmt.Println(")")
}

func writeCommand(args []string) {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	o := addCommonFlags(fs)
	var (
		addr     u32Flag
		filename string
		erase    bool
	)
	fs.Var(&addr, "addr", "start address (default: partition start)")
	fs.StringVar(&filename, "f", "", "input file, padded with 0xFF to a whole word")
	fs.BoolVar(&erase, "e", false, "erase the pages first")
	fs.Parse(args)

	var words []uint32
	switch {
	case filename != "" && fs.NArg() > 0:
		fatalUsage("give either -f or words, not both")
	case filename != "":
		data, err := os.ReadFile(filename)
		if err != nil {
			fatalf("failed to open file: %v", err)
		}
		words = bytesWords(data)
	case fs.NArg() > 0:
		for _, arg := range fs.Args() {
			v, err := strconv.ParseUint(arg, 0, 32)
			if err != nil {
				fatalUsage("bad word %q: %v", arg, err)
			}
			words = append(words, uint32(v))
		}
	default:
		fatalUsage("input file or words are required")
	}

	s := mustOpen(o)
	defer s.Close()

	a, _ := target(s, addr, u32Flag{})
	if erase {
		if err := s.port.Erase(a, uint32(len(words))*envflash.WordSize); err != nil {
			fatalf("erase failed: %v", err)
		}
	}
	if err := s.port.Write(a, words); err != nil {
		fatalf("write flash failed: %v", err)
	}
	fmt.Printf("wrote %d words at 0x%08X\n", len(words), a)
}

func wordBytes(words []uint32) []byte {
	out := make([]byte, 0, len(words)*envflash.WordSize)
	for _, w := range words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

// bytesWords packs data little-endian, filling the last word with the erased
// value so padding programs nothing.
func bytesWords(data []byte) []uint32 {
	words := make([]uint32, (len(data)+envflash.WordSize-1)/envflash.WordSize)
	for i := range words {
		var w [envflash.WordSize]byte
		for j := range w {
			w[j] = 0xFF
		}
		copy(w[:], data[i*envflash.WordSize:])
		words[i] = binary.LittleEndian.Uint32(w[:])
	}
	return words
}
