package main

import (
	"flag"
	"fmt"

	"github.com/gentam/envflash"
)

// encodeEntries lays entries out as NUL-terminated "key=value" strings, each
// starting on a word boundary. It is a bring-up image for checking that the
// partition takes data, not the format of any environment engine.
func encodeEntries(entries []envflash.Entry) []uint32 {
	var words []uint32
	for _, e := range entries {
		words = append(words, bytesWords(append([]byte(e.String()), 0))...)
	}
	return words
}

func seedCommand(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	o := addCommonFlags(fs)
	var dryRun bool
	fs.BoolVar(&dryRun, "n", false, "print the image without touching flash")
	fs.Parse(args)

	s := mustOpen(o)
	defer s.Close()

	part, defaults, err := s.port.Init()
	if err != nil {
		fatalf("init failed: %v", err)
	}
	words := encodeEntries(defaults)
	if need := uint32(len(words)) * envflash.WordSize; need > part.Size {
		fatalf("defaults need %d bytes, partition %s is smaller", need, part)
	}
	if dryRun {
		fmt.Printf("%d words for %s\n", len(words), part)
		for i, w := range words {
			fmt.Printf("0x%08X\t0x%08X\n", part.Start+uint32(i)*envflash.WordSize, w)
		}
		return
	}

	if err := seed(s.port, part, words); err != nil {
		fatalf("seed failed: %v", err)
	}
	fmt.Printf("seeded %d entries into %s\n", len(defaults), part)
}

func seed(p *envflash.Port, part envflash.Partition, words []uint32) error {
	if err := p.Erase(part.Start, part.Size); err != nil {
		return err
	}
	return p.Write(part.Start, words)
}
