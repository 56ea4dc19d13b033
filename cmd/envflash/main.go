// Command envflash inspects and prepares the environment-variable partition
// of a flash device through one of the port backends.
package main

import (
	"flag"
	"fmt"
	"os"
)

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}

func fatalUsage(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(2)
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage:
	envflash <command> [arguments]

Commands:
	info	 show the device, its geometry and the known variants
	init	 show the environment partition and the default entries
	read	 dump words from flash
	erase	 erase pages
	write	 program words and verify them
	seed	 erase the partition and write the default entries

Backends (-backend):
	sim	 simulated NOR flash, persisted in -image or $ENVFLASH_IMAGE
	spi	 SPI NOR flash behind an FT2232H
	isp	 STM32 internal flash through the USART bootloader on -port

Run "envflash <command> -h" for the flags of a command.
`)
	os.Exit(2)
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
	}

	args := flag.Args()[1:]
	switch cmd := flag.Arg(0); cmd {
	case "info":
		infoCommand(args)
	case "init":
		initCommand(args)
	case "read":
		readCommand(args)
	case "erase":
		eraseCommand(args)
	case "write":
		writeCommand(args)
	case "seed":
		seedCommand(args)
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %q\n", cmd)
		usage()
	}
}
