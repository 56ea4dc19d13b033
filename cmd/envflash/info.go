package main

import (
	"flag"
	"fmt"

	"periph.io/x/host/v3/ftdi"

	"github.com/gentam/envflash"
	"github.com/gentam/envflash/stm32isp"
)

func infoCommand(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	o := addCommonFlags(fs)
	var variants, ports bool
	fs.BoolVar(&variants, "variants", false, "just list the known variants")
	fs.BoolVar(&ports, "ports", false, "just list serial ports")
	fs.Parse(args)

	if variants {
		for _, name := range envflash.VariantNames() {
			g, _ := envflash.LookupVariant(name)
			fmt.Printf("%-14s %-30s %8d bytes, %5d-byte pages\n", name, g.Name, g.Size, g.PageSize)
		}
		return
	}
	if ports {
		list, err := stm32isp.Ports()
		if err != nil {
			fatalf("list serial ports: %v", err)
		}
		for _, p := range list {
			fmt.Println(p)
		}
		return
	}

	s := mustOpen(o)
	defer s.Close()

	g := s.port.Geometry()
	fmt.Printf("Device:          %s\n", g.Name)
	fmt.Printf("Flash:           0x%08X-0x%08X (%d bytes)\n", g.Base, g.End(), g.Size)
	fmt.Printf("Page size:       %d\n", g.PageSize)
	fmt.Printf("Reserved:        %d\n", g.Reserved)
	fmt.Printf("Partition:       %s\n", g.Partition())

	switch {
	case s.flash != nil:
		fmt.Printf("Status:          %s\n", s.flash.Status())
	case s.bridge != nil:
		spiInfo(s)
	case s.isp != nil:
		if err := s.isp.Unlock(); err != nil {
			fatalf("bootloader sync failed: %v", err)
		}
		id, err := s.isp.GetID()
		if err != nil {
			fatalf("get ID failed: %v", err)
		}
		fmt.Printf("Product ID:      %#04x\n", id)
		fmt.Printf("Extended erase:  %v\n", s.isp.Supports(stm32isp.CommandExtendedErase))
	}
}

func spiInfo(s *session) {
	f := s.bridge.Flash
	id, name, err := f.ReadID()
	if err != nil {
		fatalf("read flash ID failed: %v", err)
	}
	fmt.Printf("Flash ID:        %X %s\n", id, name)
	sr, err := f.ReadStatusRegister()
	if err != nil {
		fatalf("read flash status register failed: %v", err)
	}
	fmt.Printf("Status register: %s\n", sr)

	// Reference: https://github.com/periph/cmd/tree/main/ftdi-list
	ft := s.bridge.FTDI
	i := ftdi.Info{}
	ft.Info(&i)
	fmt.Printf("Bridge:          %s %#04x:%#04x\n", i.Type, i.VenID, i.DevID)

	ee := ftdi.EEPROM{}
	if err := ft.EEPROM(&ee); err != nil {
		fatalf("failed to read EEPROM: %v", err)
	}
	fmt.Printf("Manufacturer:    %s\n", ee.Manufacturer)
	fmt.Printf("Desc:            %s\n", ee.Desc)
	fmt.Printf("Serial:          %s\n", ee.Serial)
}
