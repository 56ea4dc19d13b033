package spinor

import (
	"fmt"
	"strings"
)

// StatusRegister represents the status register of the flash chip.
//
//	Bits| [N25Q32|Table 9]                     | [W25Q128|7.1 Status Registers]
//	----+--------------------------------------+-------------------------------
//	7   | Status register write enable/disable | SRP: Status Register Protect
//	6   | Reserved                             | SEC: Sector protect
//	5   | Top/bottom                           | TB: Top/Bottom protect
//	4:2 | Block protect 2-0                    | BP2-0: Block Protect bit 2-0
//	1   | Write enable latch                   | WEL: Write Enable Latch
//	0   | Write in progress                    | BUSY: Erase/Write in progress
type StatusRegister byte

// blockProtectMask covers SEC, TB and BP2-0; clearing them leaves the whole
// array writable on both parts.
const blockProtectMask StatusRegister = 0b0111_1100

func (sr StatusRegister) StatusRegisterProtect() bool { return sr&(1<<7) != 0 }
func (sr StatusRegister) SectorProtect() bool         { return sr&(1<<6) != 0 }
func (sr StatusRegister) TopBottom() bool             { return sr&(1<<5) != 0 }
func (sr StatusRegister) BlockProtect() uint8         { return uint8(sr>>2) & 0b111 }
func (sr StatusRegister) WriteEnabled() bool          { return sr&(1<<1) != 0 }
func (sr StatusRegister) Busy() bool                  { return sr&(1<<0) != 0 }

// Protected reports whether any part of the array is write protected.
func (sr StatusRegister) Protected() bool { return sr.BlockProtect() != 0 }

func (sr StatusRegister) String() string {
	b := fmt.Sprintf("%08b", byte(sr))
	s := []string{}
	if sr.StatusRegisterProtect() {
		s = append(s, "SRP")
	}
	if sr.SectorProtect() {
		s = append(s, "SEC")
	}
	if sr.TopBottom() {
		s = append(s, "TB")
	}
	if bp := sr.BlockProtect(); bp != 0 {
		s = append(s, fmt.Sprintf("BP=%d", bp))
	}
	if sr.WriteEnabled() {
		s = append(s, "WEL")
	}
	if sr.Busy() {
		s = append(s, "BUSY")
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}

// FlagStatus is the N25Q flag status register [N25Q32|Table 12].
// Error bits latch until CLEAR FLAG STATUS REGISTER.
type FlagStatus byte

func (fs FlagStatus) Ready() bool        { return fs&(1<<7) != 0 }
func (fs FlagStatus) EraseError() bool   { return fs&(1<<5) != 0 }
func (fs FlagStatus) ProgramError() bool { return fs&(1<<4) != 0 }
func (fs FlagStatus) Protection() bool   { return fs&(1<<1) != 0 }

func (fs FlagStatus) String() string {
	b := fmt.Sprintf("%08b", byte(fs))
	s := []string{}
	if fs.Ready() {
		s = append(s, "READY")
	}
	if fs.EraseError() {
		s = append(s, "ERASE_ERR")
	}
	if fs.ProgramError() {
		s = append(s, "PROGRAM_ERR")
	}
	if fs.Protection() {
		s = append(s, "PROTECTION")
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}
