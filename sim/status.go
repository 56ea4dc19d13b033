package sim

import (
	"fmt"
	"strings"
)

// Status mirrors the STM32F10x flash status register.
//
//	Bits| [PM0075|3.3.2 FLASH_SR]
//	----+------------------------------
//	5   | EOP: End of operation
//	4   | WRPRTERR: Write protection error
//	2   | PGERR: Programming error
//	0   | BSY: Busy
type Status uint32

const (
	StatusBusy            Status = 1 << 0
	StatusProgramErr      Status = 1 << 2
	StatusWriteProtectErr Status = 1 << 4
	StatusEndOfOperation  Status = 1 << 5
)

func (s Status) Busy() bool            { return s&StatusBusy != 0 }
func (s Status) ProgramErr() bool      { return s&StatusProgramErr != 0 }
func (s Status) WriteProtectErr() bool { return s&StatusWriteProtectErr != 0 }
func (s Status) EndOfOperation() bool  { return s&StatusEndOfOperation != 0 }

func (s Status) String() string {
	b := fmt.Sprintf("%06b", uint32(s))
	f := []string{}
	if s.EndOfOperation() {
		f = append(f, "EOP")
	}
	if s.WriteProtectErr() {
		f = append(f, "WRPRTERR")
	}
	if s.ProgramErr() {
		f = append(f, "PGERR")
	}
	if s.Busy() {
		f = append(f, "BSY")
	}
	if len(f) == 0 {
		return b
	}
	return b + " " + strings.Join(f, ",")
}
