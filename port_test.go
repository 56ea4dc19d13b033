package envflash_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/gentam/envflash"
	"github.com/gentam/envflash/sim"
)

func newPort(t *testing.T, variant string, opts ...envflash.Option) (*envflash.Port, *sim.Flash) {
	t.Helper()
	g, err := envflash.LookupVariant(variant)
	if err != nil {
		t.Fatal(err)
	}
	fl := sim.New(g)
	p, err := envflash.New(fl, g, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return p, fl
}

func TestInit(t *testing.T) {
	for _, name := range envflash.VariantNames() {
		t.Run(name, func(t *testing.T) {
			p, _ := newPort(t, name)
			part, defaults, err := p.Init()
			if err != nil {
				t.Fatal(err)
			}
			g := p.Geometry()
			if part.Size == 0 || part.Size%g.PageSize != 0 {
				t.Errorf("partition size %d is not a multiple of page size %d", part.Size, g.PageSize)
			}
			if part.Start%g.PageSize != 0 {
				t.Errorf("partition start 0x%08X is not page aligned", part.Start)
			}
			if part.Start < g.Base+g.Reserved || part.End() > g.End() {
				t.Errorf("partition %s outside usable flash", part)
			}
			if len(defaults) == 0 {
				t.Fatal("no default entries")
			}
		})
	}
}

func TestInitDefaults(t *testing.T) {
	p, _ := newPort(t, "stm32f10x-md")
	part, defaults, err := p.Init()
	if err != nil {
		t.Fatal(err)
	}
	if part.Start != 0x08000000+100*1024 || part.Size != 1024 {
		t.Errorf("partition = %s", part)
	}

	want := []string{"iap_need_copy_app=0", "iap_copy_app_size=0", "stop_in_bootloader=0", "device_id=1", "boot_times=0"}
	if len(defaults) != len(want) {
		t.Fatalf("got %d defaults, want %d", len(defaults), len(want))
	}
	for i, e := range defaults {
		if e.String() != want[i] {
			t.Errorf("default[%d] = %s, want %s", i, e, want[i])
		}
	}

	// callers get a copy
	defaults[0].Value = "1"
	_, again, _ := p.Init()
	if again[0].Value != "0" {
		t.Error("Init returned shared default table")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	g, _ := envflash.LookupVariant("stm32f10x-md")
	tests := []struct {
		name string
		opts []envflash.Option
		want error
	}{
		{"misaligned size", []envflash.Option{envflash.WithPartition(100<<10, 1022)}, envflash.ErrMisaligned},
		{"partial page", []envflash.Option{envflash.WithPartition(100<<10, 1020)}, envflash.ErrGeometry},
		{"empty", []envflash.Option{envflash.WithPartition(100<<10, 0)}, envflash.ErrGeometry},
		{"unaligned start", []envflash.Option{envflash.WithPartition(100<<10+4, 1024)}, envflash.ErrGeometry},
		{"past flash", []envflash.Option{envflash.WithPartition(127<<10, 2048)}, envflash.ErrGeometry},
		{"reserved", []envflash.Option{envflash.WithPartition(0, 1024)}, envflash.ErrGeometry},
		{"no defaults", []envflash.Option{envflash.WithDefaults(nil)}, envflash.ErrGeometry},
		{"duplicate key", []envflash.Option{envflash.WithDefaults([]envflash.Entry{{"a", "1"}, {"a", "2"}})}, envflash.ErrGeometry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := envflash.New(sim.New(g), g, tt.opts...)
			if !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLookupVariantUnknown(t *testing.T) {
	_, err := envflash.LookupVariant("stm32f4")
	if !errors.Is(err, envflash.ErrGeometry) {
		t.Fatalf("error = %v", err)
	}
	if !strings.Contains(err.Error(), "stm32f10x-md") {
		t.Errorf("error should list known variants: %v", err)
	}
}

func TestVariantsReturnCopies(t *testing.T) {
	names := envflash.VariantNames()
	names[0] = "stm32f4"
	if envflash.VariantNames()[0] == "stm32f4" {
		t.Error("VariantNames shares its slice")
	}

	g, _ := envflash.LookupVariant("stm32f10x-md")
	g.PageSize, g.EnvOffset = 4, 0
	again, _ := envflash.LookupVariant("stm32f10x-md")
	if again.PageSize != 1024 || again.EnvOffset != 100<<10 {
		t.Errorf("LookupVariant after caller edit = %+v", again)
	}
}

func TestErasePageCount(t *testing.T) {
	tests := []struct {
		size  uint32
		pages int
	}{
		{0, 0},
		{1, 1},
		{10, 1},
		{1024, 1},
		{1025, 2},
		{2048, 2},
		{3000, 3},
	}
	for _, tt := range tests {
		p, fl := newPort(t, "stm32f10x-md")
		part, _, _ := p.Init()

		if err := p.Erase(part.Start, tt.size); err != nil {
			t.Fatalf("Erase(%d): %v", tt.size, err)
		}
		if got := fl.Erasures(); got != tt.pages {
			t.Errorf("Erase(%d) erased %d pages, want %d", tt.size, got, tt.pages)
		}
		for i := 0; i < tt.pages; i++ {
			if n := fl.EraseCount(part.Start + uint32(i)*1024); n != 1 {
				t.Errorf("Erase(%d): page %d erased %d times", tt.size, i, n)
			}
		}
		if n := fl.EraseCount(part.Start + uint32(tt.pages)*1024); n != 0 {
			t.Errorf("Erase(%d) touched the page after the span", tt.size)
		}
		if span, _ := p.EraseSpan(part.Start, tt.size); int(span.Pages) != tt.pages {
			t.Errorf("EraseSpan(%d).Pages = %d, want %d", tt.size, span.Pages, tt.pages)
		}
		if !fl.Locked() {
			t.Errorf("Erase(%d) left the flash unlocked", tt.size)
		}
	}
}

func TestEraseSpan(t *testing.T) {
	p, _ := newPort(t, "stm32f10x-hd")
	part, _, _ := p.Init()

	span, err := p.EraseSpan(part.Start, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := envflash.Span{Start: part.Start, End: part.Start + 2048, Pages: 1, Extra: 2038}
	if span != want {
		t.Errorf("EraseSpan = %+v, want %+v", span, want)
	}
	if span, _ := p.EraseSpan(part.Start, 4096); span.Extra != 0 || span.Pages != 2 {
		t.Errorf("EraseSpan(4096) = %+v", span)
	}

	g := p.Geometry()
	tests := []struct {
		name       string
		addr, size uint32
	}{
		{"inside a page", part.Start + 512, 1024},
		{"word inside a page", part.Start + 4, 4},
		{"below flash", g.Base - 2048, 2048},
		{"size wraps", part.Start, 0xFFFFFFFF},
		{"past flash", g.End() - 2048, 4096},
	}
	for _, tt := range tests {
		if span, err := p.EraseSpan(tt.addr, tt.size); !errors.Is(err, envflash.ErrAddress) {
			t.Errorf("%s: EraseSpan(0x%08X, %d) = %+v, %v, want ErrAddress", tt.name, tt.addr, tt.size, span, err)
		}
	}
}

func TestEraseRejectsMisalignedStart(t *testing.T) {
	p, fl := newPort(t, "stm32f10x-md")
	part, _, _ := p.Init()
	const page = 1024

	if err := p.Erase(part.Start, 2*page); err != nil {
		t.Fatal(err)
	}
	if err := p.Write(part.Start, []uint32{0, 0}); err != nil {
		t.Fatal(err)
	}
	if err := p.Write(part.Start+page+4, []uint32{0}); err != nil {
		t.Fatal(err)
	}
	before := fl.Erasures()

	err := p.Erase(part.Start+page/2, page)
	if !errors.Is(err, envflash.ErrErase) || !errors.Is(err, envflash.ErrAddress) {
		t.Fatalf("Erase inside a page error = %v, want ErrErase and ErrAddress", err)
	}
	if fl.Erasures() != before || fl.Unlocks != fl.Locks {
		t.Error("rejected erase touched the device")
	}
	got := make([]uint32, 1)
	for _, addr := range []uint32{part.Start, part.Start + page + 4} {
		if err := p.Read(addr, got); err != nil {
			t.Fatal(err)
		}
		if got[0] != 0 {
			t.Errorf("word at 0x%08X = 0x%08X, rejected erase must leave it programmed", addr, got[0])
		}
	}
}

func TestEraseClearsWholePage(t *testing.T) {
	p, _ := newPort(t, "stm32f10x-md")
	part, _, _ := p.Init()

	if err := p.Erase(part.Start, part.Size); err != nil {
		t.Fatal(err)
	}
	words := make([]uint32, 256)
	for i := range words {
		words[i] = uint32(i)
	}
	if err := p.Write(part.Start, words); err != nil {
		t.Fatal(err)
	}

	if err := p.Erase(part.Start, 10); err != nil {
		t.Fatal(err)
	}
	got := make([]uint32, 256)
	if err := p.Read(part.Start, got); err != nil {
		t.Fatal(err)
	}
	for i, w := range got {
		if w != 0xFFFFFFFF {
			t.Fatalf("word %d = 0x%08X after erasing 10 bytes, want erased", i, w)
		}
	}
}

func TestWriteRead(t *testing.T) {
	p, fl := newPort(t, "stm32f10x-md")
	part, _, _ := p.Init()

	if err := p.Erase(part.Start, 8); err != nil {
		t.Fatal(err)
	}
	want := []uint32{0xAAAAAAAA, 0xBBBBBBBB}
	if err := p.Write(part.Start, want); err != nil {
		t.Fatal(err)
	}
	got := make([]uint32, 2)
	if err := p.Read(part.Start, got); err != nil {
		t.Fatal(err)
	}
	if got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Read = %08X, want %08X", got, want)
	}
	if !fl.Locked() {
		t.Error("Write left the flash unlocked")
	}
	if fl.Unlocks != fl.Locks {
		t.Errorf("unlocks %d != locks %d", fl.Unlocks, fl.Locks)
	}
}

func TestRewriteWithoutErase(t *testing.T) {
	p, fl := newPort(t, "stm32f10x-md")
	part, _, _ := p.Init()

	if err := p.Erase(part.Start, 8); err != nil {
		t.Fatal(err)
	}
	if err := p.Write(part.Start, []uint32{0xAAAAAAAA, 0xBBBBBBBB}); err != nil {
		t.Fatal(err)
	}

	// 0x0AAAAAAA only clears bits, 0xBBBBBBBF needs bit 2 set again.
	err := p.Write(part.Start, []uint32{0x0AAAAAAA, 0xBBBBBBBF, 0x12345678})
	if !errors.Is(err, envflash.ErrWriteVerify) {
		t.Fatalf("Write error = %v, want ErrWriteVerify", err)
	}
	var we *envflash.WriteError
	if !errors.As(err, &we) {
		t.Fatalf("error %T is not a *WriteError", err)
	}
	if we.Addr != part.Start+4 || we.Want != 0xBBBBBBBF || we.Got != 0xBBBBBBBB || we.Written != 1 {
		t.Errorf("WriteError = %+v", we)
	}

	got := make([]uint32, 3)
	if err := p.Read(part.Start, got); err != nil {
		t.Fatal(err)
	}
	if got[0] != 0x0AAAAAAA {
		t.Errorf("word 0 = 0x%08X, earlier words must stay programmed", got[0])
	}
	if got[2] != 0xFFFFFFFF {
		t.Errorf("word 2 = 0x%08X, write must stop at the first mismatch", got[2])
	}
	if !fl.Locked() {
		t.Error("failed Write left the flash unlocked")
	}

	// a fresh erase recovers the range
	if err := p.Erase(part.Start, 8); err != nil {
		t.Fatal(err)
	}
	if err := p.Write(part.Start, []uint32{0xBBBBBBBF}); err != nil {
		t.Errorf("Write after erase: %v", err)
	}
}

func TestEraseFailureStops(t *testing.T) {
	p, fl := newPort(t, "stm32f10x-md")
	part, _, _ := p.Init()
	const page = 1024

	fl.FailErase(part.Start + page)
	err := p.Erase(part.Start, 3*page)
	if !errors.Is(err, envflash.ErrErase) {
		t.Fatalf("Erase error = %v, want ErrErase", err)
	}
	if !errors.Is(err, sim.ErrInjected) {
		t.Errorf("Erase error %v does not wrap the device error", err)
	}
	var ee *envflash.EraseError
	if !errors.As(err, &ee) || ee.Addr != part.Start+page || ee.Erased != 1 {
		t.Errorf("EraseError = %+v", ee)
	}
	if fl.EraseCount(part.Start) != 1 || fl.EraseCount(part.Start+2*page) != 0 {
		t.Error("erase must stop at the failing page without rollback")
	}
	if !fl.Locked() || fl.Unlocks != fl.Locks {
		t.Error("failed Erase left the flash unlocked")
	}
}

func TestStuckBits(t *testing.T) {
	p, fl := newPort(t, "w25q128")
	part, _, _ := p.Init()

	fl.StickBits(part.Start+8, 1<<31)
	if err := p.Erase(part.Start, part.Size); err != nil {
		t.Fatal(err)
	}
	err := p.Write(part.Start, []uint32{1, 2, 3, 4})
	var we *envflash.WriteError
	if !errors.As(err, &we) || we.Addr != part.Start+8 || we.Got != 0x80000003 {
		t.Fatalf("Write error = %v", err)
	}
}

func TestAddressChecks(t *testing.T) {
	p, fl := newPort(t, "stm32f10x-md")
	g := p.Geometry()

	if err := p.Read(g.Base+2, make([]uint32, 1)); !errors.Is(err, envflash.ErrAddress) {
		t.Errorf("misaligned Read error = %v", err)
	}
	if err := p.Read(g.End()-4, make([]uint32, 2)); !errors.Is(err, envflash.ErrAddress) {
		t.Errorf("Read past flash error = %v", err)
	}
	if err := p.Read(g.Base-4, make([]uint32, 1)); !errors.Is(err, envflash.ErrAddress) {
		t.Errorf("Read below flash error = %v", err)
	}
	if err := p.Read(g.Base, nil); err != nil {
		t.Errorf("empty Read error = %v", err)
	}

	err := p.Write(g.End()-4, []uint32{1, 2})
	if !errors.Is(err, envflash.ErrWriteVerify) || !errors.Is(err, envflash.ErrAddress) {
		t.Errorf("Write past flash error = %v", err)
	}
	err = p.Erase(g.End()-1024, 2048)
	if !errors.Is(err, envflash.ErrErase) || !errors.Is(err, envflash.ErrAddress) {
		t.Errorf("Erase past flash error = %v", err)
	}
	if fl.Unlocks != 0 {
		t.Error("rejected requests must not unlock the device")
	}
}

func TestDebugLogSource(t *testing.T) {
	var buf bytes.Buffer
	l := envflash.NewLogger(envflash.LogConfig{Level: "debug", Output: &buf})
	p, _ := newPort(t, "stm32f10x-md", envflash.WithLogger(envflash.NewSlogLogger(l)))
	part, _, _ := p.Init()

	if err := p.Erase(part.Start, 10); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "msg=erase") || !strings.Contains(out, "extra=1014") {
		t.Errorf("missing erase record:\n%s", out)
	}
	if !strings.Contains(out, "port.go:") {
		t.Errorf("debug record should point at the port, got:\n%s", out)
	}
	if !strings.Contains(out, "component=flash") {
		t.Errorf("missing component attribute:\n%s", out)
	}
}
