package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/gentam/envflash"
	"github.com/gentam/envflash/sim"
	"github.com/gentam/envflash/spinor"
	"github.com/gentam/envflash/stm32isp"
)

// imageEnv names the default image file of the sim backend.
const imageEnv = "ENVFLASH_IMAGE"

// u32Flag is an optional address or size; 0x prefixes are accepted.
type u32Flag struct {
	v   uint32
	set bool
}

func (f *u32Flag) String() string {
	if !f.set {
		return ""
	}
	return fmt.Sprintf("0x%X", f.v)
}

func (f *u32Flag) Set(s string) error {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return err
	}
	f.v, f.set = uint32(v), true
	return nil
}

// options are the flags every command shares.
type options struct {
	backend   string
	variant   string
	image     string
	port      string
	baud      int
	envOffset u32Flag
	envSize   u32Flag
	logLevel  string
	logFormat string
}

func addCommonFlags(fs *flag.FlagSet) *options {
	o := &options{}
	fs.StringVar(&o.backend, "backend", "sim", "device backend: sim, spi or isp")
	fs.StringVar(&o.variant, "variant", "stm32f10x-md", "flash variant (ignored by spi, which probes)")
	fs.StringVar(&o.image, "image", os.Getenv(imageEnv), "sim image file (default $"+imageEnv+", in memory if empty)")
	fs.StringVar(&o.port, "port", "", "serial port of the STM32 bootloader")
	fs.IntVar(&o.baud, "baud", 115200, "bootloader baud rate")
	fs.Var(&o.envOffset, "env-offset", "partition offset from the flash base")
	fs.Var(&o.envSize, "env-size", "partition size in bytes")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.StringVar(&o.logFormat, "log-format", "text", "log format: text or json")
	return o
}

// session is an opened backend with the port on top of it.
type session struct {
	port   *envflash.Port
	log    *slog.Logger
	closer func()

	flash  *sim.Flash
	bridge *spinor.Bridge
	isp    *stm32isp.Client
}

func (s *session) Close() {
	if s.closer != nil {
		s.closer()
	}
}

func openSession(o *options) (*session, error) {
	s := &session{
		log: envflash.NewLogger(envflash.LogConfig{Level: o.logLevel, Format: o.logFormat}),
	}

	var (
		dev envflash.Device
		g   envflash.Geometry
		err error
	)
	switch o.backend {
	case "sim":
		if g, err = envflash.LookupVariant(o.variant); err != nil {
			return nil, err
		}
		if o.image == "" {
			s.log.Warn("no image file, changes are lost on exit", "env", imageEnv)
			s.flash = sim.New(g)
		} else if s.flash, err = sim.Open(o.image, g); err != nil {
			return nil, err
		}
		dev = s.flash
		s.closer = func() { s.flash.Close() }

	case "spi":
		if g, err = s.openSPI(); err != nil {
			return nil, err
		}
		dev = s.bridge.Flash

	case "isp":
		if o.port == "" {
			return nil, errors.New("isp backend needs -port")
		}
		if g, err = envflash.LookupVariant(o.variant); err != nil {
			return nil, err
		}
		var sp *stm32isp.Port
		if s.isp, sp, err = stm32isp.Open(o.port, o.baud, g); err != nil {
			return nil, err
		}
		s.closer = func() {
			if err := s.isp.Reset(); err != nil {
				s.log.Warn("reset into application failed", "err", err)
			}
			sp.Close()
		}
		if err := s.isp.Activate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("activate bootloader: %w", err)
		}
		dev = s.isp

	default:
		return nil, fmt.Errorf("unknown backend %q", o.backend)
	}

	opts := []envflash.Option{envflash.WithLogger(envflash.NewSlogLogger(s.log))}
	if o.envOffset.set || o.envSize.set {
		off, size := g.EnvOffset, g.EnvSize
		if o.envOffset.set {
			off = o.envOffset.v
		}
		if o.envSize.set {
			size = o.envSize.v
		}
		opts = append(opts, envflash.WithPartition(off, size))
	}
	if s.port, err = envflash.New(dev, g, opts...); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// openSPI holds the FPGA in reset, wakes the flash and probes its geometry.
func (s *session) openSPI() (envflash.Geometry, error) {
	b, err := spinor.OpenBridge()
	if err != nil {
		return envflash.Geometry{}, err
	}
	s.bridge = b
	s.closer = func() {
		b.Flash.PowerDown()
		b.ReleaseReset()
		b.Close()
	}

	if err := b.HoldReset(); err != nil {
		s.Close()
		return envflash.Geometry{}, err
	}
	if err := b.Flash.PowerUp(); err != nil {
		s.Close()
		return envflash.Geometry{}, fmt.Errorf("flash power up failed: %w", err)
	}
	g, err := b.Flash.Probe()
	if err != nil {
		s.Close()
		return envflash.Geometry{}, err
	}
	return g, nil
}

// mustOpen opens the session or exits.
func mustOpen(o *options) *session {
	s, err := openSession(o)
	if err != nil {
		fatalf("open %s backend: %v", o.backend, err)
	}
	return s
}
