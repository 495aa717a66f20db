// Package config declares the build-time platform configuration. Nothing is
// configurable at runtime on the device; the host driver and the tests load
// a YAML platform description and bake it into the firmware parameters.
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nbdd0121/muntjac-soc/internal/fw"
)

// MemoryConfig describes the main memory window.
type MemoryConfig struct {
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
	// FirmwareReserve is held back from the kernel at the top of memory.
	FirmwareReserve uint64 `yaml:"firmware_reserve"`
}

// UARTConfig describes the console UART.
type UARTConfig struct {
	Base    uint64 `yaml:"base"`
	Clock   uint32 `yaml:"clock"`
	Divisor uint16 `yaml:"divisor"`
	LCR     uint8  `yaml:"lcr"`
}

// NetConfig describes the boot network.
type NetConfig struct {
	MAC       string `yaml:"mac"`
	IP        string `yaml:"ip"`
	PrefixLen int    `yaml:"prefix_len"`
	Gateway   string `yaml:"gateway"`
	DNS       string `yaml:"dns"`
	Server    string `yaml:"server"`
	Port      uint16 `yaml:"port"`
}

// BootConfig selects and parameterizes the kernel source.
type BootConfig struct {
	// Source is "net" (9P fetch) or "sd" (FAT32 on the first partition).
	Source string `yaml:"source"`
	// Kernel is the file name to load.
	Kernel string `yaml:"kernel"`
	// Bootargs is the kernel command line placed in /chosen.
	Bootargs string `yaml:"bootargs"`

	Net NetConfig `yaml:"net"`
}

// Platform is the full build-time platform description.
type Platform struct {
	Model  string       `yaml:"model"`
	Memory MemoryConfig `yaml:"memory"`

	CLINTBase uint64     `yaml:"clint_base"`
	SDBase    uint64     `yaml:"sd_base"`
	EthBase   uint64     `yaml:"eth_base"`
	UART      UARTConfig `yaml:"uart"`

	TimebaseFreq uint32 `yaml:"timebase_frequency"`

	Boot BootConfig `yaml:"boot"`
}

// Default returns the stock Muntjac SoC layout.
func Default() *Platform {
	return &Platform{
		Model: "muntjac,soc",
		Memory: MemoryConfig{
			Base:            0x8000_0000,
			Size:            256 << 20,
			FirmwareReserve: 2 << 20,
		},
		CLINTBase:    0x0200_0000,
		SDBase:       0x1001_0000,
		EthBase:      0x1010_0000,
		UART:         UARTConfig{Base: 0x1000_0000, Clock: 18_432_000, Divisor: 5, LCR: 0b11},
		TimebaseFreq: 1_000_000,
		Boot: BootConfig{
			Source: "net",
			Kernel: "vmlinux.gz",
			Net: NetConfig{
				MAC:       "02:00:00:00:00:01",
				IP:        "10.5.1.128",
				PrefixLen: 24,
				Gateway:   "10.5.1.1",
				Server:    "10.5.1.2",
				Port:      564,
			},
		},
	}
}

// Load reads a platform description, applying defaults for absent fields.
func Load(path string) (*Platform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a platform description from YAML.
func Parse(data []byte) (*Platform, error) {
	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the description for consistency.
func (p *Platform) Validate() error {
	if p.Memory.Size == 0 {
		return fmt.Errorf("config: memory size must be nonzero")
	}
	if p.Memory.FirmwareReserve < 2<<20 {
		return fmt.Errorf("config: firmware reserve below 2 MiB")
	}
	if p.Memory.FirmwareReserve >= p.Memory.Size {
		return fmt.Errorf("config: firmware reserve exceeds memory")
	}
	switch p.Boot.Source {
	case "net":
		if _, err := net.ParseMAC(p.Boot.Net.MAC); err != nil {
			return fmt.Errorf("config: bad MAC: %w", err)
		}
		if net.ParseIP(p.Boot.Net.IP) == nil {
			return fmt.Errorf("config: bad boot IP %q", p.Boot.Net.IP)
		}
		if p.Boot.Net.Server == "" {
			return fmt.Errorf("config: net boot needs a server")
		}
	case "sd":
	default:
		return fmt.Errorf("config: unknown boot source %q", p.Boot.Source)
	}
	if p.Boot.Kernel == "" {
		return fmt.Errorf("config: no kernel file configured")
	}
	return nil
}

// FirmwareParams converts the platform description into the firmware core's
// parameter block.
func (p *Platform) FirmwareParams() fw.Params {
	return fw.Params{
		CLINTBase:       p.CLINTBase,
		UARTBase:        p.UART.Base,
		MemoryBase:      p.Memory.Base,
		MemorySize:      p.Memory.Size,
		FirmwareReserve: p.Memory.FirmwareReserve,
		UARTDivisor:     p.UART.Divisor,
		UARTLCR:         p.UART.LCR,
	}
}
