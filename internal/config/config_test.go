package config

import (
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	p := Default()
	if err := p.Validate(); err != nil {
		t.Fatalf("default platform invalid: %v", err)
	}
	params := p.FirmwareParams()
	if params.MemoryBase != 0x8000_0000 {
		t.Errorf("memory base: got %#x", params.MemoryBase)
	}
	if params.FirmwareReserve != 2<<20 {
		t.Errorf("firmware reserve: got %#x", params.FirmwareReserve)
	}
}

func TestParseOverrides(t *testing.T) {
	p, err := Parse([]byte(`
memory:
  base: 0x80000000
  size: 0x10000000
  firmware_reserve: 0x400000
uart:
  divisor: 10
boot:
  source: sd
  kernel: vmlinux
`))
	if err != nil {
		t.Fatal(err)
	}
	if p.Memory.Size != 0x1000_0000 {
		t.Errorf("memory size: got %#x", p.Memory.Size)
	}
	if p.Memory.FirmwareReserve != 0x40_0000 {
		t.Errorf("firmware reserve: got %#x", p.Memory.FirmwareReserve)
	}
	if p.UART.Divisor != 10 {
		t.Errorf("divisor: got %d", p.UART.Divisor)
	}
	if p.Boot.Source != "sd" || p.Boot.Kernel != "vmlinux" {
		t.Errorf("boot: got %+v", p.Boot)
	}
	// Untouched fields keep their defaults.
	if p.CLINTBase != 0x0200_0000 {
		t.Errorf("clint base: got %#x", p.CLINTBase)
	}
}

func TestValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"bad source", "boot:\n  source: floppy\n", "unknown boot source"},
		{"tiny reserve", "memory:\n  firmware_reserve: 1024\n", "firmware reserve"},
		{"no kernel", "boot:\n  source: sd\n  kernel: \"\"\n", "no kernel"},
		{"bad mac", "boot:\n  source: net\n  net:\n    mac: nope\n", "bad MAC"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
