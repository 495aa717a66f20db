package boot

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"

	"github.com/nbdd0121/muntjac-soc/internal/hw"
)

// LoadELF parses a RISC-V ELF64 image and copies its PT_LOAD segments into
// physical memory starting at loadAddr, zero-filling the BSS tails. It
// returns the loaded image size and the relocated entry point.
func LoadELF(bus *hw.Bus, image []byte, loadAddr uint64) (uint64, uint64, error) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return 0, 0, fmt.Errorf("boot: parse ELF: %w", err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return 0, 0, fmt.Errorf("boot: not a 64-bit ELF")
	}
	if f.Machine != elf.EM_RISCV {
		return 0, 0, fmt.Errorf("boot: not a RISC-V binary (machine %v)", f.Machine)
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return 0, 0, fmt.Errorf("boot: not an executable (type %v)", f.Type)
	}

	// Scan the bounds of the image.
	loaddr := ^uint64(0)
	hiaddr := uint64(0)
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if p.Filesz > p.Memsz {
			return 0, 0, fmt.Errorf("boot: invalid ELF: p_filesz > p_memsz")
		}
		if p.Vaddr < loaddr {
			loaddr = p.Vaddr
		}
		if p.Vaddr+p.Memsz > hiaddr {
			hiaddr = p.Vaddr + p.Memsz
		}
	}
	if hiaddr == 0 {
		return 0, 0, fmt.Errorf("boot: no loadable segments")
	}
	loaddr &^= 4095
	hiaddr = (hiaddr + 4095) &^ 4095

	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(p.Open(), int64(p.Filesz)))
		if err != nil {
			return 0, 0, fmt.Errorf("boot: read segment: %w", err)
		}
		dest := p.Vaddr - loaddr + loadAddr
		if err := bus.LoadBytes(dest, data); err != nil {
			return 0, 0, fmt.Errorf("boot: copy segment to %#x: %w", dest, err)
		}
		if p.Memsz > p.Filesz {
			zero := make([]byte, p.Memsz-p.Filesz)
			if err := bus.LoadBytes(dest+p.Filesz, zero); err != nil {
				return 0, 0, fmt.Errorf("boot: zero BSS at %#x: %w", dest+p.Filesz, err)
			}
		}
	}

	entry := f.Entry - loaddr + loadAddr
	return hiaddr - loaddr, entry, nil
}
