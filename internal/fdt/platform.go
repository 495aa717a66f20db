package fdt

import "fmt"

// PlatformSpec is the hardware description the device tree is generated
// from.
type PlatformSpec struct {
	Model        string
	HartCount    int
	ISA          string
	MMU          string
	TimebaseFreq uint32

	MemoryBase uint64
	MemorySize uint64

	CLINTBase uint64
	CLINTSize uint64
	UARTBase  uint64
	UARTSize  uint64
	UARTClock uint32

	Bootargs string
}

// BuildPlatform generates the device tree blob for the SoC. The layout
// mirrors what the kernel expects from a CLINT + 16550 RISC-V platform.
func BuildPlatform(spec PlatformSpec) []byte {
	b := NewBuilder()

	b.BeginNode("")
	b.PropU32("#address-cells", 2)
	b.PropU32("#size-cells", 2)
	b.PropString("compatible", "muntjac,soc")
	b.PropString("model", spec.Model)

	b.BeginNode("chosen")
	if spec.Bootargs != "" {
		b.PropString("bootargs", spec.Bootargs)
	}
	b.PropString("stdout-path", fmt.Sprintf("/soc/serial@%x", spec.UARTBase))
	b.EndNode()

	b.BeginNode(fmt.Sprintf("memory@%x", spec.MemoryBase))
	b.PropString("device_type", "memory")
	b.PropReg("reg", spec.MemoryBase, spec.MemorySize)
	b.EndNode()

	// One interrupt-controller phandle per hart, referenced by the CLINT.
	intcPhandle := func(hart int) uint32 { return uint32(hart + 1) }

	b.BeginNode("cpus")
	b.PropU32("#address-cells", 1)
	b.PropU32("#size-cells", 0)
	b.PropU32("timebase-frequency", spec.TimebaseFreq)
	for i := 0; i < spec.HartCount; i++ {
		b.BeginNode(fmt.Sprintf("cpu@%d", i))
		b.PropString("device_type", "cpu")
		b.PropU32("reg", uint32(i))
		b.PropString("status", "okay")
		b.PropString("compatible", "riscv")
		b.PropString("riscv,isa", spec.ISA)
		b.PropString("mmu-type", spec.MMU)

		b.BeginNode("interrupt-controller")
		b.PropU32("#interrupt-cells", 1)
		b.PropEmpty("interrupt-controller")
		b.PropString("compatible", "riscv,cpu-intc")
		b.PropU32("phandle", intcPhandle(i))
		b.EndNode()

		b.EndNode()
	}
	b.EndNode()

	b.BeginNode("soc")
	b.PropU32("#address-cells", 2)
	b.PropU32("#size-cells", 2)
	b.PropString("compatible", "simple-bus")
	b.PropEmpty("ranges")

	b.BeginNode(fmt.Sprintf("clint@%x", spec.CLINTBase))
	b.PropString("compatible", "riscv,clint0")
	b.PropReg("reg", spec.CLINTBase, spec.CLINTSize)
	var ext []uint32
	for i := 0; i < spec.HartCount; i++ {
		// Software interrupt (3) and timer interrupt (7) per hart.
		ext = append(ext, intcPhandle(i), 3, intcPhandle(i), 7)
	}
	b.PropU32Array("interrupts-extended", ext)
	b.EndNode()

	b.BeginNode(fmt.Sprintf("serial@%x", spec.UARTBase))
	b.PropString("compatible", "ns16550a")
	b.PropReg("reg", spec.UARTBase, spec.UARTSize)
	b.PropU32("clock-frequency", spec.UARTClock)
	b.PropU32("reg-shift", 2)
	b.PropU32("reg-io-width", 4)
	b.EndNode()

	b.EndNode() // soc

	b.EndNode() // root
	return b.Build()
}
