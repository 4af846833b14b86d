package inferior

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Generic register roles, as reported by qRegisterInfo.
const (
	GenericPC    = "pc"
	GenericSP    = "sp"
	GenericFP    = "fp"
	GenericRA    = "ra"
	GenericFlags = "flags"
)

// GeneralPurposeSet is the register set of the general purpose registers.
const GeneralPurposeSet = "General Purpose Registers"

// RegisterInfo describes one register of the target architecture.
// It is immutable once the Arch it belongs to has been built.
type RegisterInfo struct {
	Name      string
	AltName   string
	Generic   string
	Regnum    int // wire index
	Bitsize   int
	Offset    int // offset inside the register buffer of a thread
	Encoding  string
	Format    string
	Set       string
	DwarfNum  int // -1 if the register has no DWARF number
	ByteOrder binary.ByteOrder
}

// Size returns the size of the register in bytes.
func (ri *RegisterInfo) Size() int {
	return ri.Bitsize / 8
}

// Value returns the bytes of the register inside regs, in target byte order.
// The returned slice aliases regs.
func (ri *RegisterInfo) Value(regs []byte) []byte {
	return regs[ri.Offset : ri.Offset+ri.Size()]
}

// Uint returns the value of the register inside regs as an integer.
func (ri *RegisterInfo) Uint(regs []byte) uint64 {
	return bytesToUint(ri.ByteOrder, ri.Value(regs))
}

// PutUint stores v into the register inside regs.
func (ri *RegisterInfo) PutUint(regs []byte, v uint64) {
	putUint(ri.ByteOrder, ri.Value(regs), v)
}

func bytesToUint(order binary.ByteOrder, b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	case 8:
		return order.Uint64(b)
	}
	panic(fmt.Errorf("unsupported register size %d", len(b)))
}

func putUint(order binary.ByteOrder, b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = uint8(v)
	case 2:
		order.PutUint16(b, uint16(v))
	case 4:
		order.PutUint32(b, uint32(v))
	case 8:
		order.PutUint64(b, v)
	default:
		panic(fmt.Errorf("unsupported register size %d", len(b)))
	}
}

// Arch describes the register layout and data model of a target.
type Arch struct {
	Name      string
	Triple    string
	PtrSize   int
	ByteOrder binary.ByteOrder
	Registers []RegisterInfo

	regsSize int
}

func newArch(name, triple string, ptrSize int, order binary.ByteOrder, regs []RegisterInfo) *Arch {
	a := &Arch{Name: name, Triple: triple, PtrSize: ptrSize, ByteOrder: order, Registers: regs}
	offset := 0
	for i := range a.Registers {
		ri := &a.Registers[i]
		ri.Regnum = i
		ri.Offset = offset
		ri.ByteOrder = order
		if ri.Encoding == "" {
			ri.Encoding = "uint"
		}
		if ri.Format == "" {
			ri.Format = "hex"
		}
		if ri.Set == "" {
			ri.Set = GeneralPurposeSet
		}
		offset += ri.Size()
	}
	a.regsSize = offset
	return a
}

// RegistersSize returns the size of the buffer holding all registers of a
// thread.
func (a *Arch) RegistersSize() int {
	return a.regsSize
}

// Endian returns "little" or "big", as reported by qProcessInfo.
func (a *Arch) Endian() string {
	if a.ByteOrder == binary.BigEndian {
		return "big"
	}
	return "little"
}

// PtrUint decodes a pointer sized value in target byte order.
func (a *Arch) PtrUint(b []byte) uint64 {
	return bytesToUint(a.ByteOrder, b[:a.PtrSize])
}

// PutPtr encodes a pointer sized value in target byte order.
func (a *Arch) PutPtr(b []byte, v uint64) {
	putUint(a.ByteOrder, b[:a.PtrSize], v)
}

// Register returns the register with wire index regnum.
func (a *Arch) Register(regnum int) (*RegisterInfo, error) {
	if regnum < 0 || regnum >= len(a.Registers) {
		return nil, &NotFoundError{What: "register", Key: strconv.Itoa(regnum)}
	}
	return &a.Registers[regnum], nil
}

// FindRegister looks up a register by wire index (decimal, or hex with a
// 0x prefix), name, alternate name or generic role.
func (a *Arch) FindRegister(nameOrIndex string) (*RegisterInfo, error) {
	if n, err := strconv.ParseInt(nameOrIndex, 0, 32); err == nil {
		return a.Register(int(n))
	}
	for i := range a.Registers {
		if a.Registers[i].Name == nameOrIndex || (a.Registers[i].AltName != "" && a.Registers[i].AltName == nameOrIndex) {
			return &a.Registers[i], nil
		}
	}
	if ri, err := a.FindGeneric(nameOrIndex); err == nil {
		return ri, nil
	}
	return nil, &NotFoundError{What: "register", Key: nameOrIndex}
}

// FindGeneric returns the register playing the given generic role.
func (a *Arch) FindGeneric(generic string) (*RegisterInfo, error) {
	for i := range a.Registers {
		if a.Registers[i].Generic == generic {
			return &a.Registers[i], nil
		}
	}
	return nil, &NotFoundError{What: "generic register", Key: generic}
}

// FindPCRegister returns the program counter register: the register with
// the generic pc role or, failing that, one named by convention.
func (a *Arch) FindPCRegister() (*RegisterInfo, error) {
	if ri, err := a.FindGeneric(GenericPC); err == nil {
		return ri, nil
	}
	for _, name := range []string{"pc", "rip", "eip"} {
		for i := range a.Registers {
			if a.Registers[i].Name == name || a.Registers[i].AltName == name {
				return &a.Registers[i], nil
			}
		}
	}
	return nil, &NotFoundError{What: "register", Key: "pc"}
}

// ArchByName returns one of the supported architectures.
func ArchByName(name string) (*Arch, error) {
	switch strings.ToLower(name) {
	case "", "amd64", "x86_64", "x86-64":
		return AMD64(), nil
	case "arm64", "aarch64":
		return ARM64(), nil
	case "ppc64", "powerpc64":
		return PPC64(), nil
	}
	return nil, &NotFoundError{What: "architecture", Key: name}
}

// AMD64 returns the x86-64 layout, numbered like lldb-server does.
func AMD64() *Arch {
	r := func(name, generic string, dwarf int) RegisterInfo {
		return RegisterInfo{Name: name, Generic: generic, Bitsize: 64, DwarfNum: dwarf}
	}
	regs := []RegisterInfo{
		r("rax", "", 0),
		r("rbx", "", 3),
		r("rcx", "", 2),
		r("rdx", "", 1),
		r("rdi", "", 5),
		r("rsi", "", 4),
		r("rbp", GenericFP, 6),
		r("rsp", GenericSP, 7),
		r("r8", "", 8),
		r("r9", "", 9),
		r("r10", "", 10),
		r("r11", "", 11),
		r("r12", "", 12),
		r("r13", "", 13),
		r("r14", "", 14),
		r("r15", "", 15),
		r("rip", GenericPC, 16),
		r("rflags", GenericFlags, 49),
		r("fs_base", "", 58),
		r("gs_base", "", 59),
	}
	regs[6].AltName = "fp"
	regs[7].AltName = "sp"
	regs[16].AltName = "pc"
	regs[17].AltName = "flags"
	regs[18].Set = "Segment Registers"
	regs[19].Set = "Segment Registers"
	return newArch("amd64", "x86_64-pc-linux-gnu", 8, binary.LittleEndian, regs)
}

// ARM64 returns the AArch64 layout.
func ARM64() *Arch {
	regs := make([]RegisterInfo, 0, 34)
	for i := 0; i <= 28; i++ {
		regs = append(regs, RegisterInfo{Name: fmt.Sprintf("x%d", i), Bitsize: 64, DwarfNum: i})
	}
	regs = append(regs,
		RegisterInfo{Name: "fp", AltName: "x29", Generic: GenericFP, Bitsize: 64, DwarfNum: 29},
		RegisterInfo{Name: "lr", AltName: "x30", Generic: GenericRA, Bitsize: 64, DwarfNum: 30},
		RegisterInfo{Name: "sp", AltName: "x31", Generic: GenericSP, Bitsize: 64, DwarfNum: 31},
		RegisterInfo{Name: "pc", Generic: GenericPC, Bitsize: 64, DwarfNum: 32},
		RegisterInfo{Name: "cpsr", Generic: GenericFlags, Bitsize: 32, DwarfNum: -1},
	)
	return newArch("arm64", "aarch64-unknown-linux-gnu", 8, binary.LittleEndian, regs)
}

// PPC64 returns the big endian 64bit PowerPC layout.
func PPC64() *Arch {
	regs := make([]RegisterInfo, 0, 38)
	for i := 0; i <= 31; i++ {
		ri := RegisterInfo{Name: fmt.Sprintf("r%d", i), Bitsize: 64, DwarfNum: i}
		switch i {
		case 1:
			ri.Generic = GenericSP
		case 31:
			ri.Generic = GenericFP
		}
		regs = append(regs, ri)
	}
	regs = append(regs,
		RegisterInfo{Name: "pc", Generic: GenericPC, Bitsize: 64, DwarfNum: -1},
		RegisterInfo{Name: "msr", Generic: GenericFlags, Bitsize: 64, DwarfNum: -1},
		RegisterInfo{Name: "cr", Bitsize: 32, DwarfNum: 64},
		RegisterInfo{Name: "lr", Generic: GenericRA, Bitsize: 64, DwarfNum: 65},
		RegisterInfo{Name: "ctr", Bitsize: 64, DwarfNum: 66},
		RegisterInfo{Name: "xer", Bitsize: 32, DwarfNum: 76},
	)
	return newArch("ppc64", "powerpc64-unknown-linux-gnu", 8, binary.BigEndian, regs)
}
