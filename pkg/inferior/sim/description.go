package sim

import (
	"errors"
	"fmt"
	"io/ioutil"

	"gopkg.in/yaml.v2"
)

// Description is the shape of a simulated inferior. It is usually loaded
// from a YAML file, any field left out keeps its default value.
type Description struct {
	Arch     string `yaml:"arch"`
	Name     string `yaml:"name"`
	Pid      int    `yaml:"pid"`
	Threads  int    `yaml:"threads"`
	FirstTID uint64 `yaml:"first-tid"`

	// Code is the base address of the code region, every thread loops over
	// LoopSize bytes of it.
	Code     uint64 `yaml:"code"`
	LoopSize uint64 `yaml:"loop-size"`

	// Stack is the base address of the first thread stack, stacks are
	// StackSize bytes each and laid out one after the other.
	Stack     uint64 `yaml:"stack"`
	StackSize uint64 `yaml:"stack-size"`

	// Frames is the length of the frame pointer chain built on each stack.
	Frames int `yaml:"frames"`

	Breakpoints []uint64 `yaml:"breakpoints"`
}

// DefaultDescription returns a five threads amd64 process.
func DefaultDescription() Description {
	return Description{
		Arch:      "amd64",
		Name:      "a.out",
		Pid:       4242,
		Threads:   5,
		FirstTID:  4242,
		Code:      0x400000,
		LoopSize:  0x40,
		Stack:     0x7ffff7000000,
		StackSize: 0x1000,
		Frames:    4,
	}
}

// LoadDescription reads a description from a YAML file.
func LoadDescription(path string) (Description, error) {
	desc := DefaultDescription()
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return desc, fmt.Errorf("could not read inferior description: %w", err)
	}
	if err := yaml.Unmarshal(buf, &desc); err != nil {
		return desc, fmt.Errorf("could not parse inferior description %s: %w", path, err)
	}
	return desc, desc.Validate()
}

const (
	instructionSize = 4
	frameRecordSize = 0x20
	stackSlack      = 0x100
)

// Validate checks that the description can be laid out in memory.
func (desc *Description) Validate() error {
	switch {
	case desc.Threads < 1:
		return errors.New("inferior must have at least one thread")
	case desc.LoopSize < instructionSize || desc.LoopSize%instructionSize != 0:
		return fmt.Errorf("loop-size %#x is not a multiple of %d", desc.LoopSize, instructionSize)
	case desc.Frames < 0:
		return errors.New("frames can not be negative")
	case desc.StackSize < stackSlack+uint64(desc.Frames+1)*frameRecordSize:
		return fmt.Errorf("stack-size %#x too small for %d frames", desc.StackSize, desc.Frames)
	case desc.Code < desc.Stack && desc.Code+uint64(desc.Threads)*desc.LoopSize > desc.Stack:
		return errors.New("code overlaps stacks")
	}
	return nil
}
