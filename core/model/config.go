package model

import (
	"fmt"

	"github.com/kilianp07/crimecast/core/tensor"
)

// Config describes the ConvLSTM topology.
type Config struct {
	InputChannels  int    `json:"input_channels" koanf:"input_channels"`
	HiddenChannels int    `json:"hidden_channels" koanf:"hidden_channels"`
	KernelSize     int    `json:"kernel_size" koanf:"kernel_size"`
	Rows           int    `json:"rows" koanf:"rows"`
	Cols           int    `json:"cols" koanf:"cols"`
	Seed           uint64 `json:"seed" koanf:"seed"`
}

// SetDefaults fills zero fields. Rows and Cols come from the grid.
func (c *Config) SetDefaults() {
	if c.InputChannels == 0 {
		c.InputChannels = 1
	}
	if c.HiddenChannels == 0 {
		c.HiddenChannels = 64
	}
	if c.KernelSize == 0 {
		c.KernelSize = 3
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
}

// Validate checks the topology can be instantiated.
func (c Config) Validate() error {
	if c.InputChannels < 1 || c.HiddenChannels < 1 {
		return fmt.Errorf("channels must be positive (input %d, hidden %d)", c.InputChannels, c.HiddenChannels)
	}
	if c.KernelSize < 1 || c.KernelSize%2 == 0 {
		return fmt.Errorf("kernel size must be a positive odd number, got %d", c.KernelSize)
	}
	if c.Rows < 1 || c.Cols < 1 {
		return fmt.Errorf("grid must be positive, got %dx%d", c.Rows, c.Cols)
	}
	return nil
}

// FrameShape is the [Ch][R][C] shape of one input frame and of the output.
func (c Config) FrameShape() tensor.Shape {
	return tensor.Shape{c.InputChannels, c.Rows, c.Cols}
}

func (c Config) pixels() int { return c.Rows * c.Cols }

func (c Config) taps() int { return c.KernelSize * c.KernelSize }
