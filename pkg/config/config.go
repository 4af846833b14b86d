package config

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"

	"github.com/go-delve/gdbstub/pkg/logflags"
)

const (
	configDir  string = ".gdbstub"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Listen is the address the stub listens on when --listen is not given.
	Listen string `yaml:"listen,omitempty"`
	// LogOutput is used as --log-output when the flag is not given.
	LogOutput string `yaml:"log-output,omitempty"`

	// MaxPacketSize is the packet size advertised in qSupported.
	MaxPacketSize *int `yaml:"max-packet-size,omitempty"`
	// StackChunkSize is the number of bytes at the stack pointer of each
	// thread sent with jThreadsInfo.
	StackChunkSize *int `yaml:"stack-chunk-size,omitempty"`
	// FrameWalkDepth is the maximum number of frame records sent with each
	// thread in jThreadsInfo.
	FrameWalkDepth *int `yaml:"frame-walk-depth,omitempty"`
	// MemoryCacheSize is the number of memory reads remembered during a stop.
	MemoryCacheSize *int `yaml:"memory-cache-size,omitempty"`

	// AcceptMulti keeps the stub running after the debugger disconnects.
	AcceptMulti bool `yaml:"accept-multiclient"`

	// Inferior is the path of the YAML description of the simulated
	// inferior served by default.
	Inferior string `yaml:"inferior,omitempty"`

	// Aliases of the probe command, each alias is replaced by its
	// command line.
	Aliases map[string]string `yaml:"aliases"`
}

// IntOr returns *p, or def if p is nil.
func IntOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// LoadConfig attempts to populate a Config object from the config.yml file,
// a default file is created if none exists.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not create config directory: %v.\n", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to get config file path: %v.\n", err)
		return &Config{}
	}

	if _, err := os.Stat(fullConfigFile); os.IsNotExist(err) {
		f, err := createDefaultConfig(fullConfigFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating default config file: %v\n", err)
			return &Config{}
		}
		f.Close()
	}

	c, err := LoadConfigFrom(fullConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v.\n", err)
		return &Config{}
	}
	return c
}

// LoadConfigFrom reads the configuration in the file at path.
func LoadConfigFrom(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open config file: %w", err)
	}
	defer f.Close()
	c, err := readConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config file %s: %w", path, err)
	}
	logflags.ConfigLogger().Debugf("configuration loaded from %s", path)
	return c, nil
}

func readConfig(r io.Reader) (*Config, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(w io.Writer) error {
	_, err := io.WriteString(w,
		`# Configuration file for gdbstub.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Address the stub listens on.
# listen: 127.0.0.1:1234

# Components producing debug output when --log is given (see 'gdbstub help log').
# log-output: stub,gdbwire

# Packet size advertised to the debugger.
# max-packet-size: 131072

# Bytes of stack sent with each thread in jThreadsInfo replies.
# stack-chunk-size: 256

# Frame records sent with each thread in jThreadsInfo replies.
# frame-walk-depth: 16

# Memory reads remembered while the inferior is stopped, 0 disables the cache.
# memory-cache-size: 128

# Keep serving after the debugger disconnects.
# accept-multiclient: true

# Description of the simulated inferior.
# inferior: ~/.gdbstub/inferior.yml

# Aliases used by the probe command.
aliases:
  # stop: "send ?"
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
