package config

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"testing"
)

func TestLoadConfigFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFile)
	err := ioutil.WriteFile(path, []byte(`listen: 127.0.0.1:1234
log-output: stub,gdbwire
stack-chunk-size: 64
frame-walk-depth: 0
inferior: /tmp/inferior.yml
aliases:
  stop: "send ?"
`), 0600)
	if err != nil {
		t.Fatal(err)
	}
	c, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Listen != "127.0.0.1:1234" || c.LogOutput != "stub,gdbwire" || c.Inferior != "/tmp/inferior.yml" {
		t.Errorf("wrong config %#v", c)
	}
	if IntOr(c.StackChunkSize, 256) != 64 {
		t.Errorf("stack-chunk-size not loaded")
	}
	// an explicit zero is kept
	if IntOr(c.FrameWalkDepth, 16) != 0 {
		t.Errorf("frame-walk-depth not loaded")
	}
	if IntOr(c.MaxPacketSize, 0x20000) != 0x20000 {
		t.Errorf("max-packet-size should keep its default")
	}
	if c.Aliases["stop"] != "send ?" {
		t.Errorf("wrong aliases %#v", c.Aliases)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadConfigFrom(filepath.Join(dir, "missing.yml")); err == nil {
		t.Error("expected error for missing file")
	}
	path := filepath.Join(dir, configFile)
	if err := ioutil.WriteFile(path, []byte("unknown-key: 1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFrom(path); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestDefaultConfig(t *testing.T) {
	var buf bytes.Buffer
	if err := writeDefaultConfig(&buf); err != nil {
		t.Fatal(err)
	}
	c, err := readConfig(&buf)
	if err != nil {
		t.Fatalf("default config does not parse: %v", err)
	}
	if c.Listen != "" || c.StackChunkSize != nil || c.AcceptMulti {
		t.Errorf("default config enables options: %#v", c)
	}
}
