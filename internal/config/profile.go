package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadProfile reads a YAML kernel profile on top of Default.
// Keys absent from the file keep their default value.
//
// Example profile:
//
//	unroll: 8
//	registers: 4
//	instructions:
//	  - "add %r@, %r@+1"
//	  - "NOP#2"
//	align: 6
func LoadProfile(path string) (KernelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KernelConfig{}, &IOError{Path: path, Err: err}
	}

	cfg := Default()
	if err := decodeProfile(data, &cfg); err != nil {
		return KernelConfig{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func decodeProfile(data []byte, cfg *KernelConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil // empty profile
		}
		return Errorf(CodeValue, "%v", err)
	}
	return nil
}

// Echo renders the configuration as YAML, one entry per line
func (c *KernelConfig) Echo() ([]string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n"), nil
}
