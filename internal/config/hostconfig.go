package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// PersistHostConfig writes the host subtree received from the listener
// to path using a write-to-temp-then-rename sequence, so a crash or
// power loss mid-write never leaves a truncated file behind.
func PersistHostConfig(path string, host json.RawMessage) error {
	if path == "" {
		return fmt.Errorf("config: empty host-config output path")
	}

	pretty, err := indentJSON(host)
	if err != nil {
		return fmt.Errorf("config: re-indenting host config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".hostconfig-*.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(pretty); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("config: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("config: renaming temp file into place: %w", err)
	}
	return nil
}

func indentJSON(raw json.RawMessage) ([]byte, error) {
	var buf []byte
	tmp := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &tmp); err != nil {
		// Not an object; fall back to re-indenting whatever value was given.
		var generic interface{}
		if err2 := json.Unmarshal(raw, &generic); err2 != nil {
			return nil, err
		}
		return json.MarshalIndent(generic, "", "  ")
	}
	buf, err := json.MarshalIndent(tmp, "", "  ")
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// LoadHostConfig reads back a previously persisted host config as raw
// bytes. The agent itself does not call it at startup.
func LoadHostConfig(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
