package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "receiver":
		return receiverTemplate, nil
	case "handshake":
		return handshakeTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const receiverTemplate = `role = "receiver"
addr = "0.0.0.0"
port = 8080
path = "/"
max_payload_bytes = 1073741824
compression_enabled = false
read_timeout = ""
write_timeout = ""
cors_origins = ["http://localhost:3000"]

store_root = "local/received"
gate_on_digest = true
ack_on_store_error = true
store_write_timeout = "30s"
`

const handshakeTemplate = `role = "handshake"
addr = "0.0.0.0"
port = 5678
path = "/"
max_payload_bytes = 1048576
compression_enabled = false
cors_origins = []

nonce = "MTI0Njg4NTAyMjYxMzgxMzgzMg=="
version = "0.0.24"
`
