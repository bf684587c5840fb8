// Package snapshot persists serialized networks as zstd-compressed files.
package snapshot

import (
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/nsg-ethz/bgpsim/network"
)

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	encoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("snapshot: zstd encoder init: %v", err))
	}
	decoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("snapshot: zstd decoder init: %v", err))
	}
}

// Save serializes the network and writes it compressed to path.
func Save(n *network.Network, path string) error {
	data, err := n.Serialize()
	if err != nil {
		return fmt.Errorf("snapshot: serializing: %w", err)
	}
	if err := os.WriteFile(path, encoder.EncodeAll(data, nil), 0o644); err != nil {
		return fmt.Errorf("snapshot: writing %s: %w", path, err)
	}
	return nil
}

// Load reads a compressed snapshot and rebuilds the network. Queue and
// logger come from cfg, as in network.Deserialize.
func Load(path string, cfg network.Config) (*network.Network, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: reading %s: %w", path, err)
	}
	data, err := decoder.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot: decompressing %s: %w", path, err)
	}
	return network.Deserialize(data, cfg)
}
