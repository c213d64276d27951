package lock

import (
	"fmt"

	"sentinel-policy/internal/platform"

	"github.com/vmihailenco/msgpack/v5"
)

const snapshotVersion = 1

type snapshot struct {
	Version    int             `msgpack:"v"`
	Overwrites []snapshotEntry `msgpack:"overwrites"`
}

type snapshotEntry struct {
	ID    string `msgpack:"id"`
	Kind  int    `msgpack:"kind"`
	Allow int64  `msgpack:"allow"`
	Deny  int64  `msgpack:"deny"`
}

func encodeSnapshot(overwrites []platform.Overwrite) ([]byte, error) {
	snap := snapshot{Version: snapshotVersion, Overwrites: make([]snapshotEntry, 0, len(overwrites))}
	for _, ow := range overwrites {
		snap.Overwrites = append(snap.Overwrites, snapshotEntry{
			ID:    ow.ID,
			Kind:  int(ow.Kind),
			Allow: ow.Allow,
			Deny:  ow.Deny,
		})
	}
	return msgpack.Marshal(&snap)
}

func decodeSnapshot(data []byte) ([]platform.Overwrite, error) {
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode lock snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported lock snapshot version %d", snap.Version)
	}
	overwrites := make([]platform.Overwrite, 0, len(snap.Overwrites))
	for _, entry := range snap.Overwrites {
		overwrites = append(overwrites, platform.Overwrite{
			ID:    entry.ID,
			Kind:  platform.OverwriteKind(entry.Kind),
			Allow: entry.Allow,
			Deny:  entry.Deny,
		})
	}
	return overwrites, nil
}
