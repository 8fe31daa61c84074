package persist

import (
	"fluxstore/internal/logging"
	"fluxstore/internal/storage"
)

var logger = logging.For("persist")

// Load reads every persisted slice that has a codec and returns them as a
// Rehydrate action. Corrupt or undecodable records are skipped with a
// warning. A nil st yields an empty Rehydrate.
func Load(st storage.Store, codecs Codecs) (Rehydrate, error) {
	out := Rehydrate{Slices: make(map[string]any)}
	if st == nil {
		return out, nil
	}

	err := st.ForEach(Bucket, func(key, value []byte) error {
		name := string(key)
		codec, ok := codecs[name]
		if !ok {
			logger.Debug("ignoring record for unknown slice", "slice", name)
			return nil
		}
		rec, err := unmarshalRecord(value)
		if err != nil {
			logger.Warn("skipping corrupt snapshot record", "slice", name, "err", err)
			return nil
		}
		v, err := codec.Decode(rec.Value)
		if err != nil {
			logger.Warn("skipping undecodable snapshot record", "slice", name, "err", err)
			return nil
		}
		out.Slices[name] = v
		out.Version = max(out.Version, rec.Version)
		return nil
	})
	if err != nil {
		return Rehydrate{}, err
	}

	if len(out.Slices) > 0 {
		logger.Info("loaded snapshot from store", "slices", len(out.Slices), "version", out.Version)
	}
	return out, nil
}

// Purge removes every persisted slice.
func Purge(st storage.Store) error {
	snap, err := st.Snapshot(Bucket)
	if err != nil {
		return err
	}
	for key := range snap {
		if err := st.Delete(Bucket, []byte(key)); err != nil {
			return err
		}
	}
	logger.Info("purged snapshot", "slices", len(snap))
	return nil
}
