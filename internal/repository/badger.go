package repository

import (
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

// OpenBadgerStore opens a badgerhold store in dir, or in memory when dir is empty.
func OpenBadgerStore(dir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dir) <= 0

	opts := badger.DefaultOptions(dir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	store, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	if !isInMemory {
		ticker := time.NewTicker(30 * time.Minute)
		go func() {
			for range ticker.C {
				if err := store.Badger().RunValueLogGC(0.5); err != nil && err != badger.ErrNoRewrite {
					if err == badger.ErrRejected {
						ticker.Stop()
						return
					}
					logrus.WithError(err).Warn("[Store] value log gc failed")
				}
			}
		}()
	}

	return store, nil
}
