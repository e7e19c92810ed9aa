// Package jsp (JSON persistence) provides utilities to store and load
// arbitrary JSON-encoded structures with optional checksumming, via an
// atomic tmp-then-rename write path.
/*
 * Copyright (c) 2024, Kiln Authors. All rights reserved.
 */
package jsp

import (
	"os"

	"github.com/golang/glog"
	"github.com/kilnstore/kiln/cmn/cos"
)

// Save atomically writes v to filepath: encode into a ".tmp.<tie>"
// sibling, flush+close, then rename over filepath. A reader never
// observes a partially written file.
func Save(filepath string, v interface{}, opts Options) (err error) {
	tmp := filepath + ".tmp." + GenTie()
	file, err := cos.CreateFile(tmp)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rmErr := cos.RemoveFile(tmp); rmErr != nil {
				glog.Errorf("nested (%v): failed to remove %s: %v", err, tmp, rmErr)
			}
		}
	}()
	if err = Encode(file, v, opts); err != nil {
		glog.Errorf("failed to encode %s: %v", filepath, err)
		cos.Close(file)
		return err
	}
	if err = cos.FlushClose(file); err != nil {
		glog.Errorf("failed to flush and close %s: %v", tmp, err)
		return err
	}
	return os.Rename(tmp, filepath)
}

// Load reads and decodes filepath. On a checksum mismatch the corrupt
// file is left in place (unlike the teacher's LoadMeta, which deletes it
// outright) — the caller decides whether a bad jsp file is fatal or
// recoverable from another source.
func Load(filepath string, v interface{}, opts Options) error {
	file, err := os.Open(filepath)
	if err != nil {
		return err
	}
	defer file.Close()
	return Decode(file, v, opts)
}
