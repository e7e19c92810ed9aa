package modules

import (
	"io"

	"github.com/kilnstore/kiln/cmn"
)

// autoEncryptPipeline clones m's currently resolved pipeline and turns
// encryption on, inserting "Encryption" into TransformationOrder if it
// isn't already there. KeyId is left empty: pipeline.Engine fills it
// with the current default key when a forced pipeline needs one and
// none is set (spec §4.9 step 4).
func autoEncryptPipeline(m *cmn.Manifest) *cmn.PipelineConfig {
	var pc cmn.PipelineConfig
	if m != nil {
		pc = m.Pipeline.Clone()
	}
	pc.EnableEncryption = true
	pc.TransformationOrder = ensureStep(pc.TransformationOrder, cmn.CategoryEncryption)
	return &pc
}

// autoCompressPipeline is autoEncryptPipeline's compression counterpart,
// used by the compression advisor module.
func autoCompressPipeline(m *cmn.Manifest) *cmn.PipelineConfig {
	var pc cmn.PipelineConfig
	if m != nil {
		pc = m.Pipeline.Clone()
	}
	pc.EnableCompression = true
	pc.TransformationOrder = ensureStep(pc.TransformationOrder, cmn.CategoryCompression)
	return &pc
}

func ensureStep(order []string, step string) []string {
	for _, s := range order {
		if s == step {
			return order
		}
	}
	return append(append([]string(nil), order...), step)
}

// readUpTo reads at most n bytes from r, tolerating a short stream.
func readUpTo(r io.Reader, n int64) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(r, n))
	if err != nil {
		return nil, err
	}
	return buf, nil
}
