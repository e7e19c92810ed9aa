package cmn

import (
	"strings"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"
)

// alphabet mirrors shortid's own default alphabet; spelled out explicitly
// so we aren't coupled to whichever casing of the constant a given
// shortid release exports.
const alphabet = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var sid *shortid.Shortid

func init() {
	sid = shortid.MustNew(1, alphabet, 0)
}

// GenManifestID returns a 32-character lowercase hex id, never reused
// (spec §3 invariant). Backed by google/uuid rather than shortid because
// the spec's end-to-end scenario (§8 #1) pins the id shape exactly:
// "Assert returned Id is 32 hex chars".
func GenManifestID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")
}

// GenShortID returns a short, human-typeable id for ephemeral objects that
// are never persisted as a Manifest.Id: plugin instance ids, sentinel
// alert ids, correlation ids attached to Internal errors.
func GenShortID() string {
	id, err := sid.Generate()
	if err != nil {
		// shortid.Generate only fails on a misconfigured alphabet/worker,
		// both fixed at init time; fall back rather than propagate.
		return uuid.NewString()
	}
	return id
}
