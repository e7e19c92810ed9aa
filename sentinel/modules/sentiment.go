package modules

import (
	"context"
	"net/http"
	"strings"

	"github.com/kilnstore/kiln/sentinel"
)

// MaxSentimentScanBytes bounds the sentiment scanner's read window.
const MaxSentimentScanBytes = 64 << 10

// HostileWordThreshold is the hostile-word count above which the
// module flags a payload (spec §4.8: "hostile-word count").
const HostileWordThreshold = 3

var hostileWords = []string{
	"hate", "kill", "threat", "attack", "destroy", "worthless", "idiot",
}

// SentimentModule counts hostile-word occurrences in small text
// payloads and tags the manifest when the count crosses a threshold. It
// never blocks — sentiment is advisory, not a governance gate.
type SentimentModule struct{}

func (SentimentModule) Name() string { return "sentiment" }

func (SentimentModule) Analyze(ctx context.Context, sctx sentinel.Context) (sentinel.Judgment, error) {
	if sctx.Trigger != sentinel.OnWrite || sctx.DataStream == nil {
		return sentinel.Judgment{}, nil
	}
	data, err := readUpTo(sctx.DataStream, MaxSentimentScanBytes)
	if err != nil {
		return sentinel.Judgment{}, err
	}
	if !strings.HasPrefix(http.DetectContentType(data), "text/") {
		return sentinel.Judgment{}, nil
	}

	lower := strings.ToLower(string(data))
	count := 0
	for _, w := range hostileWords {
		count += strings.Count(lower, w)
	}
	if count < HostileWordThreshold {
		return sentinel.Judgment{}, nil
	}
	return sentinel.Judgment{
		InterventionRequired: true,
		AddTags:              map[string]string{"Governance:Sentiment": "Hostile"},
	}, nil
}
