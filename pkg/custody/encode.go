package custody

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// TimestampLayout is the canonical timestamp form: UTC with millisecond
// precision, identical to ECMAScript's Date.prototype.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in its canonical string form.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// NormalizeTimestamp truncates t to the precision the canonical form keeps.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// Encode returns the canonical byte encoding of f chained to prevHash.
//
// The document has exactly seven keys (actorUid, data, id, lotId, prevHash,
// timestamp, type) and is serialized per RFC 8785: sorted keys at every
// depth, no insignificant whitespace, ECMAScript number formatting, UTF-8.
// A nil Data is encoded as {}.
func Encode(f Fields, prevHash string) ([]byte, error) {
	if err := f.check(); err != nil {
		return nil, err
	}

	data := f.Data
	if data == nil {
		data = Payload{}
	}

	doc := map[string]any{
		"actorUid":  f.ActorUID,
		"data":      data,
		"id":        f.ID,
		"lotId":     f.LotID,
		"prevHash":  prevHash,
		"timestamp": FormatTimestamp(f.Timestamp),
		"type":      string(f.Type),
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodablePayload, err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnencodablePayload, err)
	}
	return canonical, nil
}
