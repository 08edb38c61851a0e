package ingest

import (
	"encoding/json"
	"strings"
)

// DecodeLine extracts and decodes the JSON object embedded in one line of
// daemon output. The daemon interleaves plain log noise with updates on the
// same stream, so any leading text before the first '{' is skipped and lines
// without a decodable object are dropped.
//
// Numbers decode as json.Number so peer ids survive without float rounding.
func DecodeLine(line string) (map[string]interface{}, bool) {
	start := strings.IndexByte(line, '{')
	if start < 0 {
		return nil, false
	}

	raw := strings.TrimRight(line[start:], "\r\n")

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, false
	}
	return payload, true
}
