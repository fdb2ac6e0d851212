package main

import (
	"math"
	"time"

	"github.com/LdDl/mot-lifecycle/mot"
	"github.com/LdDl/mot-lifecycle/pipeline"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// parseFrameLine decodes a single JSON line like
//
//	{"frame": 12, "timestamp": 1714000000.48, "detections": [{"bbox": [x1, y1, x2, y2], "label": "head", "score": 0.9}]}
//
// "ts" with RFC3339 time may be given instead of "timestamp". Without both, timestamp is derived from frame index.
// Malformed detections are dropped and their number is returned.
func parseFrameLine(line []byte, lineIndex int, frameTime func(index int) time.Time) (pipeline.Frame, int, error) {
	if !gjson.ValidBytes(line) {
		return pipeline.Frame{}, 0, errors.Errorf("line %d is not valid JSON", lineIndex+1)
	}
	parsed := gjson.ParseBytes(line)
	if !parsed.IsObject() {
		return pipeline.Frame{}, 0, errors.Errorf("line %d is not a JSON object", lineIndex+1)
	}

	index := lineIndex
	if value := parsed.Get("frame"); value.Exists() {
		index = int(value.Int())
	}

	var timestamp time.Time
	switch ts, unix := parsed.Get("ts"), parsed.Get("timestamp"); {
	case unix.Type == gjson.Number:
		seconds, fraction := math.Modf(unix.Float())
		timestamp = time.Unix(int64(seconds), int64(fraction*1e9)).UTC()
	case ts.Type == gjson.String:
		var err error
		timestamp, err = time.Parse(time.RFC3339Nano, ts.String())
		if err != nil {
			return pipeline.Frame{}, 0, errors.Wrapf(err, "line %d has bad 'ts'", lineIndex+1)
		}
	default:
		timestamp = frameTime(index)
	}

	detections, dropped := mot.ParseDetections(parsed.Get("detections"))
	return pipeline.Frame{
		Index:      index,
		Timestamp:  timestamp,
		Detections: detections,
	}, dropped, nil
}
