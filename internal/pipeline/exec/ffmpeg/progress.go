// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/bitwave-tv/bitwave-media-server/internal/pipeline/model"
)

// ProgressParser accumulates ffmpeg "-progress" key=value lines and yields a
// snapshot each time a block closes with the "progress" key.
type ProgressParser struct {
	current model.Stats
}

// Feed consumes one line. ok is true when a block completed.
func (p *ProgressParser) Feed(line string) (model.Stats, bool) {
	line = strings.TrimSpace(line)
	key, val, found := strings.Cut(line, "=")
	if !found {
		return model.Stats{}, false
	}
	key, val = strings.TrimSpace(key), strings.TrimSpace(val)

	switch key {
	case "frame":
		if v, err := strconv.ParseInt(val, 10, 64); err == nil {
			p.current.Frames = v
		}
	case "fps":
		if v, err := strconv.ParseFloat(val, 64); err == nil {
			p.current.FPS = v
		}
	case "bitrate":
		p.current.BitrateKbps = parseBitrate(val)
	case "out_time":
		if val != "N/A" {
			p.current.Timemark = strings.TrimPrefix(val, "-")
		}
	case "progress":
		return p.current, true
	}
	return model.Stats{}, false
}

// parseBitrate turns "2500.3kbits/s" into 2500.3. Unknown values give 0.
func parseBitrate(val string) float64 {
	val = strings.TrimSuffix(val, "kbits/s")
	v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return 0
	}
	return v
}

// scanProgress reads r until EOF and calls fn for every completed block.
func scanProgress(r io.Reader, fn func(model.Stats)) {
	var p ProgressParser
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if st, ok := p.Feed(scanner.Text()); ok {
			fn(st)
		}
	}
}
