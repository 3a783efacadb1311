package config

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcncl/worker-echo/internal/errors"
)

// Duration is a time.Duration that decodes from Go duration strings ("45s")
// or plain numbers of seconds, in JSON, YAML and environment variables alike.
type Duration struct {
	time.Duration
}

// maxSeconds is the largest whole number of seconds a time.Duration holds
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// Seconds is a shorthand for building a Duration in literals
func Seconds(n int) Duration {
	return Duration{time.Duration(n) * time.Second}
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) || math.Abs(secs) > maxSeconds {
			return 0, errors.NewValidationError("invalid duration " + strconv.Quote(s))
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.NewValidationError("invalid duration " + strconv.Quote(s))
	}
	return d, nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return d.UnmarshalText([]byte(s))
	}
	return d.UnmarshalText(data)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.UnmarshalText([]byte(node.Value))
}
