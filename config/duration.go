package config

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Duration is time.Duration which reads from JSON either as a duration string ("1500ms", "10s")
// or as a number of seconds
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch value := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return errors.Wrapf(err, "Invalid duration '%s'", value)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(value * float64(time.Second))
	default:
		return errors.Errorf("Duration should be a string or a number of seconds, got %s", string(data))
	}
	return nil
}
