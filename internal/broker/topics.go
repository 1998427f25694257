package broker

import (
	"errors"
	"fmt"
	"strings"
)

// Topic kinds published by the insole firmware.
const (
	KindStatus      = "status"
	KindData        = "d"
	KindCalibration = "cal"
)

// Device status payloads.
const (
	StatusOffline = '0'
	StatusOnline  = '1'
)

// ClassTopic carries the label of each live classification.
const ClassTopic = "app/class"

// ErrNotDeviceTopic is returned for topics outside esp/.
var ErrNotDeviceTopic = errors.New("not a device topic")

// Topic is a parsed esp/<device>/<kind>[/<index>] topic.
type Topic struct {
	Device string
	Kind   string
	Index  string
}

// ParseTopic parses a device topic. Data and calibration topics need a pad
// index; status topics must not have one.
func ParseTopic(topic string) (Topic, error) {
	levels := strings.Split(topic, "/")
	if len(levels) < 3 || levels[0] != "esp" {
		return Topic{}, fmt.Errorf("%w: %q", ErrNotDeviceTopic, topic)
	}
	t := Topic{Device: levels[1], Kind: levels[2]}
	if t.Device == "" {
		return Topic{}, fmt.Errorf("topic %q: empty device id", topic)
	}
	switch t.Kind {
	case KindStatus:
		if len(levels) != 3 {
			return Topic{}, fmt.Errorf("topic %q: unexpected levels after status", topic)
		}
	case KindData, KindCalibration:
		if len(levels) != 4 || levels[3] == "" {
			return Topic{}, fmt.Errorf("topic %q: expected esp/<id>/%s/<n>", topic, t.Kind)
		}
		t.Index = levels[3]
	default:
		return Topic{}, fmt.Errorf("topic %q: unknown kind %q", topic, t.Kind)
	}
	return t, nil
}

// TimerTopic is the topic that starts a device's millisecond timer.
func TimerTopic(device string) string {
	return "app/timer/" + device + "/0"
}
