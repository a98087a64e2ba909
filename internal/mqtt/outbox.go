package mqtt

import "github.com/sweeney/filament-sensor/internal/logging"

// message is a serialized publish held for replay after a reconnect.
type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox holds messages published while the broker is unreachable, in
// publish order. A retained message replaces the earlier retained message
// on its topic. When full, the oldest message that is not G-code is
// dropped first. Not safe for concurrent use; the caller synchronizes.
type outbox struct {
	msgs    []message
	limit   int
	dropped uint64
}

func newOutbox(limit int) *outbox {
	return &outbox{limit: limit}
}

func (o *outbox) push(m message) {
	if m.retained {
		for i, old := range o.msgs {
			if old.retained && old.topic == m.topic {
				o.msgs = append(o.msgs[:i], o.msgs[i+1:]...)
				break
			}
		}
	}
	if len(o.msgs) >= o.limit {
		if o.dropped == 0 {
			logging.NewLogger("mqtt").Warnf("mqtt: outbox full (%d messages), dropping oldest", o.limit)
		}
		o.dropped++
		victim := 0
		for i, old := range o.msgs {
			if old.topic != TopicGcode {
				victim = i
				break
			}
		}
		o.msgs = append(o.msgs[:victim], o.msgs[victim+1:]...)
	}
	o.msgs = append(o.msgs, m)
}

// take empties the outbox and returns its messages with the number dropped
// since the last take.
func (o *outbox) take() ([]message, uint64) {
	msgs, dropped := o.msgs, o.dropped
	o.msgs = nil
	o.dropped = 0
	return msgs, dropped
}

func (o *outbox) len() int { return len(o.msgs) }
