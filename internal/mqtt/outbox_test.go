package mqtt

import "testing"

func payloads(msgs []message) string {
	var s string
	for _, m := range msgs {
		s += string(m.payload)
	}
	return s
}

func TestOutboxEmptyTake(t *testing.T) {
	o := newOutbox(4)
	msgs, dropped := o.take()
	if msgs != nil || dropped != 0 {
		t.Errorf("expected nothing from empty outbox, got %d messages, %d dropped", len(msgs), dropped)
	}
}

func TestOutboxKeepsPublishOrder(t *testing.T) {
	o := newOutbox(4)
	o.push(message{topic: Topic, payload: []byte("a")})
	o.push(message{topic: TopicGcode, payload: []byte("b")})
	o.push(message{topic: Topic, payload: []byte("c")})

	if o.len() != 3 {
		t.Fatalf("len: got %d, want 3", o.len())
	}
	msgs, _ := o.take()
	if got := payloads(msgs); got != "abc" {
		t.Errorf("order: got %q, want abc", got)
	}
	if o.len() != 0 {
		t.Error("take should empty the outbox")
	}
}

func TestOutboxRetainedSupersedes(t *testing.T) {
	o := newOutbox(4)
	o.push(message{topic: TopicSystem, payload: []byte("1"), retained: true})
	o.push(message{topic: Topic, payload: []byte("e")})
	o.push(message{topic: TopicSystem, payload: []byte("2"), retained: true})
	o.push(message{topic: TopicSystem, payload: []byte("h")})

	msgs, dropped := o.take()
	if got := payloads(msgs); got != "e2h" {
		t.Errorf("got %q, want e2h (stale retained state replaced)", got)
	}
	if dropped != 0 {
		t.Errorf("replacing is not dropping, got %d", dropped)
	}
}

func TestOutboxDropsOldestNonGcode(t *testing.T) {
	o := newOutbox(3)
	o.push(message{topic: TopicGcode, payload: []byte("M")})
	o.push(message{topic: Topic, payload: []byte("a")})
	o.push(message{topic: Topic, payload: []byte("b")})
	o.push(message{topic: Topic, payload: []byte("c")})

	msgs, dropped := o.take()
	if got := payloads(msgs); got != "Mbc" {
		t.Errorf("got %q, want Mbc", got)
	}
	if dropped != 1 {
		t.Errorf("dropped: got %d, want 1", dropped)
	}
}

func TestOutboxAllGcodeDropsOldest(t *testing.T) {
	o := newOutbox(2)
	for _, p := range []string{"1", "2", "3", "4"} {
		o.push(message{topic: TopicGcode, payload: []byte(p)})
	}
	msgs, dropped := o.take()
	if got := payloads(msgs); got != "34" {
		t.Errorf("got %q, want 34", got)
	}
	if dropped != 2 {
		t.Errorf("dropped: got %d, want 2", dropped)
	}

	// Counter resets with each take.
	o.push(message{topic: TopicGcode, payload: []byte("5")})
	if _, dropped := o.take(); dropped != 0 {
		t.Errorf("dropped after take: got %d", dropped)
	}
}
