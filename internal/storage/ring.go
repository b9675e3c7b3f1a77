package storage

import "time"

type ringEntry struct {
	msg       Message
	persisted bool
}

// messageRing holds the newest messages of one room in a fixed-capacity
// circular buffer. Once full, each push overwrites the oldest entry.
type messageRing struct {
	buf        []ringEntry
	start      int
	cap        int
	lastAppend time.Time
}

func newMessageRing(capacity int) *messageRing {
	return &messageRing{cap: capacity}
}

func (r *messageRing) push(msg Message, now time.Time) {
	if len(r.buf) < r.cap {
		r.buf = append(r.buf, ringEntry{msg: msg})
	} else {
		r.buf[r.start] = ringEntry{msg: msg}
		r.start = (r.start + 1) % r.cap
	}
	r.lastAppend = now
}

func (r *messageRing) at(i int) *ringEntry {
	return &r.buf[(r.start+i)%len(r.buf)]
}

func (r *messageRing) len() int { return len(r.buf) }

// last returns the timestamp of the newest message, or zero.
func (r *messageRing) last() time.Time {
	if len(r.buf) == 0 {
		return time.Time{}
	}
	return r.at(len(r.buf) - 1).msg.Timestamp
}

// tail returns up to limit newest messages, oldest first. A non-positive
// limit returns everything.
func (r *messageRing) tail(limit int) []Message {
	n := len(r.buf)
	from := 0
	if limit > 0 && n > limit {
		from = n - limit
	}
	out := make([]Message, 0, n-from)
	for i := from; i < n; i++ {
		out = append(out, r.at(i).msg)
	}
	return out
}

func (r *messageRing) markPersisted(ids map[string]struct{}) {
	for i := range r.buf {
		if _, ok := ids[r.buf[i].msg.ID]; ok {
			r.buf[i].persisted = true
		}
	}
}

// unpersisted returns, oldest first, the messages the log has not confirmed.
func (r *messageRing) unpersisted() []Message {
	var out []Message
	for i := 0; i < len(r.buf); i++ {
		if e := r.at(i); !e.persisted {
			out = append(out, e.msg)
		}
	}
	return out
}

func (r *messageRing) allPersisted() bool {
	for i := range r.buf {
		if !r.buf[i].persisted {
			return false
		}
	}
	return true
}
