// Package clock implements the scalar Lamport logical clock.
//
// From Lamport (1978), two implementation rules govern the clock:
//
//	IR1 (local event or send): before the event, increment the clock.
//	IR2 (message receipt): on receiving a message stamped t,
//	     set the clock to max(own, t) + 1.
//
// TotalOrderLess extends the causal partial order to a total one by
// breaking counter ties on process ID, so every observer sorts the same
// events into the same sequence without coordination.
//
// Clock is not goroutine-safe. A process.Process owns exactly one Clock
// and serialises access to it.
package clock

// Clock is a Lamport logical clock. The zero value starts at 0.
type Clock struct {
	ts int64
}

// Tick implements IR1 and returns the new timestamp.
func (c *Clock) Tick() int64 {
	c.ts++
	return c.ts
}

// Receive implements IR2 for a message stamped received and returns the
// new timestamp. The result is always greater than both the previous value
// and received.
func (c *Clock) Receive(received int64) int64 {
	c.ts = max(c.ts, received) + 1
	return c.ts
}

// Value returns the current clock value without advancing it.
func (c *Clock) Value() int64 { return c.ts }

// TotalOrderLess reports whether event (tsA, idA) precedes (tsB, idB) in
// the Lamport total order:
//
//	tsA < tsB, or
//	tsA == tsB and idA < idB (lexicographic)
func TotalOrderLess(tsA int64, idA string, tsB int64, idB string) bool {
	if tsA != tsB {
		return tsA < tsB
	}
	return idA < idB
}
