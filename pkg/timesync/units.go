package timesync

import "fmt"

// Unit is a time unit the clock can convert between.
type Unit string

const (
	Milliseconds Unit = "ms"
	Microseconds Unit = "us"
	Nanoseconds  Unit = "ns"
)

// factor of each unit relative to nanoseconds.
var unitFactor = map[Unit]int64{
	Milliseconds: 1_000_000,
	Microseconds: 1_000,
	Nanoseconds:  1,
}

// Convert performs an exact linear conversion between ms, us and ns.
// Converting to a coarser unit truncates toward zero. The only rejection is
// a value whose conversion would overflow int64; the caller drops that value
// and nothing else.
func Convert(value int64, from, to Unit) (int64, error) {
	ff, ok := unitFactor[from]
	if !ok {
		return 0, &ConversionError{Value: value, From: from, To: to, Reason: "unknown source unit"}
	}
	tf, ok := unitFactor[to]
	if !ok {
		return 0, &ConversionError{Value: value, From: from, To: to, Reason: "unknown target unit"}
	}
	if ff == tf {
		return value, nil
	}
	if ff > tf {
		mult := ff / tf
		out := value * mult
		if value != 0 && out/mult != value {
			return 0, &ConversionError{Value: value, From: from, To: to, Reason: "conversion overflows int64"}
		}
		return out, nil
	}
	return value / (tf / ff), nil
}

// ConversionError reports a timestamp that cannot be represented in the
// requested unit. It condemns the single value, not the subsystem.
type ConversionError struct {
	Value  int64
	From   Unit
	To     Unit
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %d from %s to %s: %s", e.Value, e.From, e.To, e.Reason)
}
