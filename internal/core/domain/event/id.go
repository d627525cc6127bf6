package event

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// NewEventID generates a server-assigned event_id of the form
// evt_<base36_timestamp>_<hex_random64>, used whenever a producer does not
// supply its own.
func NewEventID() string {
	ts := strconv.FormatInt(time.Now().UnixNano(), 36)

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is a startup-grade fault elsewhere; here we
		// fall back to a timestamp-only suffix rather than panic the hot path.
		return fmt.Sprintf("evt_%s_%016x", ts, time.Now().UnixNano())
	}

	return "evt_" + ts + "_" + hex.EncodeToString(buf[:])
}
