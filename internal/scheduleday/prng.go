package scheduleday

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/retrovue/core/internal/model"
)

// slotPRNG returns a deterministic generator keyed on (channel_id, date,
// slot_index), per the specification's seeding rule for random zone and
// play-mode selection.
func slotPRNG(channelID model.ID, day time.Time, slotIndex int) *rand.Rand {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%04d-%02d-%02d|%d", channelID, day.Year(), day.Month(), day.Day(), slotIndex)
	return rand.New(rand.NewSource(int64(h.Sum64())))
}
