package ids

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrefixes(t *testing.T) {
	assert.Regexp(t, `^int_[0-9A-HJKMNP-TV-Z]{26}$`, NewIntentID())
	assert.Regexp(t, `^cor_[0-9A-HJKMNP-TV-Z]{26}$`, NewCorrelationID())
	assert.Regexp(t, `^rcp_[0-9A-HJKMNP-TV-Z]{26}$`, NewReceiptID())
}

func TestIntentIDsSortByMintTime(t *testing.T) {
	minted := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		minted = append(minted, NewIntentID())
		time.Sleep(2 * time.Millisecond)
	}

	sorted := append([]string(nil), minted...)
	sort.Strings(sorted)
	assert.Equal(t, minted, sorted)
}

func TestTraceIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTraceID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
