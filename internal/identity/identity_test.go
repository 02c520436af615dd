package identity

import (
	"strconv"
	"testing"
)

func TestHash_NumericStringAgreement(t *testing.T) {
	ids := []int64{0, 1, 123, 99999999999, 1<<62 + 7}
	for _, id := range ids {
		if Hash(id) != HashString(strconv.FormatInt(id, 10)) {
			t.Errorf("Hash(%d) != HashString(%q)", id, strconv.FormatInt(id, 10))
		}
	}
}

func TestHash_Length(t *testing.T) {
	for _, id := range []string{"", "1", "discord_user", "123456789012345678"} {
		if got := len(HashString(id)); got != HandleLength {
			t.Errorf("HashString(%q) length = %d, want %d", id, got, HandleLength)
		}
	}
}

func TestHash_Deterministic(t *testing.T) {
	if HashString("abc") != HashString("abc") {
		t.Error("hash is not deterministic")
	}
}

func TestHash_NoCollisionsOnSample(t *testing.T) {
	seen := make(map[string]int64, 1000)
	for id := int64(0); id < 1000; id++ {
		h := Hash(id)
		if prev, ok := seen[h]; ok {
			t.Fatalf("collision: Hash(%d) == Hash(%d)", id, prev)
		}
		seen[h] = id
	}
}
