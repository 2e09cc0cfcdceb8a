package sharding

import (
	"fmt"
	"hash/crc32"
	"strings"
	"testing"
)

func TestShardOf_MatchesChecksum(t *testing.T) {
	for _, id := range []string{"match-1", "match-2", "six-nations-2026-r3"} {
		want := int(crc32.ChecksumIEEE([]byte(id)) % ShardCount)
		if got := ShardOf(id); got != want {
			t.Errorf("ShardOf(%q) = %d, want %d", id, got, want)
		}
		if got := ShardOf(id); got < 0 || got >= ShardCount {
			t.Errorf("ShardOf(%q) = %d out of range", id, got)
		}
	}
}

func TestMatchSubject(t *testing.T) {
	subject := MatchSubject("match-1")
	want := fmt.Sprintf("app.event.%d.match.match-1", ShardOf("match-1"))
	if subject != want {
		t.Errorf("MatchSubject = %v, want %v", subject, want)
	}
	if !strings.HasPrefix(subject, "app.event.") {
		t.Errorf("subject %q is outside the events stream", subject)
	}
}

func TestStableSharding(t *testing.T) {
	id := "test-stable-id"
	if ShardOf(id) != ShardOf(id) {
		t.Errorf("sharding is not deterministic for %q", id)
	}
}

func TestDistribution(t *testing.T) {
	distribution := make(map[int]int)
	for i := 0; i < 1000; i++ {
		distribution[ShardOf(fmt.Sprintf("match-%d", i))]++
	}
	if len(distribution) < 100 {
		t.Errorf("sharding distribution is too poor: %d unique shards for 1000 matches", len(distribution))
	}
}
