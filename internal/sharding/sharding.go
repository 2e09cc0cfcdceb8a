package sharding

import (
	"fmt"
	"hash/crc32"
)

// ShardCount is the fixed number of partitions. Matches never span shards.
const ShardCount = 1024

// ShardOf maps a match id to its partition.
func ShardOf(matchID string) int {
	return int(crc32.ChecksumIEEE([]byte(matchID)) % ShardCount)
}

// MatchSubject is where change notices for one match are published.
// Format: app.event.{shard_id}.match.{match_id}
func MatchSubject(matchID string) string {
	return fmt.Sprintf("app.event.%d.match.%s", ShardOf(matchID), matchID)
}

// AllMatchSubjects matches every match notice on every shard.
const AllMatchSubjects = "app.event.*.match.*"
