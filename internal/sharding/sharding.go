package sharding

import (
	"fmt"
	"hash/crc32"
	"strings"
)

// ShardCount is the fixed number of event partitions.
const ShardCount = 64

// GetShardID calculates the deterministic shard ID for a given table label.
func GetShardID(tableNumber string) int {
	checksum := crc32.ChecksumIEEE([]byte(tableNumber))
	return int(checksum % ShardCount)
}

// EventSubject returns the NATS subject for a table's order events.
// Format: app.event.{shard_id}.table.{token}
func EventSubject(tableNumber string) string {
	return fmt.Sprintf("app.event.%d.table.%s", GetShardID(tableNumber), SubjectToken(tableNumber))
}

// SubjectToken renders a free-form label as a single NATS subject token.
func SubjectToken(label string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return "_"
	}
	var sb strings.Builder
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
