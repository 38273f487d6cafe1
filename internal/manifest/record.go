package manifest

import (
	"fmt"
	"time"
)

// StatusSucceeded marks a row whose upload completed at the source.
const StatusSucceeded = "SUCCEEDED"

// TimeLayout is fixed width so string comparison matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.0000000Z"

// ticksAtUnixEpoch is the number of 100ns ticks between 0001-01-01 and 1970-01-01.
const ticksAtUnixEpoch = 621355968000000000

// Record describes one staged log file that can be fetched from the container.
type Record struct {
	PartitionKey     string    `json:"partition_key"`
	RowKey           string    `json:"row_key"`
	DeploymentID     string    `json:"deployment_id"`
	Role             string    `json:"role"`
	RoleInstance     string    `json:"role_instance"`
	SourceDirectory  string    `json:"source_directory"`
	FileTime         time.Time `json:"file_time"`
	FileSize         int64     `json:"file_size"`
	CompleteFileName string    `json:"complete_file_name"`
	RelativePath     string    `json:"relative_path"`
	Container        string    `json:"container"`
	Status           string    `json:"status"`
	EventTickCount   int64     `json:"event_tick_count"`
}

// PartitionKey renders t as a zero-padded count of 100ns ticks since 0001-01-01 UTC.
func PartitionKey(t time.Time) string {
	return fmt.Sprintf("%019d", Ticks(t))
}

// Ticks returns t as 100ns ticks since 0001-01-01 UTC.
func Ticks(t time.Time) int64 {
	return t.UTC().UnixNano()/100 + ticksAtUnixEpoch
}

// FromTicks is the inverse of Ticks.
func FromTicks(ticks int64) time.Time {
	return time.Unix(0, (ticks-ticksAtUnixEpoch)*100).UTC()
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a value produced by FormatTime. RFC3339 values are accepted too.
func ParseTime(v string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, v)
	if err == nil {
		return t.UTC(), nil
	}
	t, rfcErr := time.Parse(time.RFC3339Nano, v)
	if rfcErr != nil {
		return time.Time{}, fmt.Errorf("parse file time %q: %w", v, err)
	}
	return t.UTC(), nil
}
