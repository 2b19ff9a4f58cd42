package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/chronos/internal/storage"
)

// parseSession converts a Redis hash to Session
func parseSession(data map[string]string) (*storage.Session, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startTime, err := time.Parse(time.RFC3339Nano, data["start_time"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse start_time: %w", err)
	}

	remaining, err := strconv.ParseInt(data["estimated_remaining_seconds"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse estimated_remaining_seconds: %w", err)
	}

	return &storage.Session{
		ID:                        data["id"],
		UserID:                    data["user_id"],
		StartTime:                 startTime,
		EstimatedRemainingSeconds: remaining,
	}, nil
}
