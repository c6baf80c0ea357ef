package vectordb

import "time"

// Config holds Qdrant client settings.
type Config struct {
	URL        string
	Collection string
	VectorSize int
	Distance   string
	Timeout    time.Duration
}

// Point is one scored search result with its stored payload.
type Point struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// UpsertItem is one point to insert or update.
type UpsertItem struct {
	ID      string                 `json:"id"`
	Vector  []float32              `json:"vector"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// SnapshotInfo describes a snapshot created on the server.
type SnapshotInfo struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size"`
	CreatedAt time.Time `json:"creation_time"`
}
