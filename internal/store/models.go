package store

import "time"

// Photo is one catalog row: the source of truth for wall membership. The
// binary image lives in object storage under ObjectKey; the catalog only
// tracks identity and placement metadata.
type Photo struct {
	ID          string
	WallID      string
	ObjectKey   string
	ContentType string
	SizeBytes   int64
	CreatedAt   time.Time
}
