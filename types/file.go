package types

import "time"

// File is the metadata record for one object in durable storage.
//
// A File row exists if and only if the corresponding object exists in the
// storage backend; the ingestion pipeline maintains that correspondence.
type File struct {
	// ID is the unique identifier of the file record.
	ID int `json:"id" db:"id"`

	// UserID is the identifier of the owning user.
	UserID int `json:"user_id" db:"user_id"`

	// Key is the object key in the storage backend.
	Key string `json:"key" db:"key"`

	// Location is the public URL of the stored object.
	Location string `json:"location" db:"location"`

	// ContentType is the MIME content type of the object ("image/png").
	ContentType string `json:"content_type" db:"content_type"`

	// Size is the object size in bytes as declared at ingestion time.
	Size int64 `json:"size" db:"size"`

	// OriginalName is the filename (or URL path) the bytes arrived under.
	OriginalName string `json:"original_name" db:"original_name"`

	// MimeType is the user-visible extension category ("png", "jpg").
	MimeType string `json:"mime_type" db:"mime_type"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
