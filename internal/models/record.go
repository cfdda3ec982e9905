// Package models defines the data types shared by the stores, the OTA service
// and the HTTP layer.
package models

import "time"

// Record is one upload event. Records are append-only: once inserted they are
// never updated or deleted.
type Record struct {
	ID               string `json:"id"`
	UploadTimestamp  int64  `json:"upload_timestamp"` // unix seconds
	BundleIdentifier string `json:"bundle_identifier"`
	BundleVersion    string `json:"bundle_version"`
	AppName          string `json:"app_name"`
	ContentHash      string `json:"content_hash"`
}

// UploadedAt returns the upload timestamp as a time.Time.
func (r *Record) UploadedAt() time.Time {
	return time.Unix(r.UploadTimestamp, 0).UTC()
}

// Filename returns the download filename for the record's binary.
func (r *Record) Filename() string {
	return r.AppName + "-" + r.BundleVersion + ".ipa"
}

// Metadata holds the caller-supplied identifying fields of an upload.
type Metadata struct {
	BundleIdentifier string
	BundleVersion    string
	AppName          string
}
