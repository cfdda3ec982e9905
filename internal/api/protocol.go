// Package api defines the JSON wire types shared by the ipaota server and client.
package api

// UploadResponse is returned by POST /ipa/create on success.
type UploadResponse struct {
	Error             bool   `json:"error"`
	ID                string `json:"id"`
	BundleIdentifier  string `json:"bundleIdentifier"`
	BundleVersion     string `json:"bundleVersion"`
	AppName           string `json:"appName"`
	UploadDate        int64  `json:"uploadDate"`
	FileHash          string `json:"fileHash"`
	DirectOTAURL      string `json:"directOtaUrl"`
	InteractiveOTAURL string `json:"interactiveOtaUrl"`
	Warning           string `json:"warning,omitempty"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   bool        `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// FieldError describes one rejected upload field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Info summarizes the contents of the stores.
type Info struct {
	Records int `json:"records"`
	Blobs   int `json:"blobs"`
}

// Query parameter and form field names for uploads.
const (
	ParamBundleIdentifier = "bundleIdentifier"
	ParamBundleVersion    = "bundleVersion"
	ParamAppName          = "appName"
	FormFieldFile         = "file"
)
