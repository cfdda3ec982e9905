package ota

import "strings"

// Links builds the public URLs of a record from the service's base URL
// (scheme and host, e.g. "https://ota.example.com").
type Links struct {
	BaseURL string
}

// NewLinks trims any trailing slash from baseURL.
func NewLinks(baseURL string) Links {
	return Links{BaseURL: strings.TrimRight(baseURL, "/")}
}

// ManifestURL is the plist manifest endpoint for id.
func (l Links) ManifestURL(id string) string {
	return l.BaseURL + "/ipa/" + id + "/manifest"
}

// DownloadURL is the binary download endpoint for id.
func (l Links) DownloadURL(id string) string {
	return l.BaseURL + "/ipa/" + id + "/download"
}

// InstallPageURL is the interactive HTML install page for id.
func (l Links) InstallPageURL(id string) string {
	return l.BaseURL + "/ipa/" + id + "/ota"
}

// OTAURL is the itms-services URL that makes the device fetch the manifest.
func (l Links) OTAURL(id string) string {
	return OTAURL(l.ManifestURL(id))
}

// OTAURL wraps a manifest URL in the itms-services install scheme.
func OTAURL(manifestURL string) string {
	return "itms-services://?action=download-manifest&url=" + manifestURL
}
