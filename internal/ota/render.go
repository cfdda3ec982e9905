package ota

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"howett.net/plist"
)

// Content types of the rendered artifacts.
const (
	ContentTypeHTML     = "text/html; charset=utf-8"
	ContentTypeManifest = "application/x-plist"
)

// The href is written verbatim so the device sees exactly
// itms-services://?action=download-manifest&url=<manifest>. Record fields and
// the manifest URL are HTML-escaped individually.
var installPageTemplate = template.Must(template.New("install").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta name="viewport" content="width=device-width, initial-scale=1">
	<title>Install {{html .AppName}} ({{html .BundleIdentifier}}) [{{html .BundleVersion}}]</title>
</head>
<body>
	<h1>
		<a href="itms-services://?action=download-manifest&url={{html .ManifestURL}}">Install {{html .AppName}} ({{html .BundleIdentifier}}) [{{html .BundleVersion}}]</a>
	</h1>
	<h3>Hash: {{html .ContentHash}}</h3>
</body>
</html>
`))

const indexPage = `<!DOCTYPE html>
<html>
<head>
	<title>Index</title>
</head>
<body>
	<h3>This is the index page for an iOS IPA OTA distribution service</h3>
	<p>
		There is nothing on the index page as it's an API service. Upload an IPA with
		<code>POST /ipa/create?bundleIdentifier=...&amp;bundleVersion=...&amp;appName=...</code>
		and open the returned install page on the device.
	</p>
</body>
</html>
`

// IndexPage returns the static landing page.
func IndexPage() []byte {
	return []byte(indexPage)
}

// InstallPage renders the HTML page whose link triggers the device installer.
func (s *Service) InstallPage(ctx context.Context, id string, links Links) ([]byte, error) {
	rec, err := s.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = installPageTemplate.Execute(&buf, struct {
		AppName          string
		BundleIdentifier string
		BundleVersion    string
		ContentHash      string
		ManifestURL      string
	}{
		AppName:          rec.AppName,
		BundleIdentifier: rec.BundleIdentifier,
		BundleVersion:    rec.BundleVersion,
		ContentHash:      rec.ContentHash,
		ManifestURL:      links.ManifestURL(rec.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("render install page: %w", err)
	}
	return buf.Bytes(), nil
}

// Manifest is the OTA installation manifest property list.
type Manifest struct {
	Items []ManifestItem `plist:"items"`
}

// ManifestItem describes one installable application.
type ManifestItem struct {
	Assets   []ManifestAsset  `plist:"assets"`
	Metadata ManifestMetadata `plist:"metadata"`
}

// ManifestAsset points the installer at the binary.
type ManifestAsset struct {
	Kind string `plist:"kind"`
	URL  string `plist:"url"`
}

// ManifestMetadata identifies the application being installed.
type ManifestMetadata struct {
	BundleIdentifier string `plist:"bundle-identifier"`
	BundleVersion    string `plist:"bundle-version"`
	Kind             string `plist:"kind"`
	Title            string `plist:"title"`
}

// Manifest renders the XML property list for id, with a single
// software-package asset pointing at the record's download URL.
func (s *Service) Manifest(ctx context.Context, id string, links Links) ([]byte, error) {
	rec, err := s.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	m := Manifest{
		Items: []ManifestItem{{
			Assets: []ManifestAsset{{
				Kind: "software-package",
				URL:  links.DownloadURL(rec.ID),
			}},
			Metadata: ManifestMetadata{
				BundleIdentifier: rec.BundleIdentifier,
				BundleVersion:    rec.BundleVersion,
				Kind:             "software",
				Title:            rec.AppName,
			},
		}},
	}

	data, err := plist.MarshalIndent(m, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	return data, nil
}
