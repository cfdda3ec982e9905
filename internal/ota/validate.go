package ota

import (
	"regexp"

	"github.com/kilupskalvis/ipaota/internal/models"
)

// MetadataHint is the user-facing summary attached to metadata validation failures.
const MetadataHint = "Invalid IPA metadata, check specified fields and make sure they adhere to Apple's CFBundleIdentifier, CFBundleVersion and CFBundleName requirements"

var (
	bundleIdentifierPattern = regexp.MustCompile(`^[a-zA-Z0-9]+(\.[a-zA-Z0-9]+)+$`)
	bundleVersionPattern    = regexp.MustCompile(`^\d+(\.\d+){0,2}$`)
	appNamePattern          = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9 ._-]{0,89}$`)
)

// ValidateMetadata checks the three upload fields against Apple's
// CFBundleIdentifier, CFBundleVersion and CFBundleName rules and returns
// one error per offending field.
func ValidateMetadata(md models.Metadata) []*ValidationError {
	var errs []*ValidationError

	switch {
	case len(md.BundleIdentifier) < 3:
		errs = append(errs, &ValidationError{Field: "bundleIdentifier", Message: "must be at least 3 characters"})
	case !bundleIdentifierPattern.MatchString(md.BundleIdentifier):
		errs = append(errs, &ValidationError{Field: "bundleIdentifier", Message: "must be dot-separated alphanumeric segments"})
	}

	switch {
	case md.BundleVersion == "":
		errs = append(errs, &ValidationError{Field: "bundleVersion", Message: "is required"})
	case !bundleVersionPattern.MatchString(md.BundleVersion):
		errs = append(errs, &ValidationError{Field: "bundleVersion", Message: "must be one to three dot-separated integers"})
	}

	switch {
	case md.AppName == "":
		errs = append(errs, &ValidationError{Field: "appName", Message: "is required"})
	case len(md.AppName) > 90:
		errs = append(errs, &ValidationError{Field: "appName", Message: "must be at most 90 characters"})
	case !appNamePattern.MatchString(md.AppName):
		errs = append(errs, &ValidationError{Field: "appName", Message: "must start with a letter or digit and contain only letters, digits, spaces, '.', '_' or '-'"})
	}

	return errs
}
