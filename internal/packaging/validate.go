package packaging

import (
	"fmt"
	"regexp"
	"strings"
)

// Severity classifies a validation finding.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Problem is one validation finding against a spec.
type Problem struct {
	Severity Severity
	Field    string
	Message  string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s: %s: %s", p.Severity, p.Field, p.Message)
}

// Problems is the full validation report.
type Problems []Problem

// Valid reports whether the spec has no error-severity findings.
func (ps Problems) Valid() bool {
	for _, p := range ps {
		if p.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Errors returns only the error-severity findings.
func (ps Problems) Errors() Problems {
	out := Problems{}
	for _, p := range ps {
		if p.Severity == SeverityError {
			out = append(out, p)
		}
	}
	return out
}

var (
	versionRe       = regexp.MustCompile(`^\d+(\.\d+)*$`)
	packageNameRe   = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	packageDomainRe = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)
)

// supportedArchs are the CPU architectures the toolchain can target.
var supportedArchs = map[string]bool{
	"armeabi-v7a": true,
	"arm64-v8a":   true,
	"x86":         true,
	"x86_64":      true,
}

var supportedOrientations = map[string]bool{
	"landscape":       true,
	"sensorLandscape": true,
	"portrait":        true,
	"all":             true,
}

var supportedBootstraps = map[string]bool{
	"sdl2":            true,
	"webview":         true,
	"service_only":    true,
	"service_library": true,
}

// knownPermissions is not exhaustive; unlisted permissions are warnings, not
// errors, since the platform adds new ones over time.
var knownPermissions = map[string]bool{
	"INTERNET":               true,
	"ACCESS_NETWORK_STATE":   true,
	"ACCESS_WIFI_STATE":      true,
	"WRITE_EXTERNAL_STORAGE": true,
	"READ_EXTERNAL_STORAGE":  true,
	"WAKE_LOCK":              true,
	"FOREGROUND_SERVICE":     true,
	"RECEIVE_BOOT_COMPLETED": true,
	"VIBRATE":                true,
	"POST_NOTIFICATIONS":     true,
	"CAMERA":                 true,
	"RECORD_AUDIO":           true,
	"ACCESS_FINE_LOCATION":   true,
	"ACCESS_COARSE_LOCATION": true,
	"BLUETOOTH":              true,
}

// minSupportedAPI is the oldest platform level the toolchain still builds for.
const minSupportedAPI = 21

// Validate checks the spec and returns all findings. unknownKeys is the list
// returned by Parse/Load; pass nil when validating a programmatically built
// spec.
func Validate(s *Spec, unknownKeys []string) Problems {
	var ps Problems

	addError := func(field, format string, args ...interface{}) {
		ps = append(ps, Problem{SeverityError, field, fmt.Sprintf(format, args...)})
	}
	addWarning := func(field, format string, args ...interface{}) {
		ps = append(ps, Problem{SeverityWarning, field, fmt.Sprintf(format, args...)})
	}

	// [app]
	if strings.TrimSpace(s.App.Title) == "" {
		addError("app.title", "title is required")
	}
	if s.App.PackageName == "" {
		addError("app.package.name", "package name is required")
	} else if !packageNameRe.MatchString(s.App.PackageName) {
		addError("app.package.name", "must be lowercase letters, digits or underscores, starting with a letter: %q", s.App.PackageName)
	}
	if s.App.PackageDomain == "" {
		addError("app.package.domain", "package domain is required")
	} else if !packageDomainRe.MatchString(s.App.PackageDomain) {
		addError("app.package.domain", "must be a reverse-DNS name like org.example: %q", s.App.PackageDomain)
	}
	if s.App.Version == "" {
		addError("app.version", "version is required")
	} else if !versionRe.MatchString(s.App.Version) {
		addError("app.version", "must be dotted digits like 0.1 or 1.2.3: %q", s.App.Version)
	}
	if len(SplitList(s.App.Requirements)) == 0 {
		addError("app.requirements", "at least one requirement is needed")
	}
	if s.App.Orientation != "" && !supportedOrientations[s.App.Orientation] {
		addError("app.orientation", "unsupported orientation %q", s.App.Orientation)
	}
	if s.App.Fullscreen < 0 || s.App.Fullscreen > 1 {
		addError("app.fullscreen", "must be 0 or 1, got %d", s.App.Fullscreen)
	}

	// [buildozer]
	if s.Buildozer.LogLevel < 0 || s.Buildozer.LogLevel > 2 {
		addError("buildozer.log_level", "must be 0, 1 or 2, got %d", s.Buildozer.LogLevel)
	}
	if s.Buildozer.WarnOnRoot < 0 || s.Buildozer.WarnOnRoot > 1 {
		addError("buildozer.warn_on_root", "must be 0 or 1, got %d", s.Buildozer.WarnOnRoot)
	}

	// [android]
	if s.Android.API <= 0 {
		addError("android.android.api", "target API level is required")
	}
	if s.Android.MinAPI <= 0 {
		addError("android.android.minapi", "minimum API level is required")
	} else if s.Android.MinAPI < minSupportedAPI {
		addError("android.android.minapi", "minimum supported API level is %d, got %d", minSupportedAPI, s.Android.MinAPI)
	}
	if s.Android.API > 0 && s.Android.MinAPI > 0 && s.Android.API < s.Android.MinAPI {
		addError("android.android.api", "target API %d is below minimum API %d", s.Android.API, s.Android.MinAPI)
	}
	archs := SplitList(s.Android.Archs)
	if len(archs) == 0 {
		addError("android.android.archs", "at least one architecture is required")
	}
	for _, arch := range archs {
		if !supportedArchs[arch] {
			addError("android.android.archs", "unsupported architecture %q", arch)
		}
	}
	if s.Android.P4ABootstrap != "" && !supportedBootstraps[s.Android.P4ABootstrap] {
		addError("android.p4a.bootstrap", "unsupported bootstrap %q", s.Android.P4ABootstrap)
	}
	for _, perm := range SplitList(s.Android.Permissions) {
		if !knownPermissions[perm] {
			addWarning("android.permissions", "unrecognized permission %q", perm)
		}
	}

	for _, key := range unknownKeys {
		addWarning(key, "unknown key")
	}
	return ps
}
