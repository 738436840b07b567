// Package packaging models the mobile packaging configuration for the
// Sentinel dashboard build: an INI-style file with [app], [buildozer] and
// [android] sections consumed by the external packaging toolchain. This
// package owns the file format and its validation only; the build tool
// itself is out of scope.
package packaging

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"gopkg.in/ini.v1"
)

// Spec is the typed form of the packaging configuration file.
type Spec struct {
	App       AppSection
	Buildozer BuildozerSection
	Android   AndroidSection
}

// AppSection holds application identity and build inputs.
type AppSection struct {
	Title             string `ini:"title"`
	PackageName       string `ini:"package.name"`
	PackageDomain     string `ini:"package.domain"`
	SourceDir         string `ini:"source.dir"`
	SourceIncludeExts string `ini:"source.include_exts"`
	Version           string `ini:"version"`
	Requirements      string `ini:"requirements"`
	Orientation       string `ini:"orientation"`
	Fullscreen        int    `ini:"fullscreen"`
}

// BuildozerSection holds build-tool verbosity and safety flags.
type BuildozerSection struct {
	LogLevel   int `ini:"log_level"`
	WarnOnRoot int `ini:"warn_on_root"`
}

// AndroidSection holds target platform and toolchain parameters.
type AndroidSection struct {
	Permissions      string `ini:"permissions"`
	API              int    `ini:"android.api"`
	MinAPI           int    `ini:"android.minapi"`
	SDK              int    `ini:"android.sdk"`
	NDK              string `ini:"android.ndk"`
	NDKPath          string `ini:"android.ndk_path"`
	SDKPath          string `ini:"android.sdk_path"`
	AcceptSDKLicense bool   `ini:"android.accept_sdk_license"`
	P4ABranch        string `ini:"p4a.branch"`
	P4ABootstrap     string `ini:"p4a.bootstrap"`
	Archs            string `ini:"android.archs"`
}

// knownKeys lists the recognized keys per section. Anything else parses but
// is reported as a warning by Validate.
var knownKeys = map[string]map[string]bool{
	"app": {
		"title": true, "package.name": true, "package.domain": true,
		"source.dir": true, "source.include_exts": true, "version": true,
		"requirements": true, "orientation": true, "fullscreen": true,
	},
	"buildozer": {
		"log_level": true, "warn_on_root": true,
	},
	"android": {
		"permissions": true, "android.api": true, "android.minapi": true,
		"android.sdk": true, "android.ndk": true, "android.ndk_path": true,
		"android.sdk_path": true, "android.accept_sdk_license": true,
		"p4a.branch": true, "p4a.bootstrap": true, "android.archs": true,
	},
}

// Load reads and parses the packaging spec at path.
func Load(path string) (*Spec, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses raw file content. The second return value lists unknown keys
// encountered, as "section.key" strings; they are not errors so a file written
// for a newer toolchain still loads.
func Parse(data []byte) (*Spec, []string, error) {
	if err := checkDuplicateKeys(data); err != nil {
		return nil, nil, err
	}

	f, err := ini.Load(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing spec: %w", err)
	}

	spec := &Spec{}
	if err := mapSection(f, "app", &spec.App); err != nil {
		return nil, nil, err
	}
	if err := mapSection(f, "buildozer", &spec.Buildozer); err != nil {
		return nil, nil, err
	}
	if err := mapSection(f, "android", &spec.Android); err != nil {
		return nil, nil, err
	}

	var unknown []string
	for name, known := range knownKeys {
		if !f.HasSection(name) {
			continue
		}
		for _, key := range f.Section(name).Keys() {
			if !known[key.Name()] {
				unknown = append(unknown, name+"."+key.Name())
			}
		}
	}
	return spec, unknown, nil
}

func mapSection(f *ini.File, name string, v interface{}) error {
	if !f.HasSection(name) {
		return nil
	}
	if err := f.Section(name).MapTo(v); err != nil {
		return fmt.Errorf("section [%s]: %w", name, err)
	}
	return nil
}

// checkDuplicateKeys enforces key uniqueness within each section. The INI
// parser silently keeps the last value, which would hide operator mistakes.
func checkDuplicateKeys(data []byte) error {
	seen := make(map[string]bool)
	section := ""
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, ";") {
			continue
		}
		if strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]") {
			section = strings.TrimSpace(text[1 : len(text)-1])
			continue
		}
		eq := strings.Index(text, "=")
		if eq < 0 {
			continue
		}
		key := section + "\x00" + strings.TrimSpace(text[:eq])
		if seen[key] {
			return fmt.Errorf("line %d: duplicate key %q in section [%s]", line, strings.TrimSpace(text[:eq]), section)
		}
		seen[key] = true
	}
	return scanner.Err()
}

// Write renders the spec back to the section/key-value format at path.
func (s *Spec) Write(path string) error {
	f := ini.Empty()
	if err := f.Section("app").ReflectFrom(&s.App); err != nil {
		return fmt.Errorf("rendering [app]: %w", err)
	}
	if err := f.Section("buildozer").ReflectFrom(&s.Buildozer); err != nil {
		return fmt.Errorf("rendering [buildozer]: %w", err)
	}
	if err := f.Section("android").ReflectFrom(&s.Android); err != nil {
		return fmt.Errorf("rendering [android]: %w", err)
	}
	if err := f.SaveTo(path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// SplitList splits a comma-separated list value, trimming whitespace and
// dropping empty entries.
func SplitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
