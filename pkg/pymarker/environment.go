// Package pymarker models the target environment a resolution runs against
// and evaluates PEP 508 environment markers against it.
//
// An Environment is a fixed snapshot of interpreter version, implementation
// and platform fields, built either from explicit fields or from a
// (python version, operating system) pair the way pip describes target
// platforms. Markers are parsed once into a small expression tree and
// evaluated against an Environment plus the set of requested extras; the
// same parsed marker can be evaluated against different environments.
package pymarker

import (
	"fmt"
	"strings"

	"github.com/pindown/pindown/pkg/errors"
	"github.com/pindown/pindown/pkg/pep440"
)

// Environment is an immutable snapshot of the interpreter and platform a
// resolution targets. The field names mirror the PEP 508 marker variables
// they provide values for.
type Environment struct {
	PythonVersion                string // e.g. "3.11"
	PythonFullVersion            string // e.g. "3.11.0"
	OSName                       string // "posix" or "nt"
	SysPlatform                  string // "linux", "darwin", "win32"
	PlatformMachine              string // e.g. "x86_64"
	PlatformSystem               string // "Linux", "Darwin", "Windows"
	PlatformRelease              string
	PlatformVersion              string
	ImplementationName           string // "cpython"
	PlatformPythonImplementation string // "CPython"

	// WheelPlatforms lists the platform tags acceptable for built
	// distributions on this environment, most specific first. "any" is
	// always acceptable and need not be listed.
	WheelPlatforms []string
}

// ValidPythonVersions enumerates the python versions accepted by
// NewEnvironment, in dotted form.
var ValidPythonVersions = []string{
	"2.7", "3.6", "3.7", "3.8", "3.9", "3.10", "3.11", "3.12", "3.13", "3.14",
}

// wheelPlatformsByOS maps a target operating system to the platform tags its
// wheels may carry, mirroring the platform lists pip accepts per OS.
var wheelPlatformsByOS = map[string][]string{
	"linux": {
		"linux_x86_64",
		"manylinux1_x86_64",
		"manylinux2010_x86_64",
		"manylinux2014_x86_64",
		"manylinux_2_17_x86_64",
		"manylinux_2_28_x86_64",
		"manylinux_2_34_x86_64",
	},
	"macos": {
		"macosx_10_9_x86_64",
		"macosx_10_10_x86_64",
		"macosx_10_13_x86_64",
		"macosx_11_0_x86_64",
		"macosx_10_9_universal2",
		"macosx_11_0_universal2",
		"macosx_11_0_arm64",
		"macosx_12_0_arm64",
	},
	"windows": {
		"win_amd64",
		"win32",
	},
}

// markerFieldsByOS carries the per-OS marker variable values.
var markerFieldsByOS = map[string]struct {
	osName, sysPlatform, platformSystem string
}{
	"linux":   {"posix", "linux", "Linux"},
	"macos":   {"posix", "darwin", "Darwin"},
	"windows": {"nt", "win32", "Windows"},
}

// NewEnvironment builds an Environment for a python version ("3.11", or the
// condensed "311" form used in wheel tags) and an operating system name
// ("linux", "macos" or "windows"). Returns an INVALID_INPUT error for
// anything outside the supported combinations.
func NewEnvironment(pythonVersion, operatingSystem string) (*Environment, error) {
	py, err := normalizePythonVersion(pythonVersion)
	if err != nil {
		return nil, err
	}
	fields, ok := markerFieldsByOS[operatingSystem]
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidInput,
			"unsupported operating system %q (want linux, macos or windows)", operatingSystem)
	}
	return &Environment{
		PythonVersion:                py,
		PythonFullVersion:            py + ".0",
		OSName:                       fields.osName,
		SysPlatform:                  fields.sysPlatform,
		PlatformMachine:              "x86_64",
		PlatformSystem:               fields.platformSystem,
		ImplementationName:           "cpython",
		PlatformPythonImplementation: "CPython",
		WheelPlatforms:               wheelPlatformsByOS[operatingSystem],
	}, nil
}

func normalizePythonVersion(v string) (string, error) {
	dotted := v
	if !strings.Contains(v, ".") && len(v) >= 2 {
		dotted = v[:1] + "." + v[1:]
	}
	for _, known := range ValidPythonVersions {
		if dotted == known {
			return dotted, nil
		}
	}
	return "", errors.New(errors.ErrCodeInvalidInput,
		"unsupported python version %q (want one of %s)", v, strings.Join(ValidPythonVersions, ", "))
}

// markerValue returns the value of a marker variable in this environment.
// The caller guarantees the name is one of the known PEP 508 variables.
func (e *Environment) markerValue(name string) string {
	switch name {
	case "python_version":
		return e.PythonVersion
	case "python_full_version":
		return e.PythonFullVersion
	case "os_name":
		return e.OSName
	case "sys_platform":
		return e.SysPlatform
	case "platform_machine":
		return e.PlatformMachine
	case "platform_system":
		return e.PlatformSystem
	case "platform_release":
		return e.PlatformRelease
	case "platform_version":
		return e.PlatformVersion
	case "implementation_name":
		return e.ImplementationName
	case "implementation_version":
		return e.PythonFullVersion
	case "platform_python_implementation":
		return e.PlatformPythonImplementation
	}
	panic(fmt.Sprintf("unknown marker variable %q", name))
}

// SatisfiesRequiresPython reports whether this environment's interpreter
// satisfies a Requires-Python specifier such as ">=3.8". An empty or
// unparsable specifier is treated as compatible; the index is full of
// historical junk in this field and pip ignores what it cannot read.
func (e *Environment) SatisfiesRequiresPython(spec string) bool {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return true
	}
	ss, err := pep440.ParseSpecifiers(spec)
	if err != nil {
		return true
	}
	full, err := pep440.Parse(e.PythonFullVersion)
	if err != nil {
		return true
	}
	return ss.Match(full)
}

// String identifies the environment in logs, e.g. "cpython-3.11-linux".
func (e *Environment) String() string {
	return fmt.Sprintf("%s-%s-%s", e.ImplementationName, e.PythonVersion, e.SysPlatform)
}
