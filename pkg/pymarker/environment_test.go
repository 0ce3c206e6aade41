package pymarker

import (
	"testing"

	"github.com/pindown/pindown/pkg/errors"
)

func TestNewEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		python  string
		os      string
		wantErr bool
	}{
		{name: "dotted version", python: "3.11", os: "linux"},
		{name: "condensed version", python: "311", os: "linux"},
		{name: "two seven", python: "27", os: "windows"},
		{name: "macos", python: "3.9", os: "macos"},
		{name: "unknown python", python: "3.5", os: "linux", wantErr: true},
		{name: "garbage python", python: "abc", os: "linux", wantErr: true},
		{name: "unknown os", python: "3.11", os: "freebsd", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := NewEnvironment(tt.python, tt.os)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewEnvironment(%q, %q) succeeded, want error", tt.python, tt.os)
				}
				if !errors.Is(err, errors.ErrCodeInvalidInput) {
					t.Errorf("error code = %v, want INVALID_INPUT", errors.GetCode(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEnvironment(%q, %q): %v", tt.python, tt.os, err)
			}
			if env.PythonVersion[0] != tt.python[0] {
				t.Errorf("PythonVersion = %q, want major %q", env.PythonVersion, tt.python[:1])
			}
		})
	}
}

func TestEnvironmentMarkerValues(t *testing.T) {
	env, err := NewEnvironment("3.11", "macos")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		variable string
		want     string
	}{
		{"python_version", "3.11"},
		{"python_full_version", "3.11.0"},
		{"os_name", "posix"},
		{"sys_platform", "darwin"},
		{"platform_system", "Darwin"},
		{"platform_machine", "x86_64"},
		{"implementation_name", "cpython"},
		{"implementation_version", "3.11.0"},
		{"platform_python_implementation", "CPython"},
	}
	for _, tt := range tests {
		if got := env.markerValue(tt.variable); got != tt.want {
			t.Errorf("markerValue(%q) = %q, want %q", tt.variable, got, tt.want)
		}
	}
}

func TestSatisfiesRequiresPython(t *testing.T) {
	env, err := NewEnvironment("3.11", "linux")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		spec string
		want bool
	}{
		{"", true},
		{">=3.8", true},
		{">=3.8,<4", true},
		{">=3.12", false},
		{"<3", false},
		{"==3.11.*", true},
		{"not a specifier", true}, // unparsable is treated as unconstrained
	}
	for _, tt := range tests {
		if got := env.SatisfiesRequiresPython(tt.spec); got != tt.want {
			t.Errorf("SatisfiesRequiresPython(%q) = %v, want %v", tt.spec, got, tt.want)
		}
	}
}

func TestEnvironmentString(t *testing.T) {
	env, err := NewEnvironment("311", "linux")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := env.String(), "cpython-3.11-linux"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
