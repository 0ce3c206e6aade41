package pymarker

import (
	"strconv"
	"strings"

	"deps.dev/util/pypi"
)

// WheelSupported reports whether at least one of a wheel's expanded PEP 425
// tag triples is usable on this environment. Wheels that fail this check are
// excluded during candidate discovery and never reach the solver.
func (e *Environment) WheelSupported(tags []pypi.PEP425Tag) bool {
	for _, t := range tags {
		if e.supportsTag(t) {
			return true
		}
	}
	return false
}

func (e *Environment) supportsTag(t pypi.PEP425Tag) bool {
	return e.supportsPython(t.Python, t.ABI) &&
		e.supportsABI(t.ABI) &&
		e.supportsPlatform(t.Platform)
}

// supportsPython accepts the interpreter tags an environment running
// CPython X.Y can use: the generic py3/pyXY tags, the exact cpXY tag, and
// for stable-ABI wheels any older cpXZ (Z <= Y).
func (e *Environment) supportsPython(python, abi string) bool {
	xy := strings.ReplaceAll(e.PythonVersion, ".", "") // "3.11" -> "311"
	major := xy[:1]

	switch python {
	case "py" + major, "py" + xy, "cp" + xy:
		return true
	case "cp" + major:
		return true
	}
	// Stable ABI: cp38-abi3 wheels run on every later CPython 3.x.
	if abi == "abi3" && strings.HasPrefix(python, "cp"+major) {
		wheelMinor, err := strconv.Atoi(python[len("cp")+1:])
		if err != nil {
			return false
		}
		envMinor, err := strconv.Atoi(xy[1:])
		if err != nil {
			return false
		}
		return wheelMinor <= envMinor
	}
	return false
}

func (e *Environment) supportsABI(abi string) bool {
	switch abi {
	case "none", "abi3":
		return true
	}
	return abi == "cp"+strings.ReplaceAll(e.PythonVersion, ".", "")
}

func (e *Environment) supportsPlatform(platform string) bool {
	if platform == "any" {
		return true
	}
	for _, p := range e.WheelPlatforms {
		if platform == p {
			return true
		}
	}
	return false
}
