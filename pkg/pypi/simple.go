package pypi

import (
	"encoding/json"
)

// Project is a project's listing on a simple index, as served by the JSON
// API from PEP 691 (https://peps.python.org/pep-0691/).
type Project struct {
	// Name is the PEP 503 normalized project name.
	Name string
	// Files lists every distribution file the index serves for this
	// project, oldest upload first as PyPI returns them.
	Files []File
	// Versions lists the known release versions, unordered.
	Versions []string
}

// File is one distribution file (a wheel or an sdist) on the index.
type File struct {
	Filename       string
	URL            string
	RequiresPython string
	// Yanked marks files withdrawn per PEP 592. YankedReason carries the
	// reason when the index gave one.
	Yanked       bool
	YankedReason string
	// Hashes maps hash algorithm names to hex digests.
	Hashes map[string]string
	// HasMetadata reports that the index serves the file's core metadata
	// standalone per PEP 658, at URL + ".metadata".
	HasMetadata bool
}

// projectResponse mirrors the PEP 691 project detail payload.
type projectResponse struct {
	Name     string         `json:"name"`
	Files    []fileResponse `json:"files"`
	Versions []string       `json:"versions"`
}

type fileResponse struct {
	Filename       string            `json:"filename"`
	URL            string            `json:"url"`
	RequiresPython string            `json:"requires-python"`
	Yanked         yankedValue       `json:"yanked"`
	Hashes         map[string]string `json:"hashes"`
	// core-metadata replaced data-dist-info-metadata between PEP drafts;
	// indexes may serve either key.
	CoreMetadata     metadataValue `json:"core-metadata"`
	DataDistInfoMeta metadataValue `json:"data-dist-info-metadata"`
}

func (f fileResponse) toFile() File {
	return File{
		Filename:       f.Filename,
		URL:            f.URL,
		RequiresPython: f.RequiresPython,
		Yanked:         f.Yanked.yanked,
		YankedReason:   f.Yanked.reason,
		Hashes:         f.Hashes,
		HasMetadata:    f.CoreMetadata.present || f.DataDistInfoMeta.present,
	}
}

// yankedValue decodes the PEP 592 yanked field, which is either false or a
// reason string (possibly empty).
type yankedValue struct {
	yanked bool
	reason string
}

func (y *yankedValue) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		y.yanked = b
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	y.yanked = true
	y.reason = s
	return nil
}

// metadataValue decodes the PEP 658 metadata field, which is either a bool
// or a hash object.
type metadataValue struct {
	present bool
}

func (m *metadataValue) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		m.present = b
		return nil
	}
	var hashes map[string]string
	if err := json.Unmarshal(data, &hashes); err != nil {
		return err
	}
	m.present = true
	return nil
}
