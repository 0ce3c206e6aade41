package pypi

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pindown/pindown/pkg/errors"
	"github.com/pindown/pindown/pkg/pep440"
)

// ReleaseInfo is the slice of the legacy JSON API's release payload the
// resolver cares about: the declared dependencies without opening any
// distribution file.
type ReleaseInfo struct {
	Name           string
	Version        string
	RequiresPython string
	// RequiresDist holds the raw Requires-Dist strings as uploaded.
	RequiresDist []string
}

// apiResponse mirrors the JSON API payload
// (https://warehouse.pypa.io/api-reference/json.html).
type apiResponse struct {
	Info struct {
		Name           string   `json:"name"`
		Version        string   `json:"version"`
		RequiresDist   []string `json:"requires_dist"`
		RequiresPython string   `json:"requires_python"`
	} `json:"info"`
}

// Release fetches a single release's metadata from the JSON API. This is
// the cheapest metadata source when the index offers it, but the
// requires_dist field is only as trustworthy as the uploader made it.
func (c *Client) Release(ctx context.Context, name, version string) (*ReleaseInfo, error) {
	name = pep440.CanonName(name)
	endpoint := fmt.Sprintf("%s/%s/%s/json", c.jsonAPIBase(), name, version)

	body, err := c.cachedGet(ctx, c.projects, endpoint, "")
	if err != nil {
		return nil, err
	}
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(errors.ErrCodeMetadataUnavailable, err,
			"decoding JSON API response for %s %s", name, version)
	}
	return &ReleaseInfo{
		Name:           pep440.CanonName(resp.Info.Name),
		Version:        resp.Info.Version,
		RequiresPython: resp.Info.RequiresPython,
		RequiresDist:   resp.Info.RequiresDist,
	}, nil
}

// jsonAPIBase maps the simple index URL to its JSON API sibling. Warehouse
// serves /simple/ and /pypi/ side by side; other indexes mostly mirror the
// layout.
func (c *Client) jsonAPIBase() string {
	if base, ok := strings.CutSuffix(c.indexURL, "/simple"); ok {
		return base + "/pypi"
	}
	return c.indexURL
}
