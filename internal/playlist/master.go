package playlist

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"reel/internal/ladder"
)

// Rendition is the part of a processed rendition the master playlist needs.
type Rendition struct {
	Quality     string
	PlaylistKey string
}

// RenditionURI is the master-relative path of a rendition playlist.
func RenditionURI(quality string) string {
	return quality + "/playlist.m3u8"
}

// Master renders the master playlist for the given renditions, ordered by
// ascending bandwidth.
func Master(renditions map[string]Rendition) (string, error) {
	if len(renditions) == 0 {
		return "", errors.New("no renditions to reference")
	}

	profiles := make([]ladder.Profile, 0, len(renditions))

	for quality := range renditions {
		p, ok := ladder.Lookup(quality)

		if !ok {
			return "", errors.Errorf("unknown quality '%s'", quality)
		}

		profiles = append(profiles, p)
	}

	sort.Slice(profiles, func(i, j int) bool {
		if profiles[i].Bandwidth() == profiles[j].Bandwidth() {
			return profiles[i].Name < profiles[j].Name
		}
		return profiles[i].Bandwidth() < profiles[j].Bandwidth()
	})

	lines := []string{"#EXTM3U", "#EXT-X-VERSION:3", ""}

	for _, p := range profiles {
		lines = append(lines,
			"#EXT-X-STREAM-INF:BANDWIDTH="+strconv.Itoa(p.Bandwidth())+",RESOLUTION="+p.Resolution(),
			RenditionURI(p.Name),
			"",
		)
	}

	return strings.Join(lines, "\n"), nil
}
