package ladder

import (
	"fmt"
	"strconv"
)

// Profile describes one rendition target.
type Profile struct {
	Name         string
	Width        int
	Height       int
	VideoBitrate int // kbit/s, used as encoder maxrate
	AudioBitrate int // kbit/s
	Preset       string
	CRF          int
}

func (p Profile) Resolution() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// Bandwidth is the BANDWIDTH attribute advertised in the master playlist.
func (p Profile) Bandwidth() int {
	return p.VideoBitrate * 1000
}

func (p Profile) MaxRate() string {
	return strconv.Itoa(p.VideoBitrate) + "k"
}

func (p Profile) BufSize() string {
	return strconv.Itoa(p.VideoBitrate*2) + "k"
}

func (p Profile) AudioRate() string {
	return strconv.Itoa(p.AudioBitrate) + "k"
}

// Profiles in descending order.
var profiles = []Profile{
	{Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: 5000, AudioBitrate: 192, Preset: "medium", CRF: 23},
	{Name: "720p", Width: 1280, Height: 720, VideoBitrate: 2500, AudioBitrate: 128, Preset: "medium", CRF: 23},
	{Name: "480p", Width: 854, Height: 480, VideoBitrate: 1000, AudioBitrate: 128, Preset: "medium", CRF: 23},
	{Name: "360p", Width: 640, Height: 360, VideoBitrate: 700, AudioBitrate: 96, Preset: "medium", CRF: 23},
	{Name: "240p", Width: 426, Height: 240, VideoBitrate: 400, AudioBitrate: 64, Preset: "medium", CRF: 23},
}

// Floor is always part of a ladder.
const Floor = "240p"

// Lookup returns the profile registered under name.
func Lookup(name string) (Profile, bool) {
	for _, p := range profiles {
		if p.Name == name {
			return p, true
		}
	}

	return Profile{}, false
}

// Profiles returns every known profile, highest first.
func Profiles() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	return out
}

// Select returns the ladder for a source of the given height, highest
// rendition first and always ending with the floor.
func Select(height int) []string {
	var names []string

	for _, p := range profiles {
		if p.Height <= height || p.Name == Floor {
			names = append(names, p.Name)
		}
	}

	return names
}

// Known reports whether every name is a registered profile.
func Known(names ...string) bool {
	for _, name := range names {
		if _, ok := Lookup(name); !ok {
			return false
		}
	}

	return true
}
