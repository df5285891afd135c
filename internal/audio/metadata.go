package audio

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
)

// Metadata holds the descriptive tags of a track
type Metadata struct {
	Title  string
	Artist string
	Album  string
	Genre  string
	Year   string
}

// readMetadata reads ID3, Vorbis or RIFF INFO tags. Missing or unreadable
// tags are not an error; the title falls back to the file name.
func readMetadata(filename string) Metadata {
	md := Metadata{}

	if f, err := os.Open(filename); err == nil {
		if t, err := tag.ReadFrom(f); err == nil {
			md.Title = strings.TrimSpace(t.Title())
			md.Artist = strings.TrimSpace(t.Artist())
			md.Album = strings.TrimSpace(t.Album())
			md.Genre = strings.TrimSpace(t.Genre())
			if y := t.Year(); y > 0 {
				md.Year = strconv.Itoa(y)
			}
		}
		f.Close()
	}

	if md.Title == "" {
		md.Title = TitleFromPath(filename)
	}
	return md
}

// TitleFromPath returns the file name without directory or extension.
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
