package messages

import "regexp"

var videoIDPattern = regexp.MustCompile(`(?:v=|/embed/|youtu\.be/)([a-zA-Z0-9_-]{11})`)

// ExtractVideoID returns the 11 character YouTube id found after v=,
// /embed/ or youtu.be/ in rawURL.
func ExtractVideoID(rawURL string) (string, bool) {
	m := videoIDPattern.FindStringSubmatch(rawURL)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}
