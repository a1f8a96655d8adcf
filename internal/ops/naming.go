package ops

import (
	"regexp"
	"strings"
)

var nonAlphanum = regexp.MustCompile(`[^0-9A-Za-z]+`)

// ArtifactName derives a deterministic local filename from a device
// serial, detail parts (package name, optional label) and an extension.
// Every run of non-alphanumeric characters collapses to one underscore,
// so any serial is filesystem-safe.
func ArtifactName(device string, parts []string, extension string) string {
	detail := make([]string, 0, len(parts)+1)
	detail = append(detail, device)
	for _, p := range parts {
		if p != "" {
			detail = append(detail, p)
		}
	}
	stem := nonAlphanum.ReplaceAllString(strings.Join(detail, "_"), "_")
	if extension == "" {
		return stem
	}
	return stem + "." + extension
}
