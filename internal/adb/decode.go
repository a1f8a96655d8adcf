package adb

import "strings"

// SplitLines decodes raw command output into trimmed non-empty lines.
func SplitLines(raw string) []string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

// PackageLines decodes `pm list packages` / `pm path` style output: only
// lines carrying a "package:" prefix count, and the prefix is stripped.
func PackageLines(raw string) []string {
	var packages []string
	for _, line := range SplitLines(raw) {
		if _, rest, ok := strings.Cut(line, "package:"); ok {
			packages = append(packages, rest)
		}
	}
	return packages
}

// EncodePackageLines renders package names back into the "package:"
// prefixed line format.
func EncodePackageLines(packages []string) string {
	var b strings.Builder
	for _, p := range packages {
		b.WriteString("package:")
		b.WriteString(p)
		b.WriteString("\n")
	}
	return b.String()
}

// SplitColumns tokenizes one row of column-formatted output, collapsing
// any run of whitespace into a single delimiter.
func SplitColumns(line string) []string {
	return strings.Fields(line)
}
