package adb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"adbfleet/internal/adb"
)

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "trims and drops empty lines",
			raw:  "  first \n\n\tsecond\n   \nthird\n",
			want: []string{"first", "second", "third"},
		},
		{
			name: "empty input",
			raw:  "",
			want: nil,
		},
		{
			name: "whitespace only",
			raw:  " \n\t\n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, adb.SplitLines(tt.raw))
		})
	}
}

func TestPackageLines(t *testing.T) {
	raw := "package:com.example.app\nsomething else\npackage:com.example.other\n"
	assert.Equal(t, []string{"com.example.app", "com.example.other"}, adb.PackageLines(raw))
}

func TestPackageLinesRoundTrip(t *testing.T) {
	packages := []string{"a.b", "c.d"}
	assert.Equal(t, packages, adb.PackageLines(adb.EncodePackageLines(packages)))
}

func TestSplitColumns(t *testing.T) {
	line := "u0_a123   4567  890   123456 78901 ffffffff 00000000 S com.example.app"
	fields := adb.SplitColumns(line)
	assert.Equal(t, "u0_a123", fields[0])
	assert.Equal(t, "4567", fields[1])
}
