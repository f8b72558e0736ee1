// Package pathtmpl turns directory templates and timestamps into storage keys.
package pathtmpl

import (
	"path"
	"regexp"
	"strings"
	"time"
)

// placeholderRE matches the shortest {...} run, so "{a}{b}" yields two matches.
var placeholderRE = regexp.MustCompile(`\{(.*?)\}`)

// FormatTemplate replaces every {pattern} placeholder in template with t
// formatted by pattern in UTC. A placeholder whose content is not a valid
// pattern is kept as its literal inner text. Braces never survive.
func FormatTemplate(template string, t time.Time) string {
	out := placeholderRE.ReplaceAllStringFunc(template, func(m string) string {
		p, err := Compile(m[1 : len(m)-1])
		if err != nil {
			return m
		}
		return p.Format(t)
	})
	return stripBraces(out)
}

func stripBraces(s string) string {
	if !strings.ContainsAny(s, "{}") {
		return s
	}
	return strings.NewReplacer("{", "", "}", "").Replace(s)
}

// DecoratePath builds the storage key for fileName. Empty outputDirectory,
// dateFormat or filenamePrefix are treated as absent. The result is the
// normalized slash join of outputDirectory, the formatted dateFormat and the
// (prefixed) file name.
func DecoratePath(outputDirectory, fileName string, t time.Time, dateFormat, filenamePrefix string) string {
	name := fileName
	if filenamePrefix != "" {
		name = filenamePrefix + "-" + fileName
	}

	segments := make([]string, 0, 3)
	if outputDirectory != "" {
		segments = append(segments, outputDirectory)
	}
	if dateFormat != "" {
		segments = append(segments, FormatTemplate(dateFormat, t))
	}
	segments = append(segments, name)

	return Normalize(strings.Join(segments, "/"))
}

// Normalize collapses duplicate separators and resolves "." and ".."
// segments. An empty result stays empty instead of becoming ".".
func Normalize(p string) string {
	if p == "" {
		return ""
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return ""
	}
	return cleaned
}
