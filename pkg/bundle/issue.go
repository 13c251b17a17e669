package bundle

import (
	"fmt"
	"sort"
	"strings"
)

// Issue is a non-fatal diagnostic found while reading or checking a bundle.
// The offending item still degrades to an empty contribution downstream.
type Issue struct {
	File    string `json:"file,omitempty"`
	Element string `json:"element,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	file := strings.TrimSpace(i.File)
	if file == "" {
		file = "<unknown>"
	}
	if el := strings.TrimSpace(i.Element); el != "" {
		return fmt.Sprintf("%s: %s: %s", file, el, strings.TrimSpace(i.Message))
	}
	return fmt.Sprintf("%s: %s", file, strings.TrimSpace(i.Message))
}

func issuef(file, element, format string, args ...any) Issue {
	return Issue{File: file, Element: element, Message: fmt.Sprintf(format, args...)}
}

// SortIssues orders issues by file, element, then message.
func SortIssues(issues []Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].File != issues[j].File {
			return issues[i].File < issues[j].File
		}
		if issues[i].Element != issues[j].Element {
			return issues[i].Element < issues[j].Element
		}
		return issues[i].Message < issues[j].Message
	})
}
