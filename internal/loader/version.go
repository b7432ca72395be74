package loader

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/gapminder/ddf-server/internal/apperr"
)

var datedVersionRe = regexp.MustCompile(`^(\d{8})(\d{2})$`)
var trailingDigitsRe = regexp.MustCompile(`^(.*?)(\d{2})$`)

// NextVersion derives the version to assign a new ingestion run when the
// caller did not pass a literal one, given the most recent existing version
// for this dataset name (empty if this is the first load) and the current
// time.
func NextVersion(priorMostRecent string, now time.Time) string {
	today := now.UTC().Format("20060102")

	if priorMostRecent == "" {
		return today + "01"
	}
	if m := datedVersionRe.FindStringSubmatch(priorMostRecent); m != nil && m[1] == today {
		nn, _ := strconv.Atoi(m[2])
		return today + fmt.Sprintf("%02d", nn+1)
	}
	if m := trailingDigitsRe.FindStringSubmatch(priorMostRecent); m != nil {
		nn, _ := strconv.Atoi(m[2])
		width := len(m[2])
		return m[1] + fmt.Sprintf("%0*d", width, nn+1)
	}
	return priorMostRecent + "1"
}

// ValidateInputVersion rejects the reserved "latest" token as an explicit
// version argument to a load.
func ValidateInputVersion(version string) error {
	if version == "latest" {
		return apperr.New(apperr.QuerySyntax, `"latest" is not a valid literal version`)
	}
	return nil
}
