package forge

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	debversion "github.com/knqyf263/go-deb-version"
)

// CompareVersions compares two release tags and returns -1, 0 or 1.
//
// Tags are compared as semantic versions. If either tag is not a valid
// semantic version, Debian version ordering is used instead, and plain
// string ordering when that fails too.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}

	da, errA := debversion.NewVersion(trimV(a))
	db, errB := debversion.NewVersion(trimV(b))
	if errA == nil && errB == nil {
		switch {
		case da.GreaterThan(db):
			return 1
		case da.LessThan(db):
			return -1
		default:
			return 0
		}
	}

	return strings.Compare(a, b)
}

func trimV(tag string) string {
	if len(tag) > 1 && (tag[0] == 'v' || tag[0] == 'V') {
		return tag[1:]
	}
	return tag
}

// SortNewestFirst orders releases by tag version, newest first. Releases
// with equal versions are ordered by creation time, newest first.
func SortNewestFirst(releases []Release) {
	sort.SliceStable(releases, func(i, j int) bool {
		c := CompareVersions(releases[i].TagName, releases[j].TagName)
		if c != 0 {
			return c > 0
		}
		return releases[i].CreatedAt.After(releases[j].CreatedAt)
	})
}
