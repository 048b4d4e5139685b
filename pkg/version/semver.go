package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SemVer is a major.minor.patch version with an optional pre-release tag.
// Build metadata is accepted by Parse and ignored.
type SemVer struct {
	Major      int64
	Minor      int64
	Patch      int64
	PreRelease string
}

// Parse reads versions as reported by brokers and build tags: "v1.2.3",
// "3.13.7", "4.0.0-rc.1", "3.12.0+1.g0f3d6a2". A missing patch is read as 0.
func Parse(raw string) (SemVer, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "v")
	if s == "" {
		return SemVer{}, errors.New("version cannot be empty")
	}
	if i := strings.IndexByte(s, '+'); i >= 0 {
		s = s[:i]
	}
	var pre string
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s, pre = s[:i], s[i+1:]
		if pre == "" {
			return SemVer{}, fmt.Errorf("invalid version %q: empty pre-release", raw)
		}
	}

	parts := strings.Split(s, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return SemVer{}, fmt.Errorf("invalid version %q", raw)
	}
	nums := make([]int64, 3)
	for i, part := range parts {
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil || n < 0 || (len(part) > 1 && part[0] == '0') {
			return SemVer{}, fmt.Errorf("invalid version %q: bad component %q", raw, part)
		}
		nums[i] = n
	}
	return SemVer{Major: nums[0], Minor: nums[1], Patch: nums[2], PreRelease: pre}, nil
}

// MustParse is Parse for constants.
func MustParse(raw string) SemVer {
	v, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func (v SemVer) String() string {
	base := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.PreRelease != "" {
		base += "-" + v.PreRelease
	}
	return base
}

// Compare returns -1, 0 or 1. A pre-release sorts before its release.
func (v SemVer) Compare(other SemVer) int {
	for _, c := range []int{
		compareInt(v.Major, other.Major),
		compareInt(v.Minor, other.Minor),
		compareInt(v.Patch, other.Patch),
	} {
		if c != 0 {
			return c
		}
	}
	return comparePreRelease(v.PreRelease, other.PreRelease)
}

// AtLeast reports whether v >= min.
func (v SemVer) AtLeast(min SemVer) bool {
	return v.Compare(min) >= 0
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func comparePreRelease(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	}

	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")
	for i := 0; i < len(aParts) && i < len(bParts); i++ {
		if aParts[i] == bParts[i] {
			continue
		}
		aNum, aErr := strconv.ParseInt(aParts[i], 10, 64)
		bNum, bErr := strconv.ParseInt(bParts[i], 10, 64)
		switch {
		case aErr == nil && bErr == nil:
			return compareInt(aNum, bNum)
		case aErr == nil:
			return -1
		case bErr == nil:
			return 1
		case aParts[i] < bParts[i]:
			return -1
		default:
			return 1
		}
	}
	return compareInt(int64(len(aParts)), int64(len(bParts)))
}
