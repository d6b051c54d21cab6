package pallet

import (
	"fmt"
	"strings"
)

// Platform identifies the production platform a pallet is built on.
type Platform string

const (
	PlatformTEC1  Platform = "TEC1"
	PlatformTEC2  Platform = "TEC2"
	PlatformTEC3  Platform = "TEC3"
	PlatformTEC4I Platform = "TEC4I"
	PlatformTEC5  Platform = "TEC5"
)

// first entry is the division default
var divisionPlatforms = map[Division][]Platform{
	DivisionMA: {PlatformTEC1, PlatformTEC2, PlatformTEC4I},
	DivisionTC: {PlatformTEC1, PlatformTEC3, PlatformTEC5},
}

// PlatformsForDivision lists the platforms allowed for a division.
func PlatformsForDivision(d Division) []Platform {
	allowed := divisionPlatforms[d]
	out := make([]Platform, len(allowed))
	copy(out, allowed)
	return out
}

// IsValidPlatformForDivision reports whether p may be used by division d.
func IsValidPlatformForDivision(p Platform, d Division) bool {
	for _, allowed := range divisionPlatforms[d] {
		if allowed == p {
			return true
		}
	}
	return false
}

// DefaultPlatformForDivision returns the platform used when none is given.
func DefaultPlatformForDivision(d Division) Platform {
	allowed := divisionPlatforms[d]
	if len(allowed) == 0 {
		return ""
	}
	return allowed[0]
}

// resolvePlatform applies the division default to an empty platform and
// validates the result.
func resolvePlatform(raw string, d Division) (Platform, error) {
	p := Platform(strings.ToUpper(strings.TrimSpace(raw)))
	if p == "" {
		p = DefaultPlatformForDivision(d)
	}
	if !IsValidPlatformForDivision(p, d) {
		return "", fieldError("platform", fmt.Sprintf("platform %s is not available for division %s", p, d))
	}
	return p, nil
}
