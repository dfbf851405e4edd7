package normalize

import (
	"regexp"
	"strconv"
)

// maxPlausibleYears caps any single reading so stray numbers ("2000 years")
// do not dominate
const maxPlausibleYears = 60

var (
	statedYearsPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(\d{1,2})\s*\+?\s*(?:years?|yrs?)\b`),
		regexp.MustCompile(`(?i)\b(?:over|more than|at least|upwards of)\s+(\d{1,2})\s*(?:years?|yrs?)\b`),
		regexp.MustCompile(`(?i)\b(\d{1,2})\s*\+?\s*(?:years?|yrs?)\s+of\s+(?:teaching|experience|work)`),
		regexp.MustCompile(`(?i)\b(\d{1,2})-year\b`),
	}
	yearRangePattern = regexp.MustCompile(`\b((?:19|20)\d{2})\s*(?:-|–|to)\s*((?:19|20)\d{2})\b`)
)

// YearsOfExperience is a best-effort lower bound on years of experience
// found in free text. It takes the largest explicitly stated figure or the
// summed span of year ranges, whichever is larger. The result is approximate
// and always >= 0.
func YearsOfExperience(texts ...string) int {
	stated := 0
	ranged := 0

	for _, text := range texts {
		if text == "" {
			continue
		}
		for _, pattern := range statedYearsPatterns {
			for _, m := range pattern.FindAllStringSubmatch(text, -1) {
				n, err := strconv.Atoi(m[1])
				if err != nil || n > maxPlausibleYears {
					continue
				}
				if n > stated {
					stated = n
				}
			}
		}
		for _, m := range yearRangePattern.FindAllStringSubmatch(text, -1) {
			start, errStart := strconv.Atoi(m[1])
			end, errEnd := strconv.Atoi(m[2])
			if errStart != nil || errEnd != nil || end < start || end-start > maxPlausibleYears {
				continue
			}
			ranged += end - start
		}
	}

	years := stated
	if ranged > years {
		years = ranged
	}
	if years > maxPlausibleYears {
		years = maxPlausibleYears
	}
	return years
}
