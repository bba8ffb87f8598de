package dedupe

import (
	"math"
	"strings"
	"unicode"

	"github.com/ahmaddev-codes/amala-hack-sub003/internal/model"
)

const earthRadiusM = 6371000.0

// minPhoneDigits ignores extensions and fragments too short to identify a business line.
const minPhoneDigits = 7

// tokens lowercases s and splits it on anything that is not a letter or digit.
func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// textSimilarity scores two free-text values in [0,1]. Equal token sequences score 1, a value whose tokens
// all appear in the other scores by how much of the longer one it covers, anything else by token overlap.
func textSimilarity(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	if strings.Join(ta, " ") == strings.Join(tb, " ") {
		return 1
	}

	setA, setB := toSet(ta), toSet(tb)
	common := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			common++
		}
	}
	dice := 2 * float64(common) / float64(len(setA)+len(setB))

	shorter, longer := len(setA), len(setB)
	if shorter > longer {
		shorter, longer = longer, shorter
	}
	if common == shorter {
		containment := 0.6 + 0.4*float64(shorter)/float64(longer)
		return math.Max(dice, containment)
	}
	return dice
}

func toSet(ts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ts))
	for _, t := range ts {
		set[t] = struct{}{}
	}
	return set
}

func phoneDigits(phone string) string {
	var sb strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// phonesMatch compares digits only. When both numbers are long enough, the trailing ten digits decide so
// that a country-code prefix and a trunk zero compare equal.
func phonesMatch(a, b string) bool {
	da, db := phoneDigits(a), phoneDigits(b)
	if len(da) < minPhoneDigits || len(db) < minPhoneDigits {
		return false
	}
	if da == db {
		return true
	}
	if len(da) >= 10 && len(db) >= 10 {
		return da[len(da)-10:] == db[len(db)-10:]
	}
	return false
}

// distanceM is the great-circle distance in meters.
func distanceM(a, b model.Coordinates) float64 {
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}
