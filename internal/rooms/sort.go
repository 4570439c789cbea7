package rooms

import (
	"sort"
	"strings"
	"unicode"
)

// NaturalLess compares strings treating digit runs as numbers, so "51"
// sorts before "126" and "Room 9" before "Room 10".
func NaturalLess(a, b string) bool {
	ar, br := []rune(a), []rune(b)
	i, j := 0, 0
	for i < len(ar) && j < len(br) {
		if unicode.IsDigit(ar[i]) && unicode.IsDigit(br[j]) {
			si, sj := i, j
			for i < len(ar) && unicode.IsDigit(ar[i]) {
				i++
			}
			for j < len(br) && unicode.IsDigit(br[j]) {
				j++
			}
			na := strings.TrimLeft(string(ar[si:i]), "0")
			nb := strings.TrimLeft(string(br[sj:j]), "0")
			if len(na) != len(nb) {
				return len(na) < len(nb)
			}
			if na != nb {
				return na < nb
			}
			continue
		}
		ca, cb := unicode.ToLower(ar[i]), unicode.ToLower(br[j])
		if ca != cb {
			return ca < cb
		}
		i++
		j++
	}
	if len(ar)-i != len(br)-j {
		return len(ar)-i < len(br)-j
	}
	return a < b
}

// SortRooms orders rooms by name with NaturalLess.
func SortRooms(rs []Room) {
	sort.SliceStable(rs, func(i, j int) bool {
		return NaturalLess(rs[i].Name, rs[j].Name)
	})
}

// SortSlots orders slots by start time.
func SortSlots(ss []Slot) {
	sort.SliceStable(ss, func(i, j int) bool {
		return ss[i].StartTime < ss[j].StartTime
	})
}
