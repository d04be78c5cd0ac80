package match

import (
	face "github.com/Kagami/go-face"

	"github.com/blondedman/face-recognition/internal/types"
)

// Unknown is the label assigned to a face that matched no known encoding.
const Unknown = "unknown"

// DefaultTolerance mirrors face_recognition's compare_faces default.
const DefaultTolerance = 0.6

// CompareFaces returns one boolean per known encoding: true when the Euclidean
// distance between it and the probe is at most tolerance.
func CompareFaces(known []types.Descriptor, probe types.Descriptor, tolerance float64) []bool {
	limit := tolerance * tolerance
	matches := make([]bool, len(known))
	for i, k := range known {
		// Squared distances avoid a sqrt per entry.
		matches[i] = face.SquaredEuclideanDistance(k, probe) <= limit
	}
	return matches
}

// Vote is one entry of a tally: a name and how many matched encodings carry it.
type Vote struct {
	Name  string
	Count int
}

// Tally counts matched names in the order they are first seen while walking
// matches by ascending index. Entries where matches[i] is false are ignored.
func Tally(matches []bool, names []string) []Vote {
	var votes []Vote
	for i, ok := range matches {
		if !ok || i >= len(names) {
			continue
		}
		found := false
		for j := range votes {
			if votes[j].Name == names[i] {
				votes[j].Count++
				found = true
				break
			}
		}
		if !found {
			votes = append(votes, Vote{Name: names[i], Count: 1})
		}
	}
	return votes
}

// Resolve picks the identity for one face by majority vote over the matched
// entries. Ties go to the name that was first matched (lowest index).
// With no match at all it returns Unknown.
func Resolve(matches []bool, names []string) string {
	votes := Tally(matches, names)
	if len(votes) == 0 {
		return Unknown
	}
	best := votes[0]
	for _, v := range votes[1:] {
		if v.Count > best.Count {
			best = v
		}
	}
	return best.Name
}
