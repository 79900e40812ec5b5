package search

import "vidarchive/pkg/domain"

// Field weights for person text search. The first matching field decides
// the rank.
const (
	WeightName        = 10
	WeightAliases     = 8
	WeightOccupation  = 5
	WeightDescription = 3
)

// RankPerson returns the weight of the highest field matching p, or 0.
func RankPerson(person domain.Person, p Pattern) int {
	switch {
	case p.MatchString(person.Name):
		return WeightName
	case p.matchAny(person.Aliases):
		return WeightAliases
	case p.matchAny(person.Occupation):
		return WeightOccupation
	case p.MatchString(person.Description):
		return WeightDescription
	default:
		return 0
	}
}
