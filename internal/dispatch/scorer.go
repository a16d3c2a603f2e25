package dispatch

import (
	"sort"

	"ambudispatch/internal/model"
)

// Score weights.
const (
	ZoneMatchScore        = 100
	EquipmentScore        = 10
	OccupancyOptimalScore = 50
	OccupancyHighScore    = 30
	OccupancyLowScore     = 20
	TypeMatchScore        = 40
)

// Candidate is a vehicle with the score it got for one request.
type Candidate struct {
	Vehicle model.Vehicle
	Score   int
}

// Score rates how well v suits r. zone is the request's zone, "" when unknown.
func Score(r model.TransportRequest, v model.Vehicle, zone string, required []string) int {
	score := 0
	if zone != "" && v.Zone == zone {
		score += ZoneMatchScore
	}
	for _, tag := range required {
		if v.HasEquipment([]string{tag}) {
			score += EquipmentScore
		}
	}
	score += occupancyScore(Needs(r.TransportType).Total(), v.Capacity.Total())
	if v.Type == CompatibleVehicleType(r.ServiceType) {
		score += TypeMatchScore
	}
	return score
}

// occupancyScore rewards vehicles the request fills well: 50-80% gets the top score,
// above that a lower one, anything else the minimum.
func occupancyScore(used, total int) int {
	if total <= 0 {
		return OccupancyLowScore
	}
	ratio := float64(used) / float64(total)
	switch {
	case ratio >= 0.5 && ratio <= 0.8:
		return OccupancyOptimalScore
	case ratio > 0.8:
		return OccupancyHighScore
	default:
		return OccupancyLowScore
	}
}

// Rank scores every vehicle and orders them best first. Equal scores keep input order.
func Rank(r model.TransportRequest, vehicles []model.Vehicle, zone string, required []string) []Candidate {
	out := make([]Candidate, 0, len(vehicles))
	for _, v := range vehicles {
		out = append(out, Candidate{Vehicle: v, Score: Score(r, v, zone, required)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
