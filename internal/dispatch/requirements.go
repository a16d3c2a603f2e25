package dispatch

import (
	"sort"
	"strings"

	"ambudispatch/internal/model"
)

// Needs returns the seats a request occupies: exactly one in the category of its transport type.
func Needs(t model.TransportType) model.Seats {
	switch t {
	case model.TransportStretcher:
		return model.Seats{Stretcher: 1}
	case model.TransportWheelchair:
		return model.Seats{Wheelchair: 1}
	case model.TransportWalking:
		return model.Seats{Walking: 1}
	}
	return model.Seats{}
}

// CompatibleVehicleType maps a service type to the vehicle type allowed to serve it.
//
// Every service type, emergency included, currently maps to the consultation vehicle.
// This mirrors the policy in production and is kept as is until dispatch decides otherwise.
func CompatibleVehicleType(model.ServiceType) model.VehicleType {
	return model.VehicleConsultation
}

// Gazetteer recognises zone names inside free-text addresses.
type Gazetteer struct {
	zones []string
}

func NewGazetteer(zones []string) Gazetteer {
	return Gazetteer{zones: append([]string(nil), zones...)}
}

// ZoneOf returns the first configured zone whose name appears in address, ignoring case
// and accents. It returns "" when none matches.
func (g Gazetteer) ZoneOf(address string) string {
	a := foldAccents(strings.ToLower(address))
	for _, z := range g.zones {
		if z != "" && strings.Contains(a, foldAccents(strings.ToLower(z))) {
			return z
		}
	}
	return ""
}

func (g Gazetteer) Zones() []string { return append([]string(nil), g.zones...) }

// EquipmentClassifier infers equipment tags from a request.
type EquipmentClassifier interface {
	Classify(r model.TransportRequest) []string
}

// KeywordRule maps any of its keywords, found in a request's notes, to Tag.
type KeywordRule struct {
	Tag      string
	Keywords []string
}

// KeywordClassifier scans observations, special attention and architectural barrier notes.
// Matching is case and accent insensitive.
type KeywordClassifier struct {
	Rules []KeywordRule
}

// DefaultRules are the keyword rules used by the dispatcher.
var DefaultRules = []KeywordRule{
	{Tag: "oxygen", Keywords: []string{"oxigeno", "oxygen", "o2"}},
	{Tag: "stair_chair", Keywords: []string{"escalera", "sin ascensor", "stairs"}},
	{Tag: "bariatric", Keywords: []string{"obes", "bariatric"}},
	{Tag: "cardiac_monitor", Keywords: []string{"monitor", "cardiac"}},
	{Tag: "wheelchair_ramp", Keywords: []string{"rampa", "silla de ruedas propia"}},
}

func NewKeywordClassifier() KeywordClassifier {
	return KeywordClassifier{Rules: DefaultRules}
}

func (c KeywordClassifier) Classify(r model.TransportRequest) []string {
	text := foldAccents(strings.ToLower(r.Observations + "\n" + r.SpecialAttention + "\n" + r.ArchitecturalBarriers))
	var out []string
	for _, rule := range c.Rules {
		for _, kw := range rule.Keywords {
			if containsWord(text, foldAccents(strings.ToLower(kw))) {
				out = append(out, rule.Tag)
				break
			}
		}
	}
	return out
}

// RequiredEquipment is the union of classifier tags and explicitly requested tags, sorted.
func RequiredEquipment(c EquipmentClassifier, r model.TransportRequest) []string {
	set := map[string]struct{}{}
	if c != nil {
		for _, t := range c.Classify(r) {
			set[t] = struct{}{}
		}
	}
	for _, t := range r.RequiredEquipment {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// containsWord matches kw at a word start so that "o2" does not fire inside "co2x".
func containsWord(text, kw string) bool {
	if kw == "" {
		return false
	}
	for i := 0; ; {
		j := strings.Index(text[i:], kw)
		if j < 0 {
			return false
		}
		pos := i + j
		if pos == 0 || !isLetterOrDigit(text[pos-1]) {
			return true
		}
		i = pos + 1
	}
}

func isLetterOrDigit(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') || b >= 0x80
}

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
)

func foldAccents(s string) string { return accentFolder.Replace(s) }
