package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambudispatch/internal/model"
)

func TestNeeds(t *testing.T) {
	assert.Equal(t, model.Seats{Stretcher: 1}, Needs(model.TransportStretcher))
	assert.Equal(t, model.Seats{Wheelchair: 1}, Needs(model.TransportWheelchair))
	assert.Equal(t, model.Seats{Walking: 1}, Needs(model.TransportWalking))
	assert.Equal(t, model.Seats{}, Needs("bus"))
}

func TestCompatibleVehicleTypeIsAlwaysConsultation(t *testing.T) {
	for _, st := range []model.ServiceType{
		model.ServiceConsultation, model.ServiceAdmission, model.ServiceDischarge,
		model.ServiceTransfer, model.ServiceEmergency,
	} {
		assert.Equal(t, model.VehicleConsultation, CompatibleVehicleType(st), st)
	}
}

func TestGazetteer(t *testing.T) {
	g := NewGazetteer([]string{"Logroño", "Calahorra", "Haro", "Arnedo", "Nájera"})
	assert.Equal(t, "Logroño", g.ZoneOf("Av. de la Paz 3, LOGROÑO"))
	assert.Equal(t, "Logroño", g.ZoneOf("Calle Portales, Logrono"))
	assert.Equal(t, "Nájera", g.ZoneOf("Plaza de España, najera"))
	assert.Equal(t, "", g.ZoneOf("Calle Mayor, Santo Domingo"))
	assert.Equal(t, "Calahorra", g.ZoneOf("Calahorra, camino a Haro"), "first configured zone wins")
	assert.Len(t, g.Zones(), 5)
}

func TestKeywordClassifier(t *testing.T) {
	c := NewKeywordClassifier()
	r := model.TransportRequest{
		Observations:          "Paciente con OXÍGENO domiciliario",
		SpecialAttention:      "obesidad mórbida",
		ArchitecturalBarriers: "Tercer piso sin ascensor",
	}
	assert.Equal(t, []string{"oxygen", "stair_chair", "bariatric"}, c.Classify(r))

	assert.Empty(t, c.Classify(model.TransportRequest{Observations: "co2x reading"}))
	assert.Equal(t, []string{"oxygen"}, c.Classify(model.TransportRequest{Observations: "needs O2"}))
}

func TestRequiredEquipmentUnion(t *testing.T) {
	r := model.TransportRequest{
		Observations:      "lleva monitor cardiaco",
		RequiredEquipment: []string{"oxygen", " cardiac_monitor ", ""},
	}
	got := RequiredEquipment(NewKeywordClassifier(), r)
	require.Equal(t, []string{"cardiac_monitor", "oxygen"}, got)
	require.Equal(t, []string{"oxygen"}, RequiredEquipment(nil, model.TransportRequest{RequiredEquipment: []string{"oxygen"}}))
}
