package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthReportOverall(t *testing.T) {
	report := HealthReport{Dependencies: map[string]DependencyHealth{
		"firestore": {Status: HealthOK},
		"kafka":     {Status: HealthDegraded, Error: "broker unreachable"},
	}}
	assert.Equal(t, HealthDegraded, report.Overall())
	assert.Equal(t, []string{"kafka: broker unreachable"}, report.Failures())

	report.Dependencies["redis"] = DependencyHealth{Status: HealthDown}
	assert.Equal(t, HealthDown, report.Overall())
	assert.Equal(t, []string{"kafka: broker unreachable", "redis: error"}, report.Failures())

	assert.Equal(t, HealthOK, HealthReport{}.Overall())
	assert.Empty(t, HealthReport{}.Failures())
}

func TestHealthStatusWorse(t *testing.T) {
	assert.Equal(t, HealthOK, HealthStatus("").Worse(""))
	assert.Equal(t, HealthDegraded, HealthOK.Worse(HealthDegraded))
	assert.Equal(t, HealthDown, HealthDown.Worse(HealthDegraded))
}
