package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCompanyName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Validic", "validic"},
		{"VALIDIC", "validic"},
		{"  Validic, Inc.  ", "validic"},
		{"Validic Inc", "validic"},
		{"Natryx LLC", "natryx"},
		{"Acme Corp.", "acme"},
		{"Two  Spaces   Ltd", "two spaces"},
		{"Co Pilot", "co pilot"},
		{"Incline Village", "incline village"},
		{"", ""},
		{"Inc", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeCompanyName(tt.in), tt.in)
	}
}
