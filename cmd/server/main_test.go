package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"retailpos/backend/internal/config"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfig(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"short secret", config.Config{AuthSecret: "short", ManagerPIN: "739154"}, true},
		{"missing pin", config.Config{AuthSecret: strongSecret}, true},
		{"common pin", config.Config{AuthSecret: strongSecret, ManagerPIN: "123456"}, true},
		{"strong", config.Config{AuthSecret: strongSecret, ManagerPIN: "739154"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateSecurityConfig(tc.cfg)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidatePINStrength(t *testing.T) {
	for _, weak := range []string{"000000", "121212", "5555555", "234567", "876543"} {
		assert.Errorf(t, validatePINStrength(weak), "pin %s", weak)
	}
	for _, ok := range []string{"739154", "480261", "9051372"} {
		assert.NoErrorf(t, validatePINStrength(ok), "pin %s", ok)
	}
}
