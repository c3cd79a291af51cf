package validation

import (
	"math"
	"strings"
	"testing"

	"github.com/aispark/pdmcore/internal/errors"
)

func TestValidateEntityID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "press-01", false},
		{"with underscore", "cnc_mill_3", false},
		{"numbers", "123", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"hidden", ".hidden", true},
		{"with dot", "plant.line2", true},
		{"slash", "a/b", true},
		{"backslash", "a\\b", true},
		{"space", "press 01", true},
		{"control char", "a\x00b", true},
		{"percent", "a%b", true},
		{"too long", strings.Repeat("x", 300), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEntityID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEntityID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.IsValidation(err) {
				t.Errorf("ValidateEntityID(%q) error lacks validation category: %v", tt.input, err)
			}
		})
	}
}

func TestSensorTypeAllowsDots(t *testing.T) {
	rules := SensorTypeRules()

	if err := ValidateID("spindle.axis-z", rules); err != nil {
		t.Errorf("dotted sensor type rejected: %v", err)
	}
	if err := ValidateID("spindle/axis-z", rules); err == nil {
		t.Error("slash should be rejected")
	}
}

func TestValidateFinite(t *testing.T) {
	if err := ValidateFinite("temperature", 71.5); err != nil {
		t.Errorf("finite value rejected: %v", err)
	}
	if err := ValidateFinite("temperature", math.NaN()); err == nil {
		t.Error("NaN accepted")
	} else if !errors.Is(err, errors.ErrNonFiniteValue) {
		t.Errorf("NaN rejection lacks non-finite sentinel: %v", err)
	}
	if err := ValidateFinite("temperature", math.Inf(1)); err == nil {
		t.Error("+Inf accepted")
	}
	if err := ValidateFinite("temperature", math.Inf(-1)); err == nil {
		t.Error("-Inf accepted")
	}
}

func TestValidateScore(t *testing.T) {
	tests := []struct {
		v       float64
		wantErr bool
	}{
		{0, false},
		{0.5, false},
		{1, false},
		{-0.01, true},
		{1.01, true},
		{math.NaN(), true},
	}

	for _, tt := range tests {
		err := ValidateScore("accuracy", tt.v)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateScore(%v) error = %v, wantErr %v", tt.v, err, tt.wantErr)
		}
	}
}

func TestValidateEnum(t *testing.T) {
	if err := ValidateEnum("severity", "high", "low", "medium", "high"); err != nil {
		t.Errorf("valid enum rejected: %v", err)
	}
	err := ValidateEnum("severity", "extreme", "low", "medium", "high")
	if err == nil {
		t.Fatal("invalid enum accepted")
	}
	if !strings.Contains(err.Error(), "extreme") {
		t.Errorf("error should name the bad value: %v", err)
	}
}

func TestEscapeLikePattern(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"plain", "plain"},
		{"50%", "50\\%"},
		{"a_b", "a\\_b"},
		{"back\\slash", "back\\\\slash"},
		{"%_\\", "\\%\\_\\\\"},
	}

	for _, tt := range tests {
		if got := EscapeLikePattern(tt.input); got != tt.expected {
			t.Errorf("EscapeLikePattern(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestSafeLikeHelpers(t *testing.T) {
	if got := SafeLikePrefix("press-%"); got != "press-\\%%" {
		t.Errorf("SafeLikePrefix = %q", got)
	}
	if got := SafeLikeContains("50%"); got != "%50\\%%" {
		t.Errorf("SafeLikeContains = %q", got)
	}
}
