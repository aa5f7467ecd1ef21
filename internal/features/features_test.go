package features

import (
	"errors"
	"testing"
)

func TestManager(t *testing.T) {
	m := NewDefaultManager(true, false, false)

	if !m.IsEnabled(FeatureCacheEnabled) {
		t.Error("Expected cache flag to be enabled")
	}
	if m.IsEnabled(FeatureParallelScoring) {
		t.Error("Expected parallel scoring to start disabled")
	}

	if err := m.Set(FeatureParallelScoring, true); err != nil {
		t.Fatalf("Failed to set flag: %v", err)
	}
	if err := m.Set(FeatureCacheEnabled, false); err != nil {
		t.Fatalf("Failed to set flag: %v", err)
	}
	if !m.IsEnabled(FeatureParallelScoring) || m.IsEnabled(FeatureCacheEnabled) {
		t.Error("Expected toggles to apply")
	}

	if m.IsEnabled("unknown") {
		t.Error("Expected unknown flags to be disabled")
	}
	if err := m.Set("unknown", true); !errors.Is(err, ErrUnknownFlag) {
		t.Errorf("Expected ErrUnknownFlag, got %v", err)
	}

	flags := m.List()
	if len(flags) != 3 || flags[0].Name != FeatureCacheEnabled || flags[2].Name != FeatureParallelScoring {
		t.Errorf("Expected 3 flags sorted by name, got %+v", flags)
	}
}
