package model

import "testing"

func TestMoodValid(t *testing.T) {
	tests := []struct {
		mood Mood
		want bool
	}{
		{MoodInformative, true},
		{MoodInspirational, true},
		{MoodWarm, true},
		{MoodCorporate, true},
		{"energetic", false},
		{"", false},
		{"Corporate", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.mood), func(t *testing.T) {
			if got := tt.mood.Valid(); got != tt.want {
				t.Errorf("Mood(%q).Valid() = %v, want %v", tt.mood, got, tt.want)
			}
		})
	}
}
