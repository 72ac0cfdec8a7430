package mq

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestClassify(t *testing.T) {
	manager := NewTopicManager("", zerolog.Nop())

	testCases := []struct {
		topic    string
		expected TopicType
	}{
		{"senseBox:home/Naunhof_Nr1", TopicTypeSenseBox},
		{"senseBox:home/median/Naunhof", TopicTypeMedian},
		{"sensoren/Pegel_Parthe", TopicTypeSpecialized},
		{"homeassistant/sensor/foo/config", TopicTypeUnknown},
		{"senseBox:homeX/Naunhof_Nr1", TopicTypeUnknown},
	}

	for _, tc := range testCases {
		if got := manager.Classify(tc.topic); got != tc.expected {
			t.Errorf("Classify(%s): expected %s, got %s", tc.topic, tc.expected, got)
		}
	}
}

func TestIsValid(t *testing.T) {
	manager := NewTopicManager("", zerolog.Nop())

	testCases := []struct {
		topic    string
		expected bool
	}{
		{"senseBox:home/Naunhof_Nr1", true},
		{"senseBox:home/median/Naunhof", true},
		{"sensoren/Pegel_Parthe", true},
		{"senseBox:home/median/Naunhof/extra", false},
		{"senseBox:home/", false},
		{"", false},
	}

	for _, tc := range testCases {
		if got := manager.IsValid(tc.topic); got != tc.expected {
			t.Errorf("IsValid(%s): expected %v, got %v", tc.topic, tc.expected, got)
		}
	}
}

func TestExtractDeviceID(t *testing.T) {
	manager := NewTopicManager("", zerolog.Nop())

	testCases := []struct {
		topic    string
		expected string
		wantErr  bool
	}{
		{"senseBox:home/Naunhof_Nr1", "Naunhof_Nr1", false},
		{"senseBox:home/median/Naunhof", "Naunhof", false},
		{"sensoren/Pegel_Parthe", "Pegel_Parthe", false},
		{"something/else", "", true},
	}

	for _, tc := range testCases {
		got, err := manager.ExtractDeviceID(tc.topic)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ExtractDeviceID(%s): expected error, got %q", tc.topic, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ExtractDeviceID(%s): unexpected error %v", tc.topic, err)
			continue
		}
		if got != tc.expected {
			t.Errorf("ExtractDeviceID(%s): expected %s, got %s", tc.topic, tc.expected, got)
		}
	}
}

func TestCustomMedianPrefix(t *testing.T) {
	manager := NewTopicManager("stadt/mittelwerte/", zerolog.Nop())

	if manager.MedianPrefix != "stadt/mittelwerte" {
		t.Errorf("Expected trailing slash to be trimmed, got %s", manager.MedianPrefix)
	}

	if got := manager.Classify("stadt/mittelwerte/Brandis"); got != TopicTypeMedian {
		t.Errorf("Expected median classification, got %s", got)
	}

	id, err := manager.ExtractDeviceID("stadt/mittelwerte/Brandis")
	if err != nil {
		t.Fatalf("ExtractDeviceID failed: %v", err)
	}
	if id != "Brandis" {
		t.Errorf("Expected Brandis, got %s", id)
	}

	if got := manager.MedianTopic("Brandis"); got != "stadt/mittelwerte/Brandis" {
		t.Errorf("Expected stadt/mittelwerte/Brandis, got %s", got)
	}
}

func TestTopicBuilders(t *testing.T) {
	manager := NewTopicManager("", zerolog.Nop())

	if got := manager.SenseBoxTopic("Naunhof_Nr1"); got != "senseBox:home/Naunhof_Nr1" {
		t.Errorf("Unexpected senseBox topic %s", got)
	}
	if got := manager.MedianTopic("Naunhof"); got != "senseBox:home/median/Naunhof" {
		t.Errorf("Unexpected median topic %s", got)
	}
	if got := manager.SpecializedTopic("Pegel_Parthe"); got != "sensoren/Pegel_Parthe" {
		t.Errorf("Unexpected specialized topic %s", got)
	}
}
