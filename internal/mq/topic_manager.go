package mq

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// TopicType classifies an incoming topic the way the parser needs it.
type TopicType string

const (
	TopicTypeSenseBox    TopicType = "sensebox"
	TopicTypeMedian      TopicType = "median"
	TopicTypeSpecialized TopicType = "specialized"
	TopicTypeUnknown     TopicType = "unknown"
)

const (
	SenseBoxTopicPrefix    = "senseBox:home"
	SpecializedTopicPrefix = "sensoren"

	SenseBoxTopicTemplate    = "senseBox:home/%s"
	MedianTopicTemplate      = "senseBox:home/median/%s"
	SpecializedTopicTemplate = "sensoren/%s"
)

var (
	senseBoxTopicRegex    = regexp.MustCompile(`^senseBox:home/([^/]+)$`)
	specializedTopicRegex = regexp.MustCompile(`^sensoren/([^/]+)$`)
)

// TopicManager maps between catalog entries and the broker's topic layout.
// MedianPrefix is configurable through the catalog's parsing section; it
// defaults to "senseBox:home/median".
type TopicManager struct {
	MedianPrefix string
	medianRegex  *regexp.Regexp
	logger       zerolog.Logger
}

func NewTopicManager(medianPrefix string, logger zerolog.Logger) *TopicManager {
	if medianPrefix == "" {
		medianPrefix = "senseBox:home/median"
	}
	medianPrefix = strings.TrimSuffix(medianPrefix, "/")

	return &TopicManager{
		MedianPrefix: medianPrefix,
		medianRegex:  regexp.MustCompile("^" + regexp.QuoteMeta(medianPrefix) + "/([^/]+)$"),
		logger:       logger,
	}
}

func (m *TopicManager) SenseBoxTopic(deviceID string) string {
	return fmt.Sprintf(SenseBoxTopicTemplate, deviceID)
}

func (m *TopicManager) MedianTopic(location string) string {
	return fmt.Sprintf("%s/%s", m.MedianPrefix, location)
}

func (m *TopicManager) SpecializedTopic(deviceID string) string {
	return fmt.Sprintf(SpecializedTopicTemplate, deviceID)
}

// Classify reports the topic type. Median detection runs before the plain
// senseBox match because median topics share the senseBox prefix.
func (m *TopicManager) Classify(topic string) TopicType {
	switch {
	case strings.HasPrefix(topic, m.MedianPrefix+"/"):
		return TopicTypeMedian
	case strings.HasPrefix(topic, SenseBoxTopicPrefix+"/"):
		return TopicTypeSenseBox
	case strings.HasPrefix(topic, SpecializedTopicPrefix+"/"):
		return TopicTypeSpecialized
	default:
		return TopicTypeUnknown
	}
}

// IsValid checks the topic against the known network patterns.
func (m *TopicManager) IsValid(topic string) bool {
	return senseBoxTopicRegex.MatchString(topic) ||
		m.medianRegex.MatchString(topic) ||
		specializedTopicRegex.MatchString(topic)
}

// ExtractDeviceID returns the trailing path element: the device ID for
// station topics, the location name for median topics.
func (m *TopicManager) ExtractDeviceID(topic string) (string, error) {
	for _, regex := range []*regexp.Regexp{m.medianRegex, senseBoxTopicRegex, specializedTopicRegex} {
		if matches := regex.FindStringSubmatch(topic); len(matches) == 2 {
			return matches[1], nil
		}
	}

	return "", fmt.Errorf("could not extract device ID from topic: %s", topic)
}
