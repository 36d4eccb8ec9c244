package meshtastic

import (
	"fmt"
	"regexp"
	"strings"
)

const DefaultChannelName = "LongFast"

var (
	// Matches channel topics of the form msh/{root}/2/e/{channel}/{gateway}
	channelTopicRegex = regexp.MustCompile(`^(msh(?:/[^/]+)*)/2/e/([^/]+)/(![a-f0-9]{8})$`)
)

// ChannelTopic builds the topic a gateway publishes an encrypted-channel
// service envelope on.
func ChannelTopic(root, channel string, gateway NodeID) string {
	root = strings.TrimSuffix(root, "/")
	if channel == "" {
		channel = DefaultChannelName
	}
	return fmt.Sprintf("%s/2/e/%s/%s", root, channel, gateway)
}

// ParseChannelTopic splits a channel topic into its root, channel name and gateway.
func ParseChannelTopic(topic string) (root, channel string, gateway NodeID, ok bool) {
	matches := channelTopicRegex.FindStringSubmatch(topic)
	if len(matches) == 0 {
		return "", "", 0, false
	}
	gw, err := ParseNodeID(matches[3])
	if err != nil {
		return "", "", 0, false
	}
	return matches[1], matches[2], gw, true
}
