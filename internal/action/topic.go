package action

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Well-known topics.
const (
	TopicOffline = "offline"
	TopicUI5     = "ui5"
)

// NormalizeTopic returns the canonical form of a topic name: trimmed,
// NFC-normalized and case-folded. Two spellings of the same topic always
// land in the same partition.
func NormalizeTopic(topic string) (string, error) {
	t := strings.TrimSpace(topic)
	if t == "" {
		return "", fmt.Errorf("topic is empty")
	}
	t = cases.Fold().String(norm.NFC.String(t))
	if strings.ContainsAny(t, " \t\r\n") {
		return "", fmt.Errorf("topic %q must not contain whitespace", topic)
	}
	return t, nil
}
