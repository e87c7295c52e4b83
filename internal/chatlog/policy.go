package chatlog

import "strings"

// notabilityKeywords flag a message as worth keeping on its own. The
// match is a case-insensitive substring test, so short tokens stay
// conservative.
var notabilityKeywords = []string{
	"urgent", "asap", "deadline", "important", "critical", "emergency",
	"紧急", "重要", "截止", "决定", "发布", "上线",
}

func isNotable(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range notabilityKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ShouldAccept decides whether msg should be admitted under target's
// policy. A nil target accepts everything; notification groups only
// pass notable messages regardless of capture policy; otherwise the
// capture policy decides. Deterministic and side-effect free, so both
// ingest paths can call it for the same message and agree.
func ShouldAccept(target *Target, msg Message) bool {
	if target == nil {
		return true
	}
	if target.GroupType == GroupTypeNotification {
		return isNotable(msg.Content)
	}
	switch target.CapturePolicy {
	case CaptureSummaryOnly:
		return false
	case CaptureKeyEvents:
		return isNotable(msg.Content)
	case CaptureHybrid:
		return senderIsImportant(target, msg) || isNotable(msg.Content)
	default:
		return true
	}
}

func senderIsImportant(target *Target, msg Message) bool {
	name := msg.SenderName
	if name == "" {
		name = msg.Sender
	}
	if name == "" {
		return false
	}
	for _, p := range target.ImportantPeople {
		if p == "" {
			continue
		}
		if strings.Contains(name, p) || strings.Contains(msg.Sender, p) {
			return true
		}
	}
	return false
}
