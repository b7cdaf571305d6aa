package dispatcher

import (
	"encoding/json"
	"strings"
)

type logLine struct {
	Type string `json:"type"`
	Item struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`
}

// ExtractLastAgentMessage scans log text in reverse line order and returns
// the first "agent_message" item text it finds, or "" if none exists.
func ExtractLastAgentMessage(logText string) string {
	lines := strings.Split(logText, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		var parsed logLine
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			continue
		}

		if (parsed.Type == "item.completed" || parsed.Type == "item.updated") &&
			parsed.Item.Type == "agent_message" && parsed.Item.Text != "" {
			return parsed.Item.Text
		}
	}
	return ""
}

type errorLogLine struct {
	Type string `json:"type"`
	Item struct {
		Type  string `json:"type"`
		Error string `json:"error"`
	} `json:"item"`
}

// ExtractLastErrorMessage is the symmetric helper for a terminal error
// string: it returns the error field of the last item.completed or
// item.updated line whose item carries a non-empty error.
func ExtractLastErrorMessage(logText string) string {
	lines := strings.Split(logText, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}

		var parsed errorLogLine
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			continue
		}

		if (parsed.Type == "item.completed" || parsed.Type == "item.updated") && parsed.Item.Error != "" {
			return parsed.Item.Error
		}
	}
	return ""
}
