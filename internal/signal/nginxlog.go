package signal

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// AccessLogCounts summarizes a tail window of an nginx access log.
type AccessLogCounts struct {
	Count4xx    int
	Count5xx    int
	Count502504 int
}

var accessStatusRe = regexp.MustCompile(`"\s+(\d{3})\s+`)

// ParseAccessLogTail scans r (already positioned at the start of the tail
// window the caller wants analyzed) and counts 4xx/5xx/502|504 responses.
func ParseAccessLogTail(r io.Reader) AccessLogCounts {
	var counts AccessLogCounts
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		m := accessStatusRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		status, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		switch {
		case status >= 400 && status < 500:
			counts.Count4xx++
		case status >= 500 && status < 600:
			counts.Count5xx++
		}
		if status == 502 || status == 504 {
			counts.Count502504++
		}
	}

	return counts
}

// UpstreamErrorEvent is one error-log line keyed by server/upstream.
type UpstreamErrorEvent struct {
	Server   string
	Upstream string
	Raw      string
}

var serverRe = regexp.MustCompile(`server:\s*([^,]+)`)
var upstreamRe = regexp.MustCompile(`upstream:\s*"?([^,"]+)"?`)

// ParseErrorLogTail extracts upstream-error events from an nginx error log
// tail window, keyed by the server: and upstream: fields on each line.
func ParseErrorLogTail(r io.Reader) []UpstreamErrorEvent {
	var events []UpstreamErrorEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "upstream:") {
			continue
		}

		event := UpstreamErrorEvent{Raw: line}
		if m := serverRe.FindStringSubmatch(line); m != nil {
			event.Server = strings.TrimSpace(m[1])
		}
		if m := upstreamRe.FindStringSubmatch(line); m != nil {
			event.Upstream = strings.TrimSpace(m[1])
		}
		events = append(events, event)
	}

	return events
}
