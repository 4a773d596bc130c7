package conflict

import (
	"path"
	"regexp"
	"strconv"
	"strings"

	v1 "github.com/foofork/orchflow/pkg/api/v1"
)

// knownServices is the fixed vocabulary of services a task description is
// scanned for, merged with any explicit "services" parameter. Whether a
// service is exclusive is decided by the detector's Limits, not by this list.
var knownServices = []string{
	"mysql", "postgres", "postgresql", "sqlite", "redis", "mongodb", "mongo",
	"elasticsearch", "kafka", "rabbitmq", "nats",
}

var (
	filePathRe = regexp.MustCompile(`\b[\w./-]+\.(go|py|js|ts|tsx|jsx|json|yaml|yml|md|sql|proto|rs|java|rb)\b`)
	portRe     = regexp.MustCompile(`(?i)\b(?:port|listen|bind)\s+(?:on\s+)?(\d{2,5})\b`)

	writeIntentRe = regexp.MustCompile(`(?i)\b(write|modify|update|create|delete|save|edit|append)\b`)
)

// HasWriteIntent reports whether desc contains one of the fixed write-intent
// keywords that escalate a file conflict from warning to error.
func HasWriteIntent(desc string) bool {
	return writeIntentRe.MatchString(desc)
}

// Extract derives a task's resource Claim, preferring explicit parameters
// and falling back to scanning its description for recognizable tokens.
func Extract(t *v1.Task) Claim {
	c := Claim{TaskID: t.ID}

	files := mergeUnique(t.FilesParam(), extractFiles(t.Description))
	for i, f := range files {
		files[i] = path.Clean(f)
	}
	c.Files = files
	c.Ports = mergeUniqueInts(t.PortsParam(), extractPorts(t.Description))
	c.Services = mergeUnique(t.ServicesParam(), extractServices(t.Description))

	return c
}

func extractFiles(desc string) []string {
	matches := filePathRe.FindAllString(desc, -1)
	if matches == nil {
		return nil
	}
	return matches
}

func extractPorts(desc string) []int {
	matches := portRe.FindAllStringSubmatch(desc, -1)
	if matches == nil {
		return nil
	}
	out := make([]int, 0, len(matches))
	for _, m := range matches {
		if n, err := strconv.Atoi(m[1]); err == nil {
			out = append(out, n)
		}
	}
	return out
}

func extractServices(desc string) []string {
	lower := strings.ToLower(desc)
	var out []string
	for _, svc := range knownServices {
		if strings.Contains(lower, svc) {
			out = append(out, svc)
		}
	}
	return out
}
