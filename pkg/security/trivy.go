// Package security turns trivy image scans into compact vulnerability
// reports.
package security

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// SeverityLevel represents vulnerability severity
type SeverityLevel string

const (
	SeverityCritical SeverityLevel = "CRITICAL"
	SeverityHigh     SeverityLevel = "HIGH"
	SeverityMedium   SeverityLevel = "MEDIUM"
	SeverityLow      SeverityLevel = "LOW"
	SeverityUnknown  SeverityLevel = "UNKNOWN"
)

var severityOrder = []SeverityLevel{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityUnknown}

func severityRank(s SeverityLevel) int {
	for i, l := range severityOrder {
		if l == s {
			return i
		}
	}
	return len(severityOrder)
}

// Vulnerability represents a single vulnerability
type Vulnerability struct {
	ID       string        `json:"id"`
	Severity SeverityLevel `json:"severity"`
	Package  string        `json:"package"`
	Version  string        `json:"version"`
	FixedIn  string        `json:"fixed_in,omitempty"`
	Title    string        `json:"title,omitempty"`
	Target   string        `json:"target,omitempty"`
}

// ImageReport is the parsed result of one image scan
type ImageReport struct {
	Image           string                `json:"image"`
	Counts          map[SeverityLevel]int `json:"counts"`
	Vulnerabilities []Vulnerability       `json:"vulnerabilities"`
}

// Total returns the number of vulnerabilities found
func (r *ImageReport) Total() int {
	return len(r.Vulnerabilities)
}

// ScanArgs returns the trivy arguments that produce output ParseReport reads.
func ScanArgs(image string) []string {
	return []string{"trivy", "image", "--scanners", "vuln", "--format", "json", "--quiet", image}
}

// ParseReport parses `trivy image --format json` output. Vulnerabilities are
// sorted by severity, then ID.
func ParseReport(output []byte) (*ImageReport, error) {
	var result struct {
		ArtifactName string `json:"ArtifactName"`
		Results      []struct {
			Target          string `json:"Target"`
			Vulnerabilities []struct {
				VulnerabilityID  string `json:"VulnerabilityID"`
				Severity         string `json:"Severity"`
				PkgName          string `json:"PkgName"`
				InstalledVersion string `json:"InstalledVersion"`
				FixedVersion     string `json:"FixedVersion"`
				Title            string `json:"Title"`
			} `json:"Vulnerabilities"`
		} `json:"Results"`
	}

	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse trivy output: %w", err)
	}

	report := &ImageReport{
		Image:  result.ArtifactName,
		Counts: make(map[SeverityLevel]int),
	}
	for _, r := range result.Results {
		for _, v := range r.Vulnerabilities {
			sev := SeverityLevel(strings.ToUpper(v.Severity))
			if severityRank(sev) == len(severityOrder) {
				sev = SeverityUnknown
			}
			report.Counts[sev]++
			report.Vulnerabilities = append(report.Vulnerabilities, Vulnerability{
				ID:       v.VulnerabilityID,
				Severity: sev,
				Package:  v.PkgName,
				Version:  v.InstalledVersion,
				FixedIn:  v.FixedVersion,
				Title:    truncateString(v.Title, 120),
				Target:   r.Target,
			})
		}
	}

	sort.SliceStable(report.Vulnerabilities, func(i, j int) bool {
		a, b := report.Vulnerabilities[i], report.Vulnerabilities[j]
		if ra, rb := severityRank(a.Severity), severityRank(b.Severity); ra != rb {
			return ra < rb
		}
		return a.ID < b.ID
	})
	return report, nil
}

// Summary renders the report as text, listing at most limit vulnerabilities.
func (r *ImageReport) Summary(limit int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Image: %s\n", r.Image)

	counts := make([]string, 0, len(severityOrder))
	for _, sev := range severityOrder {
		if n := r.Counts[sev]; n > 0 {
			counts = append(counts, fmt.Sprintf("%s: %d", sev, n))
		}
	}
	if len(counts) == 0 {
		sb.WriteString("Total: 0 vulnerabilities\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "Total: %d (%s)\n", r.Total(), strings.Join(counts, ", "))

	for i, v := range r.Vulnerabilities {
		if i == limit {
			fmt.Fprintf(&sb, "... %d more\n", r.Total()-limit)
			break
		}
		fixed := v.FixedIn
		if fixed == "" {
			fixed = "no fix"
		}
		fmt.Fprintf(&sb, "- %s [%s] %s %s (fixed in %s): %s\n", v.ID, v.Severity, v.Package, v.Version, fixed, v.Title)
	}
	return sb.String()
}

var imagePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/:-]*[a-zA-Z0-9](:[a-zA-Z0-9._-]+)?(@sha256:[a-f0-9]{64})?$`)

// ValidateImage checks if image reference is valid
func ValidateImage(image string) bool {
	if image == "" {
		return false
	}
	return imagePattern.MatchString(image)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
