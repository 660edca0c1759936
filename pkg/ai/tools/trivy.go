package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/gateway"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/security"
	"github.com/cloudbro-kube-ai/kube-copilot/pkg/tokens"
)

const trivySummaryLimit = 25

// TrivyTool scans container images for vulnerabilities.
type TrivyTool struct {
	gw     *gateway.Gateway
	budget tokens.Budget
}

// NewTrivyTool wraps a gateway bound to trivy. The gateway should not
// truncate since its JSON output is parsed; budget applies to the summary.
func NewTrivyTool(gw *gateway.Gateway, budget tokens.Budget) *TrivyTool {
	return &TrivyTool{gw: gw, budget: budget}
}

func (t *TrivyTool) Name() string { return "trivy" }

func (t *TrivyTool) Description() string {
	return "Scan a container image for vulnerabilities with Trivy."
}

func (t *TrivyTool) InputSchema() string {
	return "a container image reference, e.g. `nginx:1.25`."
}

func (t *TrivyTool) Call(ctx context.Context, input string) (string, error) {
	image, err := imageFromInput(input)
	if err != nil {
		return "", err
	}

	line := strings.Join(security.ScanArgs(image), " ")
	res := t.gw.Run(ctx, line)
	if res == nil {
		return NotPermitted(line), nil
	}
	if !res.Success {
		out, _ := t.budget.Apply(res.Output)
		return out, nil
	}

	report, err := security.ParseReport([]byte(res.Output))
	if err != nil {
		out, _ := t.budget.Apply(res.Output)
		return out, nil
	}
	if report.Image == "" {
		report.Image = image
	}
	out, _ := t.budget.Apply(report.Summary(trivySummaryLimit))
	return out, nil
}

// imageFromInput accepts "nginx", "image nginx" or "trivy image nginx".
func imageFromInput(input string) (string, error) {
	s := strings.TrimSpace(input)
	s = strings.TrimSpace(strings.TrimPrefix(s, "trivy "))
	s = strings.TrimSpace(strings.TrimPrefix(s, "image "))
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", errors.New("no image given")
	}
	if !security.ValidateImage(fields[0]) {
		return "", fmt.Errorf("invalid image reference %q", fields[0])
	}
	return fields[0], nil
}
