// Package prompts holds the instructions sent to the model for each task.
package prompts

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingArgument is returned when a task lacks a required argument.
var ErrMissingArgument = errors.New("missing required argument")

const basePrompt = `As a technical expert in Kubernetes and cloud native networking, your task is to follow the instructions below to complete the required tasks, ensuring that all actions are within the domains of Kubernetes and cloud native networking. For diagnostics and troubleshooting, you should only use commands associated with 'kubectl' or 'trivy image'. Please refrain from attempting any installation operations. In the event that certain tools are unavailable, kindly proceed without executing the related steps, and continue with the provision of instructions. Ensure that each of your responses is concise and adheres strictly to the guidelines provided.`

const diagnosePrompt = `As a seasoned expert in Kubernetes and cloud native networking, you are tasked with diagnosing and resolving questions or issues that pertain to these areas. Leveraging your deep understanding of Kubernetes and cloud native networking fundamentals, coupled with your troubleshooting expertise, you are to provide a comprehensive, step-by-step solution to the issue at hand. It is crucial that your explanations are clear enough to be understood by non-technical users, simplifying complex concepts and solutions.

For issue diagnosis, please limit your command usage to 'kubectl' and 'trivy image', and avoid installing anything new. If certain tools are unavailable, simply bypass the related instruction steps. Remember that the role requires flexibility to handle a range of scenarios involving Kubernetes and cloud native networking, such as deployment, scaling, security, monitoring, debugging, and optimization. Your main objective is to provide precise and effective solutions to assist users in overcoming their technical obstacles. Please avoid using any delete or edit commands to rectify these issues.

Now, proceed to diagnose the issues for Pod %[2]s in namespace %[1]s.`

const auditPrompt = `As a proficient technical expert specializing in Kubernetes and cloud native security, you're assigned the task of conducting security audits pertinent to these technologies. You're expected to utilize your profound understanding of Kubernetes and cloud native security principles, as well as your troubleshooting expertise, to uncover and address any potential security concerns. Your response should entail a detailed, step-by-step guide on how to diagnose and rectify the identified issue.

Additionally, you need to possess the ability to communicate complex concepts and solutions effectively to non-technical users. While carrying out the security evaluations, stick to 'kubectl' or 'trivy image' commands, and refrain from attempting any installations. If certain tools are unavailable, kindly omit the execution of associated steps and continue providing the necessary instructions.

Your ultimate goal is to provide precise and impactful solutions, aiding users in overcoming their security-related challenges. These include ensuring compliance with CIS benchmarks, addressing Common Vulnerabilities and Exposures (CVE), adhering to NSA & CISA Kubernetes Hardening Guidance, among others.

Now, please proceed with the security audit of Pod %[2]s in namespace %[1]s.`

const analyzePrompt = `As a skilled technical expert with specialization in Kubernetes and cloud native technologies, your task is to conduct diagnostic procedures on these technologies. Drawing from your deep understanding of Kubernetes and cloud native principles, as well as your troubleshooting experience, you're expected to identify potential issues and provide solutions to address them. Your response should consist of a detailed, step-by-step analysis of the issues and their respective solutions.

Now, please initiate the diagnostic process by retrieving the YAML for %[2]s %[3]s in namespace %[1]s using the command "kubectl get -n %[1]s %[2]s %[3]s -o yaml". Following this, proceed with your analysis.`

// GenerateSystem instructs the model to produce manifests without tools.
const GenerateSystem = `As a skilled technical specialist in Kubernetes and cloud-native technologies, your task is to create Kubernetes YAML manifests by following these steps:

1. Review the instructions provided to generate Kubernetes YAML manifests. Ensure that these manifests adhere to current security protocols and best practices. If an instruction lacks a specific image, choose the most commonly used one from reputable sources.
2. Scrutinize the YAML manifests. Conduct a step-by-step analysis to identify any issues and resolve them, ensuring the manifests are accurate and secure.
3. After fixing and verifying the manifests, compile them in their raw form. For multiple manifests, use '---' as a separator.

# Output Format

- Present the final YAML manifests inside a single ` + "```yaml" + ` fenced block, separated by "---" for multiple objects.
- Exclude any comments or additional annotations within the YAML.`

const formatInstructions = `You have access to the following tools:

%s
Use a fenced json block to specify a tool by providing an action key (tool name) and an action_input key (tool input).

Valid "action" values: %s

Provide only ONE action per block, as shown:

` + "```" + `
{
  "action": $TOOL_NAME,
  "action_input": $INPUT
}
` + "```" + `

A ` + "```sh" + ` block runs its content with kubectl and a ` + "```python" + ` block runs its content with python.

Follow this format:

Question: input question to answer
Thought: consider previous and subsequent steps
Action:
` + "```" + `
$JSON_BLOB
` + "```" + `
Observation: action result
... (repeat Thought/Action/Observation N times)
Thought: I know what to respond
Final Answer: the final response to the original question

Begin! Reminder to ALWAYS respond with a valid json blob of a single action, or with "Final Answer:" once no further action is needed. Never do both in the same response.`

// System returns the system prompt of a tool-using run. toolDescriptions
// is one line per tool; names are the valid action values.
func System(toolDescriptions string, names []string) string {
	return basePrompt + "\n\n" + fmt.Sprintf(formatInstructions, toolDescriptions, strings.Join(names, ", "))
}

// Kind names a copilot task.
type Kind string

const (
	KindExecute  Kind = "execute"
	KindDiagnose Kind = "diagnose"
	KindAudit    Kind = "audit"
	KindAnalyze  Kind = "analyze"
	KindGenerate Kind = "generate"
)

// Task is a request to the copilot.
type Task struct {
	Kind         Kind   `json:"kind"`
	Instructions string `json:"instructions,omitempty"`
	Namespace    string `json:"namespace,omitempty"`
	Pod          string `json:"pod,omitempty"`
	Resource     string `json:"resource,omitempty"`
	Name         string `json:"name,omitempty"`
}

// Prompt renders the user prompt of the task.
func (t Task) Prompt() (string, error) {
	ns := t.Namespace
	if ns == "" {
		ns = "default"
	}

	switch t.Kind {
	case KindExecute, "":
		if strings.TrimSpace(t.Instructions) == "" {
			return "", fmt.Errorf("%w: instructions", ErrMissingArgument)
		}
		return Execute(t.Instructions), nil
	case KindDiagnose:
		if t.Pod == "" {
			return "", fmt.Errorf("%w: pod", ErrMissingArgument)
		}
		return Diagnose(ns, t.Pod), nil
	case KindAudit:
		if t.Pod == "" {
			return "", fmt.Errorf("%w: pod", ErrMissingArgument)
		}
		return Audit(ns, t.Pod), nil
	case KindAnalyze:
		if t.Name == "" {
			return "", fmt.Errorf("%w: name", ErrMissingArgument)
		}
		resource := t.Resource
		if resource == "" {
			resource = "pod"
		}
		return Analyze(ns, resource, t.Name), nil
	case KindGenerate:
		if strings.TrimSpace(t.Instructions) == "" {
			return "", fmt.Errorf("%w: instructions", ErrMissingArgument)
		}
		return t.Instructions, nil
	default:
		return "", fmt.Errorf("unknown task kind %q", t.Kind)
	}
}

// Execute wraps free-form instructions.
func Execute(instructions string) string {
	return "Here are the instructions: " + instructions
}

// Diagnose asks for a diagnosis of a pod.
func Diagnose(namespace, pod string) string {
	return fmt.Sprintf(diagnosePrompt, namespace, pod)
}

// Audit asks for a security audit of a pod.
func Audit(namespace, pod string) string {
	return fmt.Sprintf(auditPrompt, namespace, pod)
}

// Analyze asks for an analysis of any resource, starting from its YAML.
func Analyze(namespace, resource, name string) string {
	return fmt.Sprintf(analyzePrompt, namespace, resource, name)
}
