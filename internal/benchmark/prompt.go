package benchmark

import (
	"fmt"
	"slices"
	"strings"

	"llm-stream-bench/internal/tokens"
	"llm-stream-bench/internal/types"
)

// ContextPreset names a prompt context of a target size
type ContextPreset struct {
	Name   string
	Tokens int
}

// ContextPresets lists the supported context sizes in ascending order
var ContextPresets = []ContextPreset{
	{"13t", 13},
	{"1k", 1000},
	{"2k", 2000},
	{"4k", 4000},
	{"8k", 8000},
	{"16k", 16000},
	{"32k", 32000},
	{"64k", 64000},
	{"92k", 92000},
	{"128k", 128000},
}

// shortInstruction is the whole prompt of the 13t preset
const shortInstruction = "Please repeat this sentence exactly: this is a short test."

// Questions are appended to the shared context; request i asks Questions[i%len]
var Questions = []string{
	"Summarize the main points of the text above.",
	"Based on the information provided, analyze its key concepts.",
	"Explain the three most important points in the text above.",
	"According to the context, what are the main challenges this field faces?",
	"Briefly summarize the core idea of the text above.",
	"Based on the information provided, how is this topic likely to develop?",
	"Analyze the strengths and weaknesses of the technologies or ideas mentioned above.",
	"According to the context, what impact does this field have on society?",
}

// fillerParagraphs are cycled to build contexts of the requested size
var fillerParagraphs = []string{
	"Artificial intelligence is a branch of computer science concerned with building machines " +
		"that perform tasks which normally require human intelligence, such as learning, reasoning, " +
		"problem solving, perception and language understanding. Machine learning lets systems improve " +
		"from data without explicit programming, and deep learning stacks neural network layers to " +
		"model complex patterns. These techniques now appear in medicine, finance, transport and " +
		"entertainment, and they raise open questions about employment, privacy and ethics.",
	"Climate change describes long-term shifts in the climate system driven largely by greenhouse " +
		"gas emissions from human activity. Since the industrial revolution atmospheric carbon dioxide " +
		"has risen sharply because of fossil fuel combustion, deforestation and industrial processes. " +
		"The consequences include rising sea levels, more frequent extreme weather and stress on " +
		"ecosystems and agriculture. Mitigation depends on renewable energy, efficiency gains and " +
		"carbon capture, while adaptation requires resilient infrastructure and emergency planning.",
	"Quantum computing processes information with quantum mechanical effects. Where a classical bit " +
		"is either zero or one, a qubit can exist in a superposition of both, and entangled qubits " +
		"remain correlated even when physically separated. Algorithms such as Shor's factoring method " +
		"and Grover's search show the potential speedups, but today's noisy intermediate-scale devices " +
		"suffer from decoherence, high error rates and the need for extremely low temperatures.",
	"Distributed ledgers link blocks of records with cryptographic hashes so that history cannot be " +
		"rewritten without detection. Consensus protocols such as proof of work and proof of stake let " +
		"independent nodes agree on a single state. Smart contracts execute agreed logic automatically " +
		"when conditions are met, enabling applications in finance, supply chain tracking and digital " +
		"identity, although scalability, energy use and regulation remain significant concerns.",
	"Neuroscience studies the structure and function of the nervous system from molecules to " +
		"behaviour. The human brain contains tens of billions of neurons joined by trillions of " +
		"synapses, and its plasticity allows experience to reshape those connections. Imaging methods " +
		"such as functional magnetic resonance let researchers observe the living brain, and the field " +
		"informs both the treatment of neurological disease and the design of artificial neural networks.",
}

// PresetTokens returns the target token count of a named preset
func PresetTokens(name string) (int, bool) {
	for _, p := range ContextPresets {
		if p.Name == name {
			return p.Tokens, true
		}
	}
	return 0, false
}

// PresetNames returns the preset names in ascending size order
func PresetNames() []string {
	names := make([]string, 0, len(ContextPresets))
	for _, p := range ContextPresets {
		names = append(names, p.Name)
	}
	return names
}

// BuildContext returns the shared context and question list for a preset.
// The 13t preset is a fixed short instruction with no question.
func BuildContext(name string) (string, []string, error) {
	target, ok := PresetTokens(name)
	if !ok {
		return "", nil, fmt.Errorf("%w: unknown context size %q (valid: %s)", types.ErrInvalidConfig, name, strings.Join(PresetNames(), ", "))
	}
	if name == "13t" {
		return shortInstruction, nil, nil
	}
	return fillContext(target), slices.Clone(Questions), nil
}

// fillContext cycles the filler paragraphs until the estimate reaches target
func fillContext(target int) string {
	var sb strings.Builder
	sb.Grow(tokens.CharsFor(target) + 1024)

	count := 0
	for i := 0; count < target; i++ {
		para := fillerParagraphs[i%len(fillerParagraphs)]
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(para)
		count += tokens.Estimate(para)
	}
	return sb.String()
}

// GeneratePrompt generates a prompt of approximately the specified size
// in characters from a template, for runs without a context preset
func GeneratePrompt(template string, size int) string {
	if template == "" {
		template = "Please write a detailed explanation about artificial intelligence, " +
			"covering its history, applications, and future prospects. " +
			"Make your response approximately {size} characters long."
	}

	prompt := strings.ReplaceAll(template, "{size}", fmt.Sprintf("%d", size))
	if size <= 0 {
		return prompt
	}
	if len(prompt) >= size {
		return prompt[:size]
	}

	padding := strings.Repeat("Please provide more detailed information. ", (size-len(prompt))/42+1)
	prompt = prompt + " " + padding

	return prompt[:size]
}
