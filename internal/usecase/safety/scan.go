package safety

import (
	"bytes"
	"math"
	"regexp"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
)

// entropyWindow is the leading byte window sampled for Shannon entropy.
const entropyWindow = 4096

// entropyThreshold flags content as possibly encrypted or obfuscated.
// Random data approaches 8 bits/byte; compressed text usually stays below.
const entropyThreshold = 7.5

// malwareSignature is one fixed regex signature.
type malwareSignature struct {
	Name     string
	Severity domain.Severity
	Regex    *regexp.Regexp
}

var malwareSignatures = []malwareSignature{
	{
		Name:     "shell_injection",
		Severity: domain.SeverityHigh,
		Regex:    regexp.MustCompile(`(?i)(?:rm\s+-rf\s+[/~]|curl\s+[^|;]+\|\s*(?:ba|z)?sh|wget\s+[^|;]+\|\s*(?:ba|z)?sh)`),
	},
	{
		Name:     "remote_code_execution",
		Severity: domain.SeverityHigh,
		Regex:    regexp.MustCompile(`(?i)(?:child_process|os\.system\s*\(|subprocess\.(?:call|run|Popen)|eval\s*\(\s*atob|new\s+Function\s*\()`),
	},
	{
		Name:     "crypto_miner",
		Severity: domain.SeverityHigh,
		Regex:    regexp.MustCompile(`(?i)(?:coinhive|cryptonight|stratum\+tcp://|xmrig|minergate)`),
	},
}

// binaryMagic is one executable or script signature checked at fixed offsets.
type binaryMagic struct {
	Name   string
	Offset int
	Magic  []byte
}

var binaryMagics = []binaryMagic{
	{Name: "elf_executable", Offset: 0, Magic: []byte{0x7f, 'E', 'L', 'F'}},
	{Name: "pe_executable", Offset: 0, Magic: []byte{'M', 'Z'}},
	{Name: "macho_executable", Offset: 0, Magic: []byte{0xfe, 0xed, 0xfa, 0xce}},
	{Name: "macho_executable_64", Offset: 0, Magic: []byte{0xfe, 0xed, 0xfa, 0xcf}},
	{Name: "macho_executable_le", Offset: 0, Magic: []byte{0xcf, 0xfa, 0xed, 0xfe}},
	{Name: "script_shebang", Offset: 0, Magic: []byte{'#', '!'}},
}

// ScanFinding is one flagged item from a malware scan.
type ScanFinding struct {
	Check    string          `json:"check"`
	Detail   string          `json:"detail"`
	Severity domain.Severity `json:"severity"`
}

// ScanResult aggregates the three independent malware checks.
type ScanResult struct {
	Findings []ScanFinding `json:"findings,omitempty"`
	Entropy  float64       `json:"entropy"`
}

// Clean reports whether no check flagged anything.
func (r *ScanResult) Clean() bool {
	return len(r.Findings) == 0
}

// ScanForMalware layers three independent checks over the content: fixed
// regex signatures, binary magic-number detection, and Shannon-entropy
// sampling of the leading window.
func (e *Engine) ScanForMalware(data []byte) *ScanResult {
	result := &ScanResult{}

	for _, sig := range malwareSignatures {
		if loc := sig.Regex.FindIndex(data); loc != nil {
			result.Findings = append(result.Findings, ScanFinding{
				Check:    sig.Name,
				Detail:   "signature matched",
				Severity: sig.Severity,
			})
		}
	}

	for _, magic := range binaryMagics {
		end := magic.Offset + len(magic.Magic)
		if len(data) >= end && bytes.Equal(data[magic.Offset:end], magic.Magic) {
			result.Findings = append(result.Findings, ScanFinding{
				Check:    magic.Name,
				Detail:   "binary magic number detected",
				Severity: domain.SeverityHigh,
			})
			break
		}
	}

	result.Entropy = shannonEntropy(data, entropyWindow)
	if result.Entropy > entropyThreshold {
		result.Findings = append(result.Findings, ScanFinding{
			Check:    "high_entropy",
			Detail:   "content may be encrypted or obfuscated",
			Severity: domain.SeverityMedium,
		})
	}

	return result
}

// DetectMaliciousContent scans data and returns a security error when any
// high-severity finding exists.
func (e *Engine) DetectMaliciousContent(data []byte) error {
	result := e.ScanForMalware(data)
	for _, f := range result.Findings {
		if f.Severity == domain.SeverityHigh {
			return domain.NewError(domain.CodeMaliciousContent,
				"malicious content detected: "+f.Check)
		}
	}
	return nil
}

// shannonEntropy computes bits-per-byte entropy over the first window bytes.
func shannonEntropy(data []byte, window int) float64 {
	if len(data) == 0 {
		return 0
	}
	if len(data) > window {
		data = data[:window]
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	total := float64(len(data))
	entropy := 0.0
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
