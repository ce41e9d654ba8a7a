package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/vault-depositor/pkg/config"
	"github.com/speedrun-hq/vault-depositor/pkg/models"
	"github.com/speedrun-hq/vault-depositor/pkg/resume"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{" yes ", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"maybe\n", false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			got := confirm(strings.NewReader(tt.input), &out, "Continue?")
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "Continue? [y/N]: ", out.String())
		})
	}
}

func TestAccountFor(t *testing.T) {
	cfg := &config.Config{}

	_, err := accountFor(cfg, "")
	assert.Error(t, err)

	_, err = accountFor(cfg, "not-an-address")
	assert.Error(t, err)

	addr, err := accountFor(cfg, "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), addr)

	cfg.PrivateKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	addr, err = accountFor(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), addr)
}

func TestPrintRecords(t *testing.T) {
	var out bytes.Buffer
	printRecords(&out, nil)
	assert.Contains(t, out.String(), "No deposits found")

	out.Reset()
	printRecords(&out, []*models.TransactionState{{
		ID:               "tx-1",
		SourceChain:      1,
		DestinationChain: 8453,
		VaultID:          "usdc-base",
		FromAmount:       "1000000",
		Status:           models.StatusPending,
		CurrentStep:      models.StepBridging,
		BridgeTxHash:     "0x" + strings.Repeat("ab", 32),
		UpdatedAt:        time.Now(),
	}})
	s := out.String()
	assert.Contains(t, s, "tx-1")
	assert.Contains(t, s, "usdc-base")
	assert.Contains(t, s, "bridging")
	assert.Contains(t, s, "0xabababab...abab")
}

func TestPrintOutcomes(t *testing.T) {
	var out bytes.Buffer
	printOutcomes(&out, nil)
	assert.Contains(t, out.String(), "No pending deposits")

	out.Reset()
	printOutcomes(&out, []resume.Outcome{
		{TransactionID: "tx-1", State: resume.StateResumed},
		{TransactionID: "tx-2", State: resume.StateInFlight},
	})
	assert.Contains(t, out.String(), "tx-1: resumed")
	assert.Contains(t, out.String(), "tx-2: in_flight")
}
