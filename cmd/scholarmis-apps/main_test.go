package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"scholarmis-apps/core/installer"
	"scholarmis-apps/core/store"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashTokenCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"hash-token", "s3cret"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })
	require.NoError(t, rootCmd.Execute())
	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))
}

func TestPrintReportsFailsOnFailedStep(t *testing.T) {
	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)
	reports := []*installer.Report{
		{App: "scholarmis.exams", RunID: "r1", Steps: []installer.StepResult{{Name: installer.StepRegisterApp, Status: store.StepStatusOK}}},
		{App: "scholarmis.hr", RunID: "r2", Steps: []installer.StepResult{{Name: installer.StepTasks, Status: store.StepStatusFailed, Message: "bad", Err: errors.New("bad")}}},
	}
	err := printReports(cmd, reports)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Contains(t, out.String(), "scholarmis.exams: ok")
	assert.Contains(t, out.String(), "scholarmis.hr: failed")
}
