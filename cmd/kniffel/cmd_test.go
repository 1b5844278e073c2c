package main

import (
	"bytes"
	"kniffel/internal/config"
	"strings"
	"testing"
)

func TestNewCmd_RejectsInvalidConfig(t *testing.T) {
	cmd := newCmd(&config.Config{})
	cmd.SetArgs([]string{"--port", "0"})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid port") {
		t.Errorf("Execute() = %v, want invalid port error", err)
	}
}

func TestNewCmd_ShellInheritsFlags(t *testing.T) {
	cmd := newCmd(&config.Config{})
	cmd.SetArgs([]string{"shell", "--log-level", "shouty"})
	cmd.SetOut(&bytes.Buffer{})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "log level") {
		t.Errorf("Execute() = %v, want log level error", err)
	}
}

func TestNewCmd_Version(t *testing.T) {
	cmd := newCmd(&config.Config{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() = %v", err)
	}
	if got := out.String(); got != "kniffel v"+releaseVersion+"\n" {
		t.Errorf("version output = %q", got)
	}
}
