package main

import (
	"testing"
)

func TestCheckPort(t *testing.T) {
	for _, v := range []int{1, 80, 65535} {
		if err := checkPort("p", v); err != nil {
			t.Errorf("checkPort(%d) = %v, want nil", v, err)
		}
	}
	for _, v := range []int{0, -1, 65536, 100000} {
		if err := checkPort("p", v); err == nil {
			t.Errorf("checkPort(%d) = nil, want error", v)
		}
	}
}

func TestCheckPositiveFloat(t *testing.T) {
	if err := checkPositiveFloat("x", 0.1); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := checkPositiveFloat("x", 0); err == nil {
		t.Error("expected error for zero value")
	}
	if err := checkPositiveFloat("x", -1); err == nil {
		t.Error("expected error for negative value")
	}
}

func TestCheckPositiveInt(t *testing.T) {
	if err := checkPositiveInt("x", 1); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := checkPositiveInt("x", 0); err == nil {
		t.Error("expected error for zero value")
	}
}

func TestDurationFromSeconds(t *testing.T) {
	d := durationFromSeconds(1.5)
	if d.Seconds() != 1.5 {
		t.Errorf("durationFromSeconds(1.5) = %v, want 1.5s", d)
	}
}

func TestRootCommandRequiresTwoArgs(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"only-one-arg"})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err == nil {
		t.Error("expected an error when only one positional arg is given")
	}
}

func TestRootCommandDefaults(t *testing.T) {
	cmd := newRootCommand()
	bindPort, err := cmd.Flags().GetInt("bind-port")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bindPort != 57800 {
		t.Errorf("default bind-port = %d, want 57800", bindPort)
	}
}
