package config

import "testing"

func validServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:              ":4202",
		SenderRatePerSec:  500,
		SenderBurst:       100,
		CPUPauseThreshold: 85,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validServerConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected a valid config to pass, got %v", err)
	}
}

func TestValidateRejectsEmptyAddr(t *testing.T) {
	cfg := validServerConfig()
	cfg.Addr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for empty Addr")
	}
}

func TestValidateRejectsNonPositiveSenderRate(t *testing.T) {
	cfg := validServerConfig()
	cfg.SenderRatePerSec = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for SenderRatePerSec <= 0")
	}
}

func TestValidateRejectsOutOfRangeCPUThreshold(t *testing.T) {
	cfg := validServerConfig()
	cfg.CPUPauseThreshold = 150
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for CPUPauseThreshold > 100")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := validServerConfig()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for an unrecognized LogLevel")
	}
}

func TestValidateRequiresAuditTopicAndBrokersTogether(t *testing.T) {
	cfg := validServerConfig()
	cfg.AuditTopic = "lockd.events"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error when AuditTopic is set without AuditBrokers")
	}

	cfg.AuditBrokers = "localhost:9092"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error once both AuditTopic and AuditBrokers are set, got %v", err)
	}
}
