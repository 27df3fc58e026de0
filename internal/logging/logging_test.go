package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNewAppliesLevel(t *testing.T) {
	log := New(Config{
		Level:  "debug",
		Format: "json",
		File:   FileConfig{Path: "", MaxSizeMB: 0, MaxBackups: 0, MaxAgeDays: 0, Compress: false},
	})
	if log.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	log := New(Config{
		Level:  "chatty",
		Format: "text",
		File:   FileConfig{Path: "", MaxSizeMB: 0, MaxBackups: 0, MaxAgeDays: 0, Compress: false},
	})
	if log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info fallback, got %s", log.GetLevel())
	}
}
