package loghandler

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"
	"testing"
)

var stamp = regexp.MustCompile(`^\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2} `)

func TestCompactHandler_TagAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewCompactHandler(&buf, slog.LevelInfo))

	log.Info("room created", "tag", "roomsync", "code", "ABC123")

	line := buf.String()
	if !stamp.MatchString(line) {
		t.Fatalf("missing timestamp: %q", line)
	}
	if got := stamp.ReplaceAllString(line, ""); got != "[roomsync] room created code=ABC123\n" {
		t.Errorf("unexpected line %q", got)
	}
}

func TestCompactHandler_WithAttrsKeepsTag(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewCompactHandler(&buf, slog.LevelInfo)).With("tag", "session", "playerID", "p1")

	log.Warn("publish failed", "err", "boom")

	got := stamp.ReplaceAllString(buf.String(), "")
	if got != "WARN [session] publish failed playerID=p1 err=boom\n" {
		t.Errorf("unexpected line %q", got)
	}
}

func TestCompactHandler_Level(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewCompactHandler(&buf, slog.LevelWarn))

	log.Info("hidden")
	log.Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("records below level were written: %q", buf.String())
	}
	log.Error("shown")
	if !strings.Contains(buf.String(), "ERROR shown") {
		t.Errorf("error record missing: %q", buf.String())
	}
}

func TestCompactHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewCompactHandler(&buf, slog.LevelInfo)).WithGroup("room")

	log.Info("state", "phase", "voting", slog.Group("votes", "cast", 2))

	got := stamp.ReplaceAllString(buf.String(), "")
	if got != "state room.phase=voting room.votes.cast=2\n" {
		t.Errorf("unexpected line %q", got)
	}
}
