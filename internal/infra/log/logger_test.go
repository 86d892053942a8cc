package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	prod := newLogger(&buf, "prod")
	prod.Debug().Msg("скрыто")
	if buf.Len() != 0 {
		t.Fatalf("debug не должен писаться в prod: %s", buf.String())
	}
	dev := Component(newLogger(&buf, "dev"), "api")
	dev.Debug().Msg("видно")
	out := buf.String()
	if !strings.Contains(out, `"component":"api"`) || !strings.Contains(out, "видно") {
		t.Fatalf("ожидали debug-сообщение с компонентом, получили %s", out)
	}
}
