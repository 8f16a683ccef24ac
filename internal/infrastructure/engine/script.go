package engine

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// ScriptLog appends the statements executed against the target to a
// provisioning script. Secrets are redacted by the caller. A nil ScriptLog
// discards everything.
type ScriptLog struct {
	mu      sync.Mutex
	path    string
	comment string
}

// NewScriptLog truncates path and writes the script header. comment is the
// line-comment prefix of the script language.
func NewScriptLog(path, comment string) (*ScriptLog, error) {
	header := fmt.Sprintf("%s generated by dbmigrate at %s\n", comment, time.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(header), 0o600); err != nil {
		return nil, fmt.Errorf("failed to create provisioning script: %w", err)
	}
	return &ScriptLog{path: path, comment: comment}, nil
}

// Path returns the script location.
func (l *ScriptLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes the statements of one service.
func (l *ScriptLog) Append(service, text string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s service: %s\n", l.comment, service)
	b.WriteString(text)
	if !strings.HasSuffix(text, "\n") {
		b.WriteString("\n")
	}
	_, err = f.WriteString(b.String())
	return err
}
