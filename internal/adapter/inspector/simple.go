package inspector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/thushan/oxide/internal/core/domain"
	"github.com/thushan/oxide/internal/core/ports"
	"github.com/thushan/oxide/internal/logger"
)

// Entry is a single buffered-payload dump, one per connection's initial
// client segment, written when detailed connection records are enabled.
type Entry struct {
	Timestamp string          `json:"ts"`
	Client    string          `json:"client"`
	Server    string          `json:"server,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// Simple dumps a connection's buffered first client segment to disk as a
// JSON line, keyed by client tuple. It exists for operator debugging only;
// DetailedRecords must be explicitly enabled since it writes raw payload
// bytes.
type Simple struct {
	logger    *logger.StyledLogger
	outputDir string
	warnOnce  sync.Once
	mu        sync.Mutex
	enabled   bool
}

const maxKeyLength = 128

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

func NewSimple(enabled bool, outputDir string, log *logger.StyledLogger) *Simple {
	return &Simple{
		enabled:   enabled,
		outputDir: outputDir,
		logger:    log,
	}
}

func (s *Simple) Name() string { return "detailed-record-dump" }

// Inspect writes the connection's buffered payload to disk, keyed by its
// client tuple.
func (s *Simple) Inspect(conn *domain.Connection, payload []byte) error {
	if !s.enabled {
		return nil
	}
	s.logSecurityWarning()

	entry := Entry{
		Timestamp: time.Now().Format(time.RFC3339),
		Client:    conn.ClientKey.String(),
		Server:    conn.Server.Tag,
		Payload:   json.RawMessage(marshalOpaque(payload)),
	}

	return s.writeEntry(conn.ClientKey.String(), entry)
}

func marshalOpaque(payload []byte) []byte {
	encoded, err := json.Marshal(string(payload))
	if err != nil {
		return []byte(`""`)
	}
	return encoded
}

func (s *Simple) logSecurityWarning() {
	s.warnOnce.Do(func() {
		if s.logger != nil {
			s.logger.Warn("detailed connection records enabled, payload bytes are written to disk - do not use in production",
				"output_directory", s.outputDir)
		}
	})
}

// sanitiseKey turns a client-tuple string into a safe filename component,
// rejecting anything that would escape outputDir after Clean/Join.
func sanitiseKey(key, outputDir string) (string, error) {
	if key == "" {
		return "default", nil
	}
	safe := unsafeFileChars.ReplaceAllString(key, "_")
	if len(safe) > maxKeyLength {
		safe = safe[:maxKeyLength]
	}

	testPath := filepath.Join(outputDir, "2006-01-02", safe+".jsonl")
	absTestPath, err := filepath.Abs(testPath)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	absOutputDir, err := filepath.Abs(outputDir)
	if err != nil {
		return "", fmt.Errorf("resolve output directory: %w", err)
	}
	if !strings.HasPrefix(filepath.Clean(absTestPath), filepath.Clean(absOutputDir)) {
		return "", fmt.Errorf("sanitised key would escape output directory")
	}
	return safe, nil
}

func (s *Simple) writeEntry(key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sanitised, err := sanitiseKey(key, s.outputDir)
	if err != nil {
		sanitised = "default"
	}

	today := time.Now().Format("2006-01-02")
	dirPath := filepath.Join(s.outputDir, today)

	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return fmt.Errorf("create inspector dir: %w", err)
	}

	filePath := filepath.Join(dirPath, sanitised+".jsonl")
	f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open inspector file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(entry); err != nil {
		return fmt.Errorf("write inspector entry: %w", err)
	}
	return nil
}

func (s *Simple) Enabled() bool { return s.enabled }

var _ ports.PayloadInspector = (*Simple)(nil)
