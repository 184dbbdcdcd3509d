package promptbuild

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const auditDateLayout = "2006-01-02"

// auditMu serializes appends and pruning across builders sharing a dir.
var auditMu sync.Mutex

// auditRecord is one line of the daily prompt audit file.
type auditRecord struct {
	Timestamp   string   `json:"timestamp"`
	Lens        string   `json:"lens"`
	Digest      string   `json:"prompt_digest"`
	Sections    []string `json:"sections"`
	Vars        []string `json:"vars,omitempty"`
	PromptChars int      `json:"prompt_chars"`
	Prompt      string   `json:"prompt"`
}

// auditLog appends prompts to <dir>/<prefix>-YYYY-MM-DD.jsonl and drops
// files older than the retention window.
type auditLog struct {
	dir       string
	prefix    string
	retention int
}

func (b *Builder) auditLog() *auditLog {
	prefix := strings.TrimSpace(b.cfg.AuditFilePrefix)
	if prefix == "" {
		prefix = "prompts"
	}
	return &auditLog{
		dir:       b.resolvePath(b.cfg.AuditDir),
		prefix:    prefix,
		retention: b.cfg.AuditRetentionDays,
	}
}

func (b *Builder) writeAuditRecord(req BuildRequest, prompt string, sections []section) error {
	if !b.cfg.AuditEnabled {
		return nil
	}

	now := time.Now()
	rec := auditRecord{
		Timestamp:   now.Format(time.RFC3339),
		Lens:        req.Lens,
		Digest:      promptDigest(req.Lens, prompt),
		Sections:    sectionTitles(sections),
		Vars:        varNames(req.Vars),
		PromptChars: len([]rune(prompt)),
		Prompt:      prompt,
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	log := b.auditLog()
	if err := log.append(rec, now); err != nil {
		return err
	}
	return log.prune(now)
}

// CleanupOldAuditFiles removes audit files past the retention window.
func (b *Builder) CleanupOldAuditFiles() error {
	if !b.cfg.AuditEnabled {
		return nil
	}
	auditMu.Lock()
	defer auditMu.Unlock()
	return b.auditLog().prune(time.Now())
}

func (l *auditLog) fileFor(day time.Time) string {
	return filepath.Join(l.dir, fmt.Sprintf("%s-%s.jsonl", l.prefix, day.Format(auditDateLayout)))
}

func (l *auditLog) append(rec auditRecord, now time.Time) error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("failed to create audit dir: %w", err)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	f, err := os.OpenFile(l.fileFor(now), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit file: %w", err)
	}
	return nil
}

// prune deletes audit files older than the retention window. Files are dated
// by name; a name that does not parse falls back to its modification time.
func (l *auditLog) prune(now time.Time) error {
	if l.retention <= 0 {
		return nil
	}
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to list audit dir: %w", err)
	}

	cutoff := now.AddDate(0, 0, -l.retention)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, l.prefix+"-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		expired, err := l.expired(entry, cutoff)
		if err != nil {
			return err
		}
		if !expired {
			continue
		}
		path := filepath.Join(l.dir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove audit file %s: %w", path, err)
		}
	}
	return nil
}

func (l *auditLog) expired(entry os.DirEntry, cutoff time.Time) (bool, error) {
	raw := strings.TrimSuffix(strings.TrimPrefix(entry.Name(), l.prefix+"-"), ".jsonl")
	if day, err := time.Parse(auditDateLayout, raw); err == nil {
		y, m, d := cutoff.Date()
		return day.Before(time.Date(y, m, d, 0, 0, 0, 0, cutoff.Location())), nil
	}
	info, err := entry.Info()
	if err != nil {
		return false, fmt.Errorf("failed to stat audit file %s: %w", entry.Name(), err)
	}
	return info.ModTime().Before(cutoff), nil
}

func sectionTitles(sections []section) []string {
	titles := make([]string, 0, len(sections))
	for _, s := range sections {
		if title := strings.TrimSpace(s.title); title != "" {
			titles = append(titles, title)
		}
	}
	return titles
}

func varNames(vars map[string]string) []string {
	if len(vars) == 0 {
		return nil
	}
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// promptDigest identifies a lens prompt so identical requests can be spotted
// across audit files.
func promptDigest(lens, prompt string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(lens) + "\x00" + prompt))
	return hex.EncodeToString(sum[:])
}
