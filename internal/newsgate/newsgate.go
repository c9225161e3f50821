// Package newsgate reads the allow/block verdict produced by the external
// news classifier. The core never classifies news itself: it only consumes
// the boolean per-side shape from a JSON document on disk, hot-reloaded
// when the classifier rewrites it.
package newsgate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"stratus/internal/logger"
	"stratus/internal/strategy"
)

const verdictSchema = `{
  "type": "object",
  "required": ["ok", "blocked_sides"],
  "properties": {
    "ok": {"type": "boolean"},
    "blocked_sides": {
      "type": "object",
      "required": ["long", "short"],
      "properties": {
        "long": {"type": "boolean"},
        "short": {"type": "boolean"}
      }
    },
    "reasons": {
      "type": "object",
      "properties": {
        "long": {"type": "array", "items": {"type": "string"}},
        "short": {"type": "array", "items": {"type": "string"}}
      }
    },
    "generated_at": {"type": "string"}
  }
}`

var compiledSchema = jsonschema.MustCompileString("verdict.schema.json", verdictSchema)

// Verdict is the parsed per-side block state.
type Verdict struct {
	OK           bool
	BlockedLong  bool
	BlockedShort bool
	ReasonsLong  []string
	ReasonsShort []string
	GeneratedAt  time.Time
	LoadedAt     time.Time
}

type Config struct {
	Path           string        `mapstructure:"path" yaml:"path"`
	BlockOnMissing bool          `mapstructure:"block_on_missing" yaml:"block_on_missing"`
	MaxAge         time.Duration `mapstructure:"max_age" yaml:"max_age"` // 0 = never stale
}

// FileGate watches a verdict file and serves the latest valid document.
type FileGate struct {
	cfg     Config
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu      sync.RWMutex
	verdict *Verdict
}

func NewFileGate(cfg Config) (*FileGate, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("newsgate path cannot be empty")
	}
	g := &FileGate{cfg: cfg, done: make(chan struct{})}
	if err := g.reload(); err != nil {
		logger.Warnf("newsgate: initial load failed: %v", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("newsgate watcher: %w", err)
	}
	// watch the directory: editors and the classifier replace the file
	// atomically, which unregisters a file-level watch
	if err := watcher.Add(filepath.Dir(cfg.Path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("newsgate watch %s: %w", filepath.Dir(cfg.Path), err)
	}
	g.watcher = watcher
	go g.watchLoop()
	return g, nil
}

func (g *FileGate) watchLoop() {
	base := filepath.Base(g.cfg.Path)
	for {
		select {
		case <-g.done:
			return
		case evt, ok := <-g.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(evt.Name) != base {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := g.reload(); err != nil {
				logger.Warnf("newsgate: reload failed: %v", err)
			}
		case err, ok := <-g.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("newsgate: watcher error: %v", err)
		}
	}
}

func (g *FileGate) reload() error {
	raw, err := os.ReadFile(g.cfg.Path)
	if err != nil {
		g.setVerdict(nil)
		return err
	}
	v, err := ParseVerdict(raw)
	if err != nil {
		g.setVerdict(nil)
		return err
	}
	g.setVerdict(v)
	logger.Debugf("newsgate: verdict loaded ok=%v long_blocked=%v short_blocked=%v",
		v.OK, v.BlockedLong, v.BlockedShort)
	return nil
}

// ParseVerdict validates the document against the embedded schema, then
// reads it leniently.
func ParseVerdict(raw []byte) (*Verdict, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("verdict is not valid JSON: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("verdict schema: %w", err)
	}
	body := string(raw)
	v := &Verdict{
		OK:           gjson.Get(body, "ok").Bool(),
		BlockedLong:  gjson.Get(body, "blocked_sides.long").Bool(),
		BlockedShort: gjson.Get(body, "blocked_sides.short").Bool(),
		LoadedAt:     time.Now(),
	}
	for _, r := range gjson.Get(body, "reasons.long").Array() {
		v.ReasonsLong = append(v.ReasonsLong, r.String())
	}
	for _, r := range gjson.Get(body, "reasons.short").Array() {
		v.ReasonsShort = append(v.ReasonsShort, r.String())
	}
	if ts := gjson.Get(body, "generated_at").String(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			v.GeneratedAt = parsed
		}
	}
	return v, nil
}

func (g *FileGate) setVerdict(v *Verdict) {
	g.mu.Lock()
	g.verdict = v
	g.mu.Unlock()
}

// Current returns the latest verdict, or nil when missing or stale.
func (g *FileGate) Current() *Verdict {
	g.mu.RLock()
	v := g.verdict
	g.mu.RUnlock()
	if v == nil {
		return nil
	}
	if g.cfg.MaxAge > 0 {
		ref := v.GeneratedAt
		if ref.IsZero() {
			ref = v.LoadedAt
		}
		if time.Since(ref) > g.cfg.MaxAge {
			return nil
		}
	}
	return v
}

// Blocked implements guard.NewsGate. A missing or stale verdict follows
// the configured fail direction; an overall not-ok verdict blocks both
// sides.
func (g *FileGate) Blocked(side strategy.Side) (bool, []string) {
	v := g.Current()
	if v == nil {
		if g.cfg.BlockOnMissing {
			return true, []string{"news verdict unavailable"}
		}
		return false, nil
	}
	if !v.OK {
		reasons := append(append([]string{}, v.ReasonsLong...), v.ReasonsShort...)
		if len(reasons) == 0 {
			reasons = []string{"news gate not ok"}
		}
		return true, reasons
	}
	switch side {
	case strategy.SideLong:
		return v.BlockedLong, v.ReasonsLong
	case strategy.SideShort:
		return v.BlockedShort, v.ReasonsShort
	default:
		return false, nil
	}
}

func (g *FileGate) Close() error {
	close(g.done)
	if g.watcher != nil {
		return g.watcher.Close()
	}
	return nil
}
