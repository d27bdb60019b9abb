// Package loader loads strategy profiles from a YAML file, validates them
// against a schema, and watches the file for hot reloads. A broken edit
// keeps the last good snapshot in place.
package loader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"trawler/internal/logger"
	"trawler/internal/strategy"
)

// Profile is one named strategy parameterisation.
type Profile struct {
	Name     string         `yaml:"-"`
	Strategy string         `yaml:"strategy"`
	Default  bool           `yaml:"default"`
	Scalping ScalpingParams `yaml:"scalping"`
	Pullback PullbackParams `yaml:"pullback"`
}

type ScalpingParams struct {
	EMAFast         int     `yaml:"ema_fast"`
	EMASlow         int     `yaml:"ema_slow"`
	StochK          int     `yaml:"stoch_k"`
	StochD          int     `yaml:"stoch_d"`
	StochSmooth     int     `yaml:"stoch_smooth"`
	ATRPeriod       int     `yaml:"atr_period"`
	StochOversold   float64 `yaml:"stoch_oversold"`
	StochOverbought float64 `yaml:"stoch_overbought"`
	StopATRMult     float64 `yaml:"stop_atr_mult"`
}

type PullbackParams struct {
	EMAFast       int     `yaml:"ema_fast"`
	EMASlow       int     `yaml:"ema_slow"`
	EMATrend      int     `yaml:"ema_trend"`
	ATRPeriod     int     `yaml:"atr_period"`
	ADXPeriod     int     `yaml:"adx_period"`
	RSIPeriod     int     `yaml:"rsi_period"`
	ADXThreshold  float64 `yaml:"adx_threshold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	StopATRMult   float64 `yaml:"stop_atr_mult"`
	SwingLookback int     `yaml:"swing_lookback"`
}

// Spec converts the profile into the strategy factory's input.
func (p Profile) Spec() strategy.Spec {
	return strategy.Spec{
		Name: p.Strategy,
		Scalping: strategy.ScalpingParams{
			EMAFast:         p.Scalping.EMAFast,
			EMASlow:         p.Scalping.EMASlow,
			StochK:          p.Scalping.StochK,
			StochD:          p.Scalping.StochD,
			StochSmooth:     p.Scalping.StochSmooth,
			ATRPeriod:       p.Scalping.ATRPeriod,
			StochOversold:   p.Scalping.StochOversold,
			StochOverbought: p.Scalping.StochOverbought,
			StopATRMult:     p.Scalping.StopATRMult,
		},
		Pullback: strategy.PullbackParams{
			EMAFast:       p.Pullback.EMAFast,
			EMASlow:       p.Pullback.EMASlow,
			EMATrend:      p.Pullback.EMATrend,
			ATRPeriod:     p.Pullback.ATRPeriod,
			ADXPeriod:     p.Pullback.ADXPeriod,
			RSIPeriod:     p.Pullback.RSIPeriod,
			ADXThreshold:  p.Pullback.ADXThreshold,
			RSIOverbought: p.Pullback.RSIOverbought,
			RSIOversold:   p.Pullback.RSIOversold,
			StopATRMult:   p.Pullback.StopATRMult,
			SwingLookback: p.Pullback.SwingLookback,
		},
	}
}

type fileConfig struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// Snapshot is a read-only view of the loaded profiles.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]Profile
}

// DefaultProfile returns the profile marked default, or the only one.
func (s Snapshot) DefaultProfile() (Profile, bool) {
	for _, p := range s.Profiles {
		if p.Default {
			return p, true
		}
	}
	if len(s.Profiles) == 1 {
		for _, p := range s.Profiles {
			return p, true
		}
	}
	return Profile{}, false
}

// ChangeListener is invoked after each successful reload.
type ChangeListener func(Snapshot)

const profileSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["profiles"],
  "properties": {
    "profiles": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": {
        "type": "object",
        "required": ["strategy"],
        "properties": {
          "strategy": {"enum": ["scalping", "pullback"]},
          "default": {"type": "boolean"},
          "scalping": {
            "type": "object",
            "properties": {
              "ema_fast": {"type": "integer", "minimum": 1},
              "ema_slow": {"type": "integer", "minimum": 1},
              "stoch_k": {"type": "integer", "minimum": 1},
              "stoch_d": {"type": "integer", "minimum": 1},
              "stoch_smooth": {"type": "integer", "minimum": 1},
              "atr_period": {"type": "integer", "minimum": 1},
              "stoch_oversold": {"type": "number", "minimum": 0, "maximum": 100},
              "stoch_overbought": {"type": "number", "minimum": 0, "maximum": 100},
              "stop_atr_mult": {"type": "number", "exclusiveMinimum": 0}
            },
            "additionalProperties": false
          },
          "pullback": {
            "type": "object",
            "properties": {
              "ema_fast": {"type": "integer", "minimum": 1},
              "ema_slow": {"type": "integer", "minimum": 1},
              "ema_trend": {"type": "integer", "minimum": 1},
              "atr_period": {"type": "integer", "minimum": 1},
              "adx_period": {"type": "integer", "minimum": 1},
              "rsi_period": {"type": "integer", "minimum": 1},
              "adx_threshold": {"type": "number", "minimum": 0, "maximum": 100},
              "rsi_overbought": {"type": "number", "minimum": 0, "maximum": 100},
              "rsi_oversold": {"type": "number", "minimum": 0, "maximum": 100},
              "stop_atr_mult": {"type": "number", "exclusiveMinimum": 0},
              "swing_lookback": {"type": "integer", "minimum": 1}
            },
            "additionalProperties": false
          }
        },
        "additionalProperties": false
      }
    }
  }
}`

// ProfileLoader loads profiles and pushes updated snapshots to listeners.
type ProfileLoader struct {
	path   string
	schema *jsonschema.Schema

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
	watcher   *fsnotify.Watcher
}

// NewProfileLoader reads the profile file and starts watching its
// directory. Watching the directory instead of the file survives the
// rename-on-save pattern most editors use.
func NewProfileLoader(path string) (*ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader requires path")
	}
	schema, err := jsonschema.CompileString("profiles.schema.json", profileSchema)
	if err != nil {
		return nil, fmt.Errorf("compile profile schema: %w", err)
	}
	l := &ProfileLoader{path: path, schema: schema}
	if err := l.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("profile watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	l.watcher = watcher
	go l.watch()
	return l, nil
}

func (l *ProfileLoader) watch() {
	base := filepath.Base(l.path)
	for {
		select {
		case evt, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(evt.Name) != base {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			if err := l.reload(); err != nil {
				logger.Errorf("profile reload failed (%s): %v", evt.Name, err)
				continue
			}
			l.notifyListeners()
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("profile watcher: %v", err)
		}
	}
}

// Close stops the file watcher.
func (l *ProfileLoader) Close() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

// Snapshot returns the current profiles.
func (l *ProfileLoader) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe registers a listener and immediately delivers the current
// snapshot to it.
func (l *ProfileLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go safeNotify(fn, snap)
}

func (l *ProfileLoader) notifyListeners() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		go safeNotify(fn, snap)
	}
}

func safeNotify(fn ChangeListener, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("profile listener panic: %v", r)
		}
	}()
	fn(snap)
}

func (l *ProfileLoader) reload() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read profile config failed: %w", err)
	}

	// Schema validation works on the generic YAML document; struct
	// decoding follows only if it passes.
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse profile config failed: %w", err)
	}
	if err := l.schema.Validate(normalizeYAML(doc)); err != nil {
		return fmt.Errorf("profile config invalid: %w", err)
	}

	var fileCfg fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		return fmt.Errorf("decode profile config failed: %w", err)
	}

	profiles := make(map[string]Profile, len(fileCfg.Profiles))
	defaults := 0
	for name, p := range fileCfg.Profiles {
		p.Name = name
		if p.Default {
			defaults++
		}
		profiles[name] = p
	}
	if defaults > 1 {
		return fmt.Errorf("profile config invalid: %d profiles marked default", defaults)
	}

	l.mu.Lock()
	l.snapshot = Snapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: profiles,
	}
	l.mu.Unlock()
	logger.Infof("profile loader: %d profiles from %s", len(profiles), filepath.Base(l.path))
	return nil
}

// normalizeYAML converts yaml.v3 map[string]any trees into the plain
// JSON-ish shape the schema validator expects.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{Version: src.Version, LoadedAt: src.LoadedAt, Profiles: make(map[string]Profile, len(src.Profiles))}
	for name, p := range src.Profiles {
		dst.Profiles[name] = p
	}
	return dst
}
