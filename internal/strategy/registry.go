package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"marlin/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Definition 描述一份策略参数模板：kind 指向内置策略实现，
// params 在加载时用 schema 校验。
type Definition struct {
	ID          string         `mapstructure:"id" yaml:"id"`
	Kind        string         `mapstructure:"kind" yaml:"kind"`
	Description string         `mapstructure:"description" yaml:"description"`
	Timeframe   string         `mapstructure:"timeframe" yaml:"timeframe"`
	Params      map[string]any `mapstructure:"params" yaml:"params"`
	Schema      map[string]any `mapstructure:"schema" yaml:"schema"`

	schemaCompiled *jsonschema.Schema
}

// FileConfig 映射 strategies 配置文件。
type FileConfig struct {
	Strategies map[string]Definition `mapstructure:"strategies" yaml:"strategies"`
}

// Snapshot 是某一时刻的模板集合。
type Snapshot struct {
	Version     int64
	LoadedAt    time.Time
	Definitions map[string]Definition
}

// ChangeListener 在 registry 重载后触发。
type ChangeListener func(Snapshot)

// Registry 管理策略参数模板并监听文件变更。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取配置文件并监听更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy config failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("strategy registry reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前模板集的拷贝。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Definition 返回指定 ID 的模板。
func (r *Registry) Definition(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.snapshot.Definitions[strings.TrimSpace(id)]
	return def, ok
}

// OnChange 注册重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Build 按模板实例化策略并注入校验过的参数。
func (r *Registry) Build(id string) (Strategy, error) {
	def, ok := r.Definition(id)
	if !ok {
		return nil, fmt.Errorf("unknown strategy definition: %s", id)
	}
	if err := def.ValidateParams(); err != nil {
		return nil, err
	}
	var s Strategy
	switch def.Kind {
	case "ema_cross":
		s = NewEMACross(def.Timeframe)
	case "rsi_reversal":
		s = NewRSIReversal(def.Timeframe)
	default:
		return nil, fmt.Errorf("unknown strategy kind: %s", def.Kind)
	}
	if err := s.Init(def.Params); err != nil {
		return nil, fmt.Errorf("init strategy %s failed: %w", id, err)
	}
	return s, nil
}

// ValidateParams 用编译好的 schema 校验 params。
func (d Definition) ValidateParams() error {
	if d.schemaCompiled == nil {
		return nil
	}
	// jsonschema 要求标准 JSON 类型，先过一遍序列化。
	raw, err := json.Marshal(d.Params)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := d.schemaCompiled.Validate(doc); err != nil {
		return fmt.Errorf("strategy %s params invalid: %w", d.ID, err)
	}
	return nil
}

func (r *Registry) reload() error {
	cfg, err := readStrategyFile(r.path)
	if err != nil {
		return err
	}
	defs := make(map[string]Definition)
	for name, def := range cfg.Strategies {
		norm, err := normalizeDefinition(name, def)
		if err != nil {
			logger.Errorf("strategy definition %s skipped: %v", name, err)
			continue
		}
		defs[norm.ID] = norm
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:     r.snapshot.Version + 1,
		LoadedAt:    time.Now(),
		Definitions: defs,
	}
	r.mu.Unlock()
	logger.Infof("strategy registry loaded %d definitions from %s", len(defs), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func normalizeDefinition(name string, def Definition) (Definition, error) {
	def.ID = strings.TrimSpace(def.ID)
	if def.ID == "" {
		def.ID = strings.TrimSpace(name)
	}
	def.Kind = strings.TrimSpace(def.Kind)
	if def.Kind == "" {
		return def, fmt.Errorf("kind is required")
	}
	if def.Timeframe == "" {
		return def, fmt.Errorf("timeframe is required")
	}
	if len(def.Schema) > 0 {
		compiled, err := compileSchema(def.Schema)
		if err != nil {
			return def, fmt.Errorf("schema compile failed: %w", err)
		}
		def.schemaCompiled = compiled
	}
	return def, nil
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:     src.Version,
		LoadedAt:    src.LoadedAt,
		Definitions: make(map[string]Definition, len(src.Definitions)),
	}
	for id, def := range src.Definitions {
		dst.Definitions[id] = def
	}
	return dst
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func readStrategyFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read strategy config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse strategy config failed: %w", err)
	}
	return cfg, nil
}
