package config

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/cadencehq/cadence/internal/logx"
)

// RuleOverride tunes one named catalog rule for a tenant.
type RuleOverride struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	Priority string `yaml:"priority,omitempty"`
}

// TenantOverrides maps rule name -> override for one tenant.
type TenantOverrides map[string]RuleOverride

type overridesFile struct {
	Tenants map[string]TenantOverrides `yaml:"tenants"`
}

// RuleOverrides holds per-tenant rule catalog overrides, hot-reloaded when
// the backing YAML file changes.
type RuleOverrides struct {
	mu      sync.RWMutex
	tenants map[string]TenantOverrides
	watcher *fsnotify.Watcher
}

// LoadRuleOverrides reads the overrides file; an empty path yields an empty,
// non-watching instance.
func LoadRuleOverrides(path string) (*RuleOverrides, error) {
	ro := &RuleOverrides{tenants: map[string]TenantOverrides{}}
	if path == "" {
		return ro, nil
	}
	if err := ro.reload(path); err != nil {
		return nil, err
	}
	return ro, nil
}

// Watch reloads the overrides whenever the file is rewritten. Call Close to
// stop watching.
func (ro *RuleOverrides) Watch(path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return err
	}
	ro.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if err := ro.reload(path); err != nil {
						logx.Error("rule_overrides_reload", err, map[string]any{"path": path})
					} else {
						logx.Event("rule_overrides_reloaded", map[string]any{"path": path})
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logx.Error("rule_overrides_watch", err, nil)
			}
		}
	}()
	return nil
}

// Close stops the file watcher if one is running.
func (ro *RuleOverrides) Close() error {
	if ro.watcher != nil {
		return ro.watcher.Close()
	}
	return nil
}

func (ro *RuleOverrides) reload(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f overridesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	ro.mu.Lock()
	if f.Tenants == nil {
		ro.tenants = map[string]TenantOverrides{}
	} else {
		ro.tenants = f.Tenants
	}
	ro.mu.Unlock()
	return nil
}

// ForTenant returns the overrides for a tenant; never nil.
func (ro *RuleOverrides) ForTenant(tenantID string) TenantOverrides {
	ro.mu.RLock()
	defer ro.mu.RUnlock()
	if t, ok := ro.tenants[tenantID]; ok {
		return t
	}
	return TenantOverrides{}
}
