// Package loader applies declarative provisioning files to the
// metastore: tenants and their machines described in YAML, created on
// startup so a fresh deployment needs no manual registration calls.
package loader

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aispark/pdmcore/internal/errors"
	"github.com/aispark/pdmcore/internal/logging"
	"github.com/aispark/pdmcore/internal/store"
)

var log = logging.Component("loader")

// =============================================================================
// Provisioning File Types
// =============================================================================

// Provisioning is the root of a provisioning file.
type Provisioning struct {
	Clients []ClientSpec `yaml:"clients"`
}

// ClientSpec declares a tenant and its machines.
type ClientSpec struct {
	ClientID         string        `yaml:"client_id"`
	Name             string        `yaml:"name"`
	SubscriptionTier string        `yaml:"subscription_tier"`
	MachineQuota     int           `yaml:"machine_quota"`
	Machines         []MachineSpec `yaml:"machines"`
}

// MachineSpec declares a machine under a tenant.
type MachineSpec struct {
	MachineID               string `yaml:"machine_id"`
	Name                    string `yaml:"name"`
	MachineType             string `yaml:"machine_type"`
	Criticality             string `yaml:"criticality"`
	Location                string `yaml:"location"`
	MaintenanceIntervalDays int    `yaml:"maintenance_interval_days"`
}

// Load reads a provisioning file. Environment variables in the file
// are expanded before parsing.
func Load(path string) (*Provisioning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provisioning file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var p Provisioning
	if err := yaml.Unmarshal([]byte(expanded), &p); err != nil {
		return nil, fmt.Errorf("parse provisioning file: %w", err)
	}
	return &p, nil
}

// =============================================================================
// Apply
// =============================================================================

// ApplyResult summarizes one Apply run.
type ApplyResult struct {
	ClientsCreated  int
	ClientsSkipped  int
	MachinesCreated int
	MachinesSkipped int
	Errors          []string
}

// Apply creates the declared clients and machines. Entities that
// already exist are left untouched, so Apply is safe to run on every
// startup. Individual failures are collected, not fatal.
func Apply(ctx context.Context, p *Provisioning, meta *store.Store) (*ApplyResult, error) {
	result := &ApplyResult{}

	for i := range p.Clients {
		spec := &p.Clients[i]
		if err := applyClient(ctx, spec, meta, result); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("client %s: %v", spec.ClientID, err))
		}
	}

	log.Info("provisioning applied",
		"clients_created", result.ClientsCreated,
		"machines_created", result.MachinesCreated,
		"errors", len(result.Errors))

	return result, nil
}

func applyClient(ctx context.Context, spec *ClientSpec, meta *store.Store, result *ApplyResult) error {
	err := meta.CreateClient(ctx, &store.Client{
		ClientID:         spec.ClientID,
		Name:             spec.Name,
		SubscriptionTier: spec.SubscriptionTier,
		MachineQuota:     spec.MachineQuota,
	})
	switch {
	case err == nil:
		result.ClientsCreated++
		log.Debug("client provisioned", "client_id", spec.ClientID)
	case errors.IsAlreadyExists(err):
		result.ClientsSkipped++
	default:
		return err
	}

	for i := range spec.Machines {
		m := &spec.Machines[i]
		err := meta.CreateMachine(ctx, &store.Machine{
			MachineID:               m.MachineID,
			ClientID:                spec.ClientID,
			Name:                    m.Name,
			MachineType:             m.MachineType,
			Criticality:             m.Criticality,
			Location:                m.Location,
			MaintenanceIntervalDays: m.MaintenanceIntervalDays,
		})
		switch {
		case err == nil:
			result.MachinesCreated++
			log.Debug("machine provisioned",
				"machine_id", m.MachineID, "client_id", spec.ClientID)
		case errors.IsAlreadyExists(err):
			result.MachinesSkipped++
		default:
			result.Errors = append(result.Errors,
				fmt.Sprintf("machine %s: %v", m.MachineID, err))
		}
	}
	return nil
}

// =============================================================================
// Watcher
// =============================================================================

// Watcher re-applies a provisioning file when its mtime changes.
type Watcher struct {
	path     string
	meta     *store.Store
	callback func(*ApplyResult)

	lastMod time.Time
	stop    chan struct{}
	done    chan struct{}
}

// NewWatcher creates a provisioning file watcher.
func NewWatcher(path string, meta *store.Store, callback func(*ApplyResult)) *Watcher {
	return &Watcher{
		path:     path,
		meta:     meta,
		callback: callback,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins polling the file.
func (w *Watcher) Start() {
	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}
	go w.watch()
}

// Stop terminates the watcher.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
}

func (w *Watcher) watch() {
	defer close(w.done)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			if info.ModTime().After(w.lastMod) {
				w.lastMod = info.ModTime()
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	p, err := Load(w.path)
	if err != nil {
		log.Warn("provisioning reload failed", "error", err)
		return
	}

	result, err := Apply(context.Background(), p, w.meta)
	if err != nil {
		log.Warn("provisioning apply failed", "error", err)
		return
	}
	if w.callback != nil {
		w.callback(result)
	}
}
