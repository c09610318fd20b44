/*
Copyright 2022 The crdpack Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"

	"github.com/crdpack/crdpack/pkg/strategy"
)

const (
	ConfigKind            = "Config"
	ConfigApiVersion      = "crdpack.dev/v1"
	FieldManagerName      = "crdpack"
	FieldManagerGroup     = "ownership.crdpack.dev"
	OwnershipNamespace    = "kube-system"
	DefaultWaitTimeout    = 2 * time.Minute
	DefaultPollInterval   = 2 * time.Second
	DefaultUpdateStrategy = strategy.Safe
)

type Config struct {
	metav1.TypeMeta `json:",inline"`

	// ApplyOrder overrides the apply order for specific Kubernetes API
	// Kinds. Kinds not listed keep the built-in category order.
	ApplyOrder *KindOrder `json:"applyOrder,omitempty"`

	// FieldManager holds the manager name and group used for server-side apply.
	FieldManager *FieldManager `json:"fieldManager,omitempty"`

	// Strategy sets the default CRD update strategy, one of safe, force, skip.
	Strategy string `json:"strategy,omitempty"`

	// OwnershipNamespace is the namespace of the ConfigMap that records
	// CRD ownership.
	OwnershipNamespace string `json:"ownershipNamespace,omitempty"`

	// WaitTimeout bounds the wait for CRDs to become established.
	WaitTimeout *metav1.Duration `json:"waitTimeout,omitempty"`

	// PollInterval sets how often CRD conditions are polled while waiting.
	PollInterval *metav1.Duration `json:"pollInterval,omitempty"`
}

// KindOrder holds the list of the Kubernetes API Kinds that are applied
// before respectively after everything else.
type KindOrder struct {
	First []string `json:"first,omitempty"`
	Last  []string `json:"last,omitempty"`
}

type FieldManager struct {
	// Name sets the field manager for the reconciled objects.
	Name string `json:"name"`

	// Group sets the ownership annotation key prefix.
	Group string `json:"group"`
}

// NewConfig returns a config with the defaults.
func NewConfig() *Config {
	return &Config{
		TypeMeta: metav1.TypeMeta{
			Kind:       ConfigKind,
			APIVersion: ConfigApiVersion,
		},
		ApplyOrder:         &KindOrder{},
		FieldManager:       defaultFieldManager(),
		Strategy:           string(DefaultUpdateStrategy),
		OwnershipNamespace: OwnershipNamespace,
		WaitTimeout:        &metav1.Duration{Duration: DefaultWaitTimeout},
		PollInterval:       &metav1.Duration{Duration: DefaultPollInterval},
	}
}

func defaultFieldManager() *FieldManager {
	return &FieldManager{
		Name:  FieldManagerName,
		Group: FieldManagerGroup,
	}
}

// DefaultConfigPath returns '$HOME/.crdpack/config'
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".crdpack/config"), nil
}

// Read loads the config from the specified path,
// if the config file is not found, a default is returned.
func Read(configPath string) (*Config, error) {
	if configPath == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, fmt.Errorf("$HOME dir can't be determined, error: %w", err)
		}
		configPath = p
	}

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return NewConfig(), nil
	}

	cfgData, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(cfgData, cfg); err != nil {
		return nil, err
	}

	if cfg.ApplyOrder == nil {
		cfg.ApplyOrder = &KindOrder{}
	}

	if cfg.FieldManager == nil {
		cfg.FieldManager = defaultFieldManager()
	}

	if cfg.FieldManager.Name == "" {
		return nil, fmt.Errorf("the field manager name can't be empty")
	}

	if cfg.FieldManager.Group == "" {
		return nil, fmt.Errorf("the field manager group can't be empty")
	}

	if _, err := strategy.Parse(cfg.Strategy); err != nil {
		return nil, err
	}

	if cfg.OwnershipNamespace == "" {
		cfg.OwnershipNamespace = OwnershipNamespace
	}

	if cfg.WaitTimeout == nil {
		cfg.WaitTimeout = &metav1.Duration{Duration: DefaultWaitTimeout}
	}

	if cfg.PollInterval == nil {
		cfg.PollInterval = &metav1.Duration{Duration: DefaultPollInterval}
	}

	return cfg, nil
}

// Write saves the config at the given path, if no path is specified
// it will create or override '$HOME/.crdpack/config'.
func (c *Config) Write(configPath string) error {
	if configPath == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return err
		}
		configPath = p
	}

	if err := os.MkdirAll(filepath.Dir(configPath), os.FileMode(0755)); err != nil {
		return err
	}

	cfgData, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	if err := os.WriteFile(configPath, cfgData, os.FileMode(0666)); err != nil {
		return err
	}

	return nil
}
