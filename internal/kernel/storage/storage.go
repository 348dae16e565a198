// Package storage is the kernel's storage + config facade (spec C8): a
// small boltdb-backed key/value surface scoped by application/plugin,
// with a distinct ConfigNotFound error so callers can default without
// string matching.
//
// Grounded on kiosk404/echoryn's agents/store/boltdb package (DB.Open
// bucket-per-concern layout, Update/View transaction pattern,
// encoding/json for the stored value) generalized from per-entity CRUD
// stores to the kernel's scope-keyed config blob model.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"

	"github.com/kiosk404/echoryn/internal/kernel/kerrors"
)

var (
	bucketApplication = []byte("application")
	bucketPluginUser   = []byte("plugin_user")
	bucketPluginSystem = []byte("plugin_system")
	bucketEnableState  = []byte("plugin_enable_state")
)

// Scope selects which bucket a config blob is read from/written to.
type Scope int

const (
	Application Scope = iota
	PluginUser
	PluginSystem
)

func (s Scope) bucket() []byte {
	switch s {
	case PluginUser:
		return bucketPluginUser
	case PluginSystem:
		return bucketPluginSystem
	default:
		return bucketApplication
	}
}

// ConfigData is a mapping from string key to serialized value — the
// facade's in-memory view of one config blob.
type ConfigData map[string]any

// Facade is the kernel's storage + config surface, backed by a single
// boltdb file under configDir.
type Facade struct {
	db        *bolt.DB
	configDir string
}

// Open opens (creating if needed) the boltdb file at
// <configDir>/kernel.db and ensures every bucket the facade uses exists.
func Open(configDir string) (*Facade, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, kerrors.New(kerrors.StorageSystem, kerrors.KindIO, "storage.Open", err, "dir", configDir)
	}

	path := filepath.Join(configDir, "kernel.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, kerrors.New(kerrors.StorageSystem, kerrors.KindIO, "storage.Open", err, "path", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketApplication, bucketPluginUser, bucketPluginSystem, bucketEnableState} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %q: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, kerrors.New(kerrors.StorageSystem, kerrors.KindIO, "storage.Open", err, "path", path)
	}

	return &Facade{db: db, configDir: configDir}, nil
}

// Close releases the underlying database handle.
func (f *Facade) Close() error { return f.db.Close() }

// ConfigDir returns the directory this facade was opened against.
func (f *Facade) ConfigDir() string { return f.configDir }

// LoadConfig reads the blob named name out of scope. Returns a
// kerrors.KindConfigNotFound error (not a generic I/O error) if absent.
func (f *Facade) LoadConfig(name string, scope Scope) (ConfigData, error) {
	var data ConfigData
	err := f.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(scope.bucket())
		raw := b.Get([]byte(name))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &data)
	})
	if err != nil {
		return nil, kerrors.New(kerrors.StorageSystem, kerrors.KindSerialization, "Facade.LoadConfig", err, "name", name)
	}
	if data == nil {
		return nil, kerrors.New(kerrors.StorageSystem, kerrors.KindConfigNotFound, "Facade.LoadConfig", nil, "name", name)
	}
	return data, nil
}

// SaveConfig writes data under name in scope, overwriting any previous
// value. The serialization format (JSON) is the same one LoadConfig
// expects, guaranteeing round-trip.
func (f *Facade) SaveConfig(name string, data ConfigData, scope Scope) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return kerrors.New(kerrors.StorageSystem, kerrors.KindSerialization, "Facade.SaveConfig", err, "name", name)
	}

	err = f.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(scope.bucket())
		return b.Put([]byte(name), raw)
	})
	if err != nil {
		return kerrors.New(kerrors.StorageSystem, kerrors.KindIO, "Facade.SaveConfig", err, "name", name)
	}
	return nil
}

// GetPluginConfig is a convenience wrapper loading a plugin's
// user-scoped config blob by plugin name.
func (f *Facade) GetPluginConfig(pluginName string) (ConfigData, error) {
	return f.LoadConfig(pluginName, PluginUser)
}

// IsEnabled implements pluginreg.EnableStore: it reports whether name was
// explicitly recorded as enabled/disabled, defaulting to enabled when no
// record exists.
func (f *Facade) IsEnabled(name string) (bool, error) {
	enabled := true
	err := f.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEnableState)
		raw := b.Get([]byte(name))
		if raw == nil {
			return nil
		}
		enabled = string(raw) == "1"
		return nil
	})
	if err != nil {
		return true, kerrors.New(kerrors.StorageSystem, kerrors.KindIO, "Facade.IsEnabled", err, "plugin", name)
	}
	return enabled, nil
}

// SetEnabled implements pluginreg.EnableStore: it persists name's
// enabled/disabled flag. A repeated call with the same value leaves
// identical observable state (spec §8 idempotence).
func (f *Facade) SetEnabled(name string, enabled bool) error {
	val := []byte("0")
	if enabled {
		val = []byte("1")
	}
	err := f.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEnableState)
		return b.Put([]byte(name), val)
	})
	if err != nil {
		return kerrors.New(kerrors.StorageSystem, kerrors.KindIO, "Facade.SetEnabled", err, "plugin", name)
	}
	return nil
}
