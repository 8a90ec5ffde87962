package config

import (
	"github.com/go-logr/logr"
	"gopkg.in/ini.v1"
)

// iniPropertyStore reads properties from an INI-style file of `key=value`
// lines. The file is reloaded on every read so edits take effect on the next
// config reload, matching the live semantics of a system property store.
type iniPropertyStore struct {
	path string
	log  logr.Logger
}

// NewIniPropertyStore returns a PropertyStore backed by the file at path.
// A missing or unreadable file yields defaults for every key.
func NewIniPropertyStore(path string, log logr.Logger) PropertyStore {
	return &iniPropertyStore{path: path, log: log}
}

func (s *iniPropertyStore) GetProperty(key, defaultValue string) string {
	file, err := ini.Load(s.path)
	if err != nil {
		s.log.V(5).Info("Failed to load properties file, using default", "path", s.path, "key", key)
		return defaultValue
	}
	section := file.Section("")
	if !section.HasKey(key) {
		return defaultValue
	}
	return section.Key(key).String()
}
