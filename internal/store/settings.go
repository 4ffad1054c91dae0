package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"velarr/internal/models"
)

const encryptedPrefix = "enc:"

const settingUpsert = `INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`

func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting setting %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(settingUpsert, key, value)
	if err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}

// IntegrationConfig is a URL + API-key pair for an external service, with the
// key encrypted at rest when the store was constructed with an encryptor.
type IntegrationConfig struct {
	URL     string
	APIKey  string
	Enabled bool
}

type MediaServerConfig = IntegrationConfig
type SonarrConfig = IntegrationConfig
type RadarrConfig = IntegrationConfig
type RequestIntakeConfig = IntegrationConfig

func (s *Store) GetMediaServerConfig() (MediaServerConfig, error) {
	return s.getIntegrationConfig("mediaserver")
}
func (s *Store) SetMediaServerConfig(cfg MediaServerConfig) error {
	return s.setIntegrationConfig("mediaserver", cfg)
}

func (s *Store) GetSonarrConfig() (SonarrConfig, error) { return s.getIntegrationConfig("sonarr") }
func (s *Store) SetSonarrConfig(cfg SonarrConfig) error { return s.setIntegrationConfig("sonarr", cfg) }

func (s *Store) GetRadarrConfig() (RadarrConfig, error) { return s.getIntegrationConfig("radarr") }
func (s *Store) SetRadarrConfig(cfg RadarrConfig) error { return s.setIntegrationConfig("radarr", cfg) }

func (s *Store) GetRequestIntakeConfig() (RequestIntakeConfig, error) {
	return s.getIntegrationConfig("requestintake")
}
func (s *Store) SetRequestIntakeConfig(cfg RequestIntakeConfig) error {
	return s.setIntegrationConfig("requestintake", cfg)
}

func (s *Store) getIntegrationConfig(prefix string) (IntegrationConfig, error) {
	var cfg IntegrationConfig
	var err error
	if cfg.URL, err = s.GetSetting(prefix + ".url"); err != nil {
		return cfg, err
	}
	raw, err := s.GetSetting(prefix + ".api_key")
	if err != nil {
		return cfg, err
	}
	if strings.HasPrefix(raw, encryptedPrefix) {
		if s.encryptor == nil {
			return cfg, fmt.Errorf("api key is encrypted but no encryption key configured")
		}
		cfg.APIKey, err = s.encryptor.Decrypt(strings.TrimPrefix(raw, encryptedPrefix))
		if err != nil {
			return cfg, fmt.Errorf("decrypting %s api key: %w", prefix, err)
		}
	} else {
		cfg.APIKey = raw
	}
	enabled, err := s.GetSetting(prefix + ".enabled")
	if err != nil {
		return cfg, err
	}
	cfg.Enabled = enabled != "0"
	return cfg, nil
}

func (s *Store) setIntegrationConfig(prefix string, cfg IntegrationConfig) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(settingUpsert, prefix+".url", cfg.URL); err != nil {
		return fmt.Errorf("setting %q: %w", prefix+".url", err)
	}
	if cfg.APIKey != "" {
		apiKeyVal := cfg.APIKey
		if s.encryptor != nil {
			encrypted, err := s.encryptor.Encrypt(cfg.APIKey)
			if err != nil {
				return fmt.Errorf("encrypting %s api key: %w", prefix, err)
			}
			apiKeyVal = encryptedPrefix + encrypted
		}
		if _, err := tx.Exec(settingUpsert, prefix+".api_key", apiKeyVal); err != nil {
			return fmt.Errorf("setting %q: %w", prefix+".api_key", err)
		}
	}
	enabledVal := "1"
	if !cfg.Enabled {
		enabledVal = "0"
	}
	if _, err := tx.Exec(settingUpsert, prefix+".enabled", enabledVal); err != nil {
		return fmt.Errorf("setting %q: %w", prefix+".enabled", err)
	}

	return tx.Commit()
}

// analyzer setting keys, one per models.Settings field.
const (
	keyEnabled                 = "analyzer.enabled"
	keyMinDaysSinceWatch       = "analyzer.min_days_since_watch"
	keyVelocityBufferDays      = "analyzer.velocity_buffer_days"
	keyProtectEpisodesAhead    = "analyzer.protect_episodes_ahead"
	keyActiveViewerDays        = "analyzer.active_viewer_days"
	keyRequireAllUsersWatched  = "analyzer.require_all_users_watched"
	keyProactiveRedownload     = "analyzer.proactive_redownload"
	keyRedownloadLeadDays      = "analyzer.redownload_lead_days"
	keyRedownloadEnabled       = "analyzer.redownload_enabled"
	keyEmergencyBufferHours    = "analyzer.emergency_buffer_hours"
	keyTrimAheadEnabled        = "analyzer.trim_ahead_enabled"
	keyTrimDaysAhead           = "analyzer.trim_days_ahead"
	keyMaxEpisodesAhead        = "analyzer.max_episodes_ahead"
	keyUnknownVelocityBuffer   = "analyzer.unknown_velocity_buffer"
	keyMinVelocitySamples      = "analyzer.min_velocity_samples"
	keyDefaultVelocity         = "analyzer.default_velocity"
	keyWatchlistGraceDays      = "analyzer.watchlist_grace_days"
	keyVelocityMonitoring      = "analyzer.velocity_monitoring_enabled"
	keyVelocityCheckInterval   = "analyzer.velocity_check_interval_minutes"
	keyVelocityChangeThreshold = "analyzer.velocity_change_threshold"
	keyVelocityChangeAction    = "analyzer.velocity_change_action"
)

// GetAnalyzerSettings reads every tunable knob in §4.D, falling back to
// models.Defaults() for any key that has never been set.
func (s *Store) GetAnalyzerSettings() (models.Settings, error) {
	d := models.Defaults()

	boolOr := func(key string, fallback bool) (bool, error) {
		v, err := s.GetSetting(key)
		if err != nil || v == "" {
			return fallback, err
		}
		return v == "true", nil
	}
	intOr := func(key string, fallback int) (int, error) {
		v, err := s.GetSetting(key)
		if err != nil || v == "" {
			return fallback, err
		}
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			return fallback, nil
		}
		return n, nil
	}
	floatOr := func(key string, fallback float64) (float64, error) {
		v, err := s.GetSetting(key)
		if err != nil || v == "" {
			return fallback, err
		}
		f, convErr := strconv.ParseFloat(v, 64)
		if convErr != nil {
			return fallback, nil
		}
		return f, nil
	}

	var err error
	out := d
	if out.Enabled, err = boolOr(keyEnabled, d.Enabled); err != nil {
		return out, err
	}
	if out.MinDaysSinceWatch, err = intOr(keyMinDaysSinceWatch, d.MinDaysSinceWatch); err != nil {
		return out, err
	}
	if out.VelocityBufferDays, err = intOr(keyVelocityBufferDays, d.VelocityBufferDays); err != nil {
		return out, err
	}
	if out.ProtectEpisodesAhead, err = intOr(keyProtectEpisodesAhead, d.ProtectEpisodesAhead); err != nil {
		return out, err
	}
	if out.ActiveViewerDays, err = intOr(keyActiveViewerDays, d.ActiveViewerDays); err != nil {
		return out, err
	}
	if out.RequireAllUsersWatched, err = boolOr(keyRequireAllUsersWatched, d.RequireAllUsersWatched); err != nil {
		return out, err
	}
	if out.ProactiveRedownload, err = boolOr(keyProactiveRedownload, d.ProactiveRedownload); err != nil {
		return out, err
	}
	if out.RedownloadLeadDays, err = intOr(keyRedownloadLeadDays, d.RedownloadLeadDays); err != nil {
		return out, err
	}
	if out.RedownloadEnabled, err = boolOr(keyRedownloadEnabled, d.RedownloadEnabled); err != nil {
		return out, err
	}
	if out.EmergencyBufferHours, err = intOr(keyEmergencyBufferHours, d.EmergencyBufferHours); err != nil {
		return out, err
	}
	if out.TrimAheadEnabled, err = boolOr(keyTrimAheadEnabled, d.TrimAheadEnabled); err != nil {
		return out, err
	}
	if out.TrimDaysAhead, err = intOr(keyTrimDaysAhead, d.TrimDaysAhead); err != nil {
		return out, err
	}
	if out.MaxEpisodesAhead, err = intOr(keyMaxEpisodesAhead, d.MaxEpisodesAhead); err != nil {
		return out, err
	}
	if out.UnknownVelocityBuffer, err = intOr(keyUnknownVelocityBuffer, d.UnknownVelocityBuffer); err != nil {
		return out, err
	}
	if out.MinVelocitySamples, err = intOr(keyMinVelocitySamples, d.MinVelocitySamples); err != nil {
		return out, err
	}
	if out.DefaultVelocity, err = floatOr(keyDefaultVelocity, d.DefaultVelocity); err != nil {
		return out, err
	}
	if out.WatchlistGraceDays, err = intOr(keyWatchlistGraceDays, d.WatchlistGraceDays); err != nil {
		return out, err
	}
	if out.VelocityMonitoringEnabled, err = boolOr(keyVelocityMonitoring, d.VelocityMonitoringEnabled); err != nil {
		return out, err
	}
	intervalMinutes, err := intOr(keyVelocityCheckInterval, int(d.VelocityCheckInterval/time.Minute))
	if err != nil {
		return out, err
	}
	out.VelocityCheckInterval = time.Duration(intervalMinutes) * time.Minute
	if out.VelocityChangeThreshold, err = floatOr(keyVelocityChangeThreshold, d.VelocityChangeThreshold); err != nil {
		return out, err
	}
	action, err := s.GetSetting(keyVelocityChangeAction)
	if err != nil {
		return out, err
	}
	if action != "" {
		out.VelocityChangeAction = models.VelocityChangeAction(action)
	}

	return out, nil
}

// cursor keys, persisted as settings rows per §6.
const (
	keyLastLibrarySync      = "cursor.last_library_sync"
	keyLastWatchHistorySync = "cursor.last_watch_history_sync"
	keyLastUserSync         = "cursor.last_user_sync"
	keyLastLifecycleRepair  = "cursor.last_lifecycle_repair"
	keyLibraryCacheSnapshot = "cursor.library_cache_snapshot"
)

func (s *Store) GetSyncCursors() (models.SyncCursors, error) {
	var c models.SyncCursors
	var err error
	if c.LastLibrarySync, err = s.getCursorTime(keyLastLibrarySync); err != nil {
		return c, err
	}
	if c.LastWatchHistorySync, err = s.getCursorTime(keyLastWatchHistorySync); err != nil {
		return c, err
	}
	if c.LastUserSync, err = s.getCursorTime(keyLastUserSync); err != nil {
		return c, err
	}
	if c.LastLifecycleRepair, err = s.getCursorTime(keyLastLifecycleRepair); err != nil {
		return c, err
	}
	return c, nil
}

func (s *Store) SetSyncCursors(c models.SyncCursors) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	rows := []struct {
		k string
		t time.Time
	}{
		{keyLastLibrarySync, c.LastLibrarySync},
		{keyLastWatchHistorySync, c.LastWatchHistorySync},
		{keyLastUserSync, c.LastUserSync},
		{keyLastLifecycleRepair, c.LastLifecycleRepair},
	}
	for _, r := range rows {
		if r.t.IsZero() {
			continue
		}
		if _, err := tx.Exec(settingUpsert, r.k, r.t.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("setting cursor %q: %w", r.k, err)
		}
	}
	return tx.Commit()
}

func (s *Store) getCursorTime(key string) (time.Time, error) {
	v, err := s.GetSetting(key)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	t, parseErr := time.Parse(time.RFC3339Nano, v)
	if parseErr != nil {
		return time.Time{}, nil
	}
	return t, nil
}

// LibraryCacheSnapshot is the ratingKey -> LibraryItem projection persisted
// after every sync tick so an abrupt restart loses at most one tick.
type LibraryCacheSnapshot map[string]models.LibraryItem

func (s *Store) GetLibraryCacheSnapshot() (LibraryCacheSnapshot, error) {
	raw, err := s.GetSetting(keyLibraryCacheSnapshot)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return LibraryCacheSnapshot{}, nil
	}
	var snap LibraryCacheSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decoding library cache snapshot: %w", err)
	}
	return snap, nil
}

func (s *Store) SetLibraryCacheSnapshot(snap LibraryCacheSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding library cache snapshot: %w", err)
	}
	return s.SetSetting(keyLibraryCacheSnapshot, string(raw))
}
