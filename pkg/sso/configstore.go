package sso

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lib/pq"
)

// configCacheTTL is the read-through cache window for configuration
// lookups. Writes invalidate synchronously.
const configCacheTTL = 15 * time.Minute

const configCacheSize = 512

// ConfigStore persists per-organization federation configuration with
// a short-TTL in-process cache in front of reads.
type ConfigStore struct {
	db    *sql.DB
	cache *expirable.LRU[string, *SSOConfiguration]
}

// NewConfigStore creates a configuration repository over the given
// database handle.
func NewConfigStore(db *sql.DB) *ConfigStore {
	return &ConfigStore{
		db:    db,
		cache: expirable.NewLRU[string, *SSOConfiguration](configCacheSize, nil, configCacheTTL),
	}
}

func configCacheKey(organizationID string, protocol ProtocolName) string {
	return organizationID + ":" + string(protocol)
}

// Get returns the active configuration for the organization and
// protocol, or nil when none exists. Soft-deleted rows are invisible.
func (s *ConfigStore) Get(ctx context.Context, organizationID string, protocol ProtocolName) (*SSOConfiguration, error) {
	key := configCacheKey(organizationID, protocol)
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	var (
		config         SSOConfiguration
		configJSON     []byte
		mappingJSON    []byte
		allowedDomains pq.StringArray
		allowedRoles   pq.StringArray
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT organization_id, protocol, provider_name, config, attribute_mapping,
			jit_provisioning, default_role, allowed_domains, allowed_roles,
			created_at, updated_at
		FROM sso_configurations
		WHERE organization_id = $1 AND protocol = $2 AND deleted_at IS NULL
	`, organizationID, string(protocol)).Scan(
		&config.OrganizationID, &config.Protocol, &config.ProviderName,
		&configJSON, &mappingJSON, &config.JITProvisioning, &config.DefaultRole,
		&allowedDomains, &allowedRoles, &config.CreatedAt, &config.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sso configuration: %w", err)
	}

	if err := json.Unmarshal(configJSON, &config.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config map: %w", err)
	}
	if len(mappingJSON) > 0 {
		if err := json.Unmarshal(mappingJSON, &config.AttributeMapping); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attribute mapping: %w", err)
		}
	}
	config.AllowedDomains = allowedDomains
	config.AllowedRoles = allowedRoles

	s.cache.Add(key, &config)
	return &config, nil
}

// Upsert creates or replaces the configuration for its (organization,
// protocol) pair and invalidates the cache entry.
func (s *ConfigStore) Upsert(ctx context.Context, config *SSOConfiguration) error {
	configJSON, err := json.Marshal(config.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config map: %w", err)
	}
	mappingJSON, err := json.Marshal(config.AttributeMapping)
	if err != nil {
		return fmt.Errorf("failed to marshal attribute mapping: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sso_configurations (
			organization_id, protocol, provider_name, config, attribute_mapping,
			jit_provisioning, default_role, allowed_domains, allowed_roles,
			created_at, updated_at, deleted_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW(), NULL)
		ON CONFLICT (organization_id, protocol) DO UPDATE SET
			provider_name = $3, config = $4, attribute_mapping = $5,
			jit_provisioning = $6, default_role = $7, allowed_domains = $8,
			allowed_roles = $9, updated_at = NOW(), deleted_at = NULL
	`, config.OrganizationID, string(config.Protocol), config.ProviderName,
		configJSON, mappingJSON, config.JITProvisioning, config.DefaultRole,
		pq.StringArray(config.AllowedDomains), pq.StringArray(config.AllowedRoles))
	if err != nil {
		return fmt.Errorf("failed to upsert sso configuration: %w", err)
	}

	s.cache.Remove(configCacheKey(config.OrganizationID, config.Protocol))
	return nil
}

// Delete soft-deletes the configuration and invalidates the cache
// entry.
func (s *ConfigStore) Delete(ctx context.Context, organizationID string, protocol ProtocolName) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sso_configurations
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE organization_id = $1 AND protocol = $2 AND deleted_at IS NULL
	`, organizationID, string(protocol))
	if err != nil {
		return fmt.Errorf("failed to delete sso configuration: %w", err)
	}

	s.cache.Remove(configCacheKey(organizationID, protocol))
	return nil
}
