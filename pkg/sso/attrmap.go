package sso

import (
	"fmt"
	"strings"
)

// Canonical provisioning fields produced by the attribute mapper.
const (
	fieldEmail       = "email"
	fieldFirstName   = "first_name"
	fieldLastName    = "last_name"
	fieldDisplayName = "display_name"
)

// defaultSAMLMapping lists, per canonical field, the SAML attribute
// names tried in order. Covers the common attribute vocabularies
// (plain, LDAP-ish, and the WS-Fed claim URIs Azure AD emits).
var defaultSAMLMapping = map[string][]string{
	fieldEmail: {
		"email", "mail", "emailAddress", "EmailAddress",
		"urn:oid:0.9.2342.19200300.100.1.3",
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress",
	},
	fieldFirstName: {
		"firstName", "givenName", "first_name", "FirstName",
		"urn:oid:2.5.4.42",
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/givenname",
	},
	fieldLastName: {
		"lastName", "surname", "sn", "last_name", "LastName",
		"urn:oid:2.5.4.4",
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/surname",
	},
	fieldDisplayName: {
		"displayName", "cn", "name", "display_name",
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name",
	},
}

// defaultOIDCMapping lists, per canonical field, the OIDC claim names
// tried in order.
var defaultOIDCMapping = map[string][]string{
	fieldEmail:       {"email", "upn", "preferred_username"},
	fieldFirstName:   {"given_name", "first_name"},
	fieldLastName:    {"family_name", "last_name"},
	fieldDisplayName: {"name", "display_name", "preferred_username"},
}

// providerDefaults holds provider-specific source-key preferences that
// override the generic tables.
var providerDefaults = map[string]map[string][]string{
	ProviderOkta: {
		fieldEmail:       {"email", "login"},
		fieldFirstName:   {"firstName", "given_name"},
		fieldLastName:    {"lastName", "family_name"},
		fieldDisplayName: {"displayName", "name"},
	},
	ProviderAzureAD: {
		fieldEmail: {
			"email", "upn", "preferred_username",
			"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress",
		},
		fieldFirstName: {
			"given_name",
			"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/givenname",
		},
		fieldLastName: {
			"family_name",
			"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/surname",
		},
		fieldDisplayName: {
			"name",
			"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/name",
		},
	},
	ProviderGoogle: {
		fieldEmail:       {"email"},
		fieldFirstName:   {"given_name"},
		fieldLastName:    {"family_name"},
		fieldDisplayName: {"name"},
	},
}

// AttributeMapper normalizes raw IdP attribute and claim bags into the
// canonical provisioning record. It is stateless; both Map methods are
// pure functions over their inputs.
type AttributeMapper struct{}

// NewAttributeMapper creates an AttributeMapper.
func NewAttributeMapper() *AttributeMapper {
	return &AttributeMapper{}
}

// ProviderDefaultMapping returns the default mapping for a well-known
// provider name, or nil when no preset exists.
func (m *AttributeMapper) ProviderDefaultMapping(provider string) map[string][]string {
	preset, ok := providerDefaults[strings.ToLower(provider)]
	if !ok {
		return nil
	}
	out := make(map[string][]string, len(preset))
	for field, keys := range preset {
		out[field] = append([]string(nil), keys...)
	}
	return out
}

// MapSAMLAttributes maps a SAML attribute bag (attribute name to value
// list) to provisioning data. Multi-valued attributes contribute their
// first element. Custom mappings override the defaults per field.
func (m *AttributeMapper) MapSAMLAttributes(attrs map[string][]string, custom map[string][]string) (*UserProvisioningData, error) {
	mapping := mergeMapping(defaultSAMLMapping, custom)

	lookup := func(key string) string {
		values, ok := attrs[key]
		if !ok || len(values) == 0 {
			return ""
		}
		return strings.TrimSpace(values[0])
	}

	data := m.resolve(mapping, lookup)
	data.Raw = make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		data.Raw[k] = v
	}

	if data.Email == "" {
		return nil, &ProvisioningError{Message: "no email attribute found in SAML assertion"}
	}
	return data, nil
}

// MapOIDCClaims maps an OIDC claim bag to provisioning data. Custom
// mappings override the defaults per field.
func (m *AttributeMapper) MapOIDCClaims(claims map[string]interface{}, custom map[string][]string) (*UserProvisioningData, error) {
	mapping := mergeMapping(defaultOIDCMapping, custom)

	lookup := func(key string) string {
		return strings.TrimSpace(claimString(claims[key]))
	}

	data := m.resolve(mapping, lookup)
	data.Subject = strings.TrimSpace(claimString(claims["sub"]))
	data.Raw = claims

	if data.Email == "" {
		return nil, &ProvisioningError{Message: "no email claim found in ID token or userinfo"}
	}
	return data, nil
}

// resolve fills each canonical field with the first non-empty
// candidate value.
func (m *AttributeMapper) resolve(mapping map[string][]string, lookup func(string) string) *UserProvisioningData {
	first := func(field string) string {
		for _, key := range mapping[field] {
			if v := lookup(key); v != "" {
				return v
			}
		}
		return ""
	}

	data := &UserProvisioningData{
		Email:       first(fieldEmail),
		FirstName:   first(fieldFirstName),
		LastName:    first(fieldLastName),
		DisplayName: first(fieldDisplayName),
	}
	if data.DisplayName == "" && data.FirstName != "" && data.LastName != "" {
		data.DisplayName = data.FirstName + " " + data.LastName
	}
	return data
}

// mergeMapping overlays caller-supplied candidate lists on the default
// table. An override replaces the whole candidate list for its field.
func mergeMapping(defaults, custom map[string][]string) map[string][]string {
	merged := make(map[string][]string, len(defaults))
	for field, keys := range defaults {
		merged[field] = keys
	}
	for field, keys := range custom {
		if len(keys) > 0 {
			merged[field] = keys
		}
	}
	return merged
}

// claimString renders a claim value as a string. Array-valued claims
// contribute their first element.
func claimString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []interface{}:
		if len(val) == 0 {
			return ""
		}
		return claimString(val[0])
	case []string:
		if len(val) == 0 {
			return ""
		}
		return val[0]
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
