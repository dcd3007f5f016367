// Package profile описывает типизированный документ конфигурационного профиля
// (.mobileconfig) с единственной нагрузкой com.apple.systempolicy.control.
package profile

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/xela07ax/system-policy-control/internal/domain"
	"howett.net/plist"
)

const (
	FileExtension      = ".mobileconfig"
	PayloadType        = "com.apple.systempolicy.control"
	ProfileType        = "Configuration"
	PayloadVersion     = 1
	DefaultDescription = "Generated by SystemPolicyAgent."
)

// SystemPolicyPayload — нагрузка профиля.
// AllowIdentifiedDevelopers — указатель: при выключенной оценке ключа в документе нет вообще.
type SystemPolicyPayload struct {
	PayloadType                 string `plist:"PayloadType"`
	PayloadVersion              int    `plist:"PayloadVersion"`
	PayloadIdentifier           string `plist:"PayloadIdentifier"`
	PayloadUUID                 string `plist:"PayloadUUID"`
	EnableAssessment            bool   `plist:"EnableAssessment"`
	EnableXProtectMalwareUpload bool   `plist:"EnableXProtectMalwareUpload"`
	AllowIdentifiedDevelopers   *bool  `plist:"AllowIdentifiedDevelopers,omitempty"`
}

// ConfigurationProfile — корневой словарь профиля.
type ConfigurationProfile struct {
	PayloadContent           []SystemPolicyPayload `plist:"PayloadContent"`
	PayloadDescription       string                `plist:"PayloadDescription"`
	PayloadDisplayName       string                `plist:"PayloadDisplayName"`
	PayloadIdentifier        string                `plist:"PayloadIdentifier"`
	PayloadOrganization      string                `plist:"PayloadOrganization"`
	PayloadRemovalDisallowed bool                  `plist:"PayloadRemovalDisallowed"`
	PayloadType              string                `plist:"PayloadType"`
	PayloadUUID              string                `plist:"PayloadUUID"`
	PayloadVersion           int                   `plist:"PayloadVersion"`
}

// NewPayload строит нагрузку из политики.
func NewPayload(p domain.Policy) SystemPolicyPayload {
	payload := SystemPolicyPayload{
		PayloadType:                 PayloadType,
		PayloadVersion:              PayloadVersion,
		PayloadIdentifier:           p.ProfileIdentifier + ".payload",
		PayloadUUID:                 newUUID(),
		EnableAssessment:            p.EnableAssessment(),
		EnableXProtectMalwareUpload: p.EnableXProtectMalwareUpload,
	}
	if p.EnableAssessment() {
		allow := p.AllowIdentifiedDevelopers()
		payload.AllowIdentifiedDevelopers = &allow
	}
	return payload
}

// Build собирает документ профиля для политики.
func Build(p domain.Policy) ConfigurationProfile {
	description := DefaultDescription
	if p.Description != nil {
		description = *p.Description
	}
	return ConfigurationProfile{
		PayloadContent:           []SystemPolicyPayload{NewPayload(p)},
		PayloadDescription:       description,
		PayloadDisplayName:       p.DisplayName,
		PayloadIdentifier:        p.ProfileIdentifier,
		PayloadOrganization:      p.Organization,
		PayloadRemovalDisallowed: true,
		PayloadType:              ProfileType,
		PayloadUUID:              newUUID(),
		PayloadVersion:           PayloadVersion,
	}
}

// Encode сериализует профиль в XML plist.
func (c ConfigurationProfile) Encode() ([]byte, error) {
	data, err := plist.MarshalIndent(c, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("encode profile %s: %w", c.PayloadIdentifier, err)
	}
	return data, nil
}

// Decode разбирает документ профиля (любой формат plist).
func Decode(data []byte) (ConfigurationProfile, error) {
	var c ConfigurationProfile
	if _, err := plist.Unmarshal(data, &c); err != nil {
		return ConfigurationProfile{}, fmt.Errorf("decode profile: %w", err)
	}
	return c, nil
}

// Payload возвращает нагрузку systempolicy, если она есть.
func (c ConfigurationProfile) Payload() (SystemPolicyPayload, bool) {
	for _, p := range c.PayloadContent {
		if p.PayloadType == PayloadType {
			return p, true
		}
	}
	return SystemPolicyPayload{}, false
}

// Path — детерминированный путь документа внутри каталога профилей.
func Path(dir, identifier string) string {
	return filepath.Join(dir, identifier+FileExtension)
}

func newUUID() string {
	return strings.ToUpper(uuid.NewString())
}
