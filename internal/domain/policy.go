package domain

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/go-viper/mapstructure/v2"
)

// Значения по умолчанию для единственного активного профиля
const (
	DefaultProfileIdentifier = "com.systempolicycontrol.policy"
	DefaultDisplayName       = "System Policy Control"
	DefaultOrganization      = "SystemPolicyControl"
)

// identifierPattern — идентификатор становится частью имени файла профиля,
// поэтому разделители путей и ".." недопустимы.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// PolicyFields — плоское представление политики (wire-формат).
// Используется для JSON, разреженных мап из HTTP-запроса и аргументов агента.
type PolicyFields struct {
	ProfileIdentifier           string  `json:"profile_identifier" mapstructure:"profile_identifier"`
	DisplayName                 string  `json:"display_name" mapstructure:"display_name"`
	Organization                string  `json:"organization" mapstructure:"organization"`
	Description                 *string `json:"description" mapstructure:"description"`
	AllowIdentifiedDevelopers   bool    `json:"allow_identified_developers" mapstructure:"allow_identified_developers"`
	EnableAssessment            bool    `json:"enable_assessment" mapstructure:"enable_assessment"`
	EnableXProtectMalwareUpload bool    `json:"enable_xprotect_malware_upload" mapstructure:"enable_xprotect_malware_upload"`
}

// Policy — желаемая конфигурация Gatekeeper.
// Пара enableAssessment/allowIdentifiedDevelopers закрыта: менять её можно только
// через сеттеры, которые держат инвариант "оценка выключена => доверия разработчикам нет".
type Policy struct {
	ProfileIdentifier           string
	DisplayName                 string
	Organization                string
	Description                 *string
	EnableXProtectMalwareUpload bool

	allowIdentifiedDevelopers bool
	enableAssessment          bool
}

// DefaultFields возвращает поля политики по умолчанию.
func DefaultFields() PolicyFields {
	return PolicyFields{
		ProfileIdentifier:           DefaultProfileIdentifier,
		DisplayName:                 DefaultDisplayName,
		Organization:                DefaultOrganization,
		AllowIdentifiedDevelopers:   true,
		EnableAssessment:            true,
		EnableXProtectMalwareUpload: true,
	}
}

// DefaultPolicy — политика со всеми значениями по умолчанию.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultFields())
}

// NewPolicy собирает политику из полей, нормализуя описание и пару флагов.
func NewPolicy(f PolicyFields) Policy {
	p := Policy{
		ProfileIdentifier:           f.ProfileIdentifier,
		DisplayName:                 f.DisplayName,
		Organization:                f.Organization,
		Description:                 normalizeDescription(f.Description),
		EnableXProtectMalwareUpload: f.EnableXProtectMalwareUpload,
	}
	p.SetEnableAssessment(f.EnableAssessment)
	p.SetAllowIdentifiedDevelopers(f.AllowIdentifiedDevelopers)
	return p
}

// PolicyFromMap строит политику из разреженной мапы: неизвестные ключи игнорируются,
// отсутствующие сохраняют значения по умолчанию.
func PolicyFromMap(m map[string]any) (Policy, error) {
	fields := DefaultFields()
	if err := mapstructure.Decode(m, &fields); err != nil {
		return Policy{}, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	return NewPolicy(fields), nil
}

// AllowIdentifiedDevelopers сообщает, доверяет ли политика подписанным разработчикам.
func (p Policy) AllowIdentifiedDevelopers() bool { return p.allowIdentifiedDevelopers }

// EnableAssessment сообщает, включена ли оценка кода (Gatekeeper).
func (p Policy) EnableAssessment() bool { return p.enableAssessment }

// SetEnableAssessment выключение оценки сбрасывает доверие разработчикам.
func (p *Policy) SetEnableAssessment(v bool) {
	p.enableAssessment = v
	if !v {
		p.allowIdentifiedDevelopers = false
	}
}

// SetAllowIdentifiedDevelopers при выключенной оценке значение принудительно false.
func (p *Policy) SetAllowIdentifiedDevelopers(v bool) {
	p.allowIdentifiedDevelopers = v && p.enableAssessment
}

// Fields возвращает плоское представление политики.
func (p Policy) Fields() PolicyFields {
	return PolicyFields{
		ProfileIdentifier:           p.ProfileIdentifier,
		DisplayName:                 p.DisplayName,
		Organization:                p.Organization,
		Description:                 p.Description,
		AllowIdentifiedDevelopers:   p.allowIdentifiedDevelopers,
		EnableAssessment:            p.enableAssessment,
		EnableXProtectMalwareUpload: p.EnableXProtectMalwareUpload,
	}
}

// ToMap сериализует политику в мапу полей.
func (p Policy) ToMap() map[string]any {
	m := map[string]any{
		"profile_identifier":             p.ProfileIdentifier,
		"display_name":                   p.DisplayName,
		"organization":                   p.Organization,
		"description":                    nil,
		"allow_identified_developers":    p.allowIdentifiedDevelopers,
		"enable_assessment":              p.enableAssessment,
		"enable_xprotect_malware_upload": p.EnableXProtectMalwareUpload,
	}
	if p.Description != nil {
		m["description"] = *p.Description
	}
	return m
}

// Validate проверяет обязательные поля до того, как политика уйдет агенту.
func (p Policy) Validate() error {
	switch {
	case p.ProfileIdentifier == "":
		return fmt.Errorf("%w: profile_identifier is required", ErrInvalidPolicy)
	case !identifierPattern.MatchString(p.ProfileIdentifier):
		return fmt.Errorf("%w: profile_identifier %q contains unsupported characters", ErrInvalidPolicy, p.ProfileIdentifier)
	case p.DisplayName == "":
		return fmt.Errorf("%w: display_name is required", ErrInvalidPolicy)
	case p.Organization == "":
		return fmt.Errorf("%w: organization is required", ErrInvalidPolicy)
	}
	return nil
}

func (p Policy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Fields())
}

func (p *Policy) UnmarshalJSON(data []byte) error {
	fields := DefaultFields()
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*p = NewPolicy(fields)
	return nil
}

// normalizeDescription пустое описание == отсутствие описания.
func normalizeDescription(d *string) *string {
	if d == nil || *d == "" {
		return nil
	}
	v := *d
	return &v
}
