// Package protocol — версионированный контракт между оркестратором и привилегированным агентом.
//
// Оба исполняемых файла собирают и разбирают аргументы через этот пакет, поэтому
// имена флагов, формат булевых значений и форма результата определены в одном месте.
package protocol

import (
	"strconv"

	"github.com/xela07ax/system-policy-control/internal/domain"
)

// Version версия протокола. Мажорная часть меняется при несовместимых изменениях.
const Version = "1.0.0"

// CompatibleConstraint — какие версии агента понимает этот оркестратор.
const CompatibleConstraint = "^1.0"

const (
	CommandApply   = "apply"
	CommandRemove  = "remove"
	CommandList    = "list"
	CommandVersion = "version"
)

// Строки stdout команды remove. Оркестратор различает по ним удаление и no-op.
const (
	MessageRemoved        = "Profile removed successfully"
	MessageNothingRemoved = "No matching active policy"
)

const (
	FlagProfileDir                  = "profile-dir"
	FlagStatePath                   = "state-path"
	FlagProfileIdentifier           = "profile-identifier"
	FlagDisplayName                 = "display-name"
	FlagOrganization                = "organization"
	FlagDescription                 = "description"
	FlagAllowIdentifiedDevelopers   = "allow-identified-developers"
	FlagEnableAssessment            = "enable-assessment"
	FlagEnableXProtectMalwareUpload = "enable-xprotect-malware-upload"
	FlagNoInstall                   = "no-install"
)

const (
	DefaultProfileDir = "data/profiles"
	DefaultStatePath  = "data/policy_state.json"
)

// Paths — пути хранилищ, которые передаются каждой команде.
type Paths struct {
	ProfileDir string
	StatePath  string
}

func DefaultPaths() Paths {
	return Paths{ProfileDir: DefaultProfileDir, StatePath: DefaultStatePath}
}

// Request — типизированная команда агенту.
type Request interface {
	Command() string
	Args() []string
}

// ApplyRequest генерирует профиль, опционально устанавливает его и заменяет запись состояния.
type ApplyRequest struct {
	Policy  domain.Policy
	Paths   Paths
	Install bool
}

func (r ApplyRequest) Command() string { return CommandApply }

func (r ApplyRequest) Args() []string {
	p := r.Policy
	args := []string{
		CommandApply,
		"--" + FlagProfileDir, r.Paths.ProfileDir,
		"--" + FlagStatePath, r.Paths.StatePath,
		"--" + FlagProfileIdentifier, p.ProfileIdentifier,
		"--" + FlagDisplayName, p.DisplayName,
		"--" + FlagOrganization, p.Organization,
		"--" + FlagAllowIdentifiedDevelopers, FormatBool(p.AllowIdentifiedDevelopers()),
		"--" + FlagEnableAssessment, FormatBool(p.EnableAssessment()),
		"--" + FlagEnableXProtectMalwareUpload, FormatBool(p.EnableXProtectMalwareUpload),
	}
	if p.Description != nil {
		args = append(args, "--"+FlagDescription, *p.Description)
	}
	if !r.Install {
		args = append(args, "--"+FlagNoInstall)
	}
	return args
}

// RemoveRequest удаляет профиль, если он совпадает с активной записью.
type RemoveRequest struct {
	Identifier string
	Paths      Paths
}

func (r RemoveRequest) Command() string { return CommandRemove }

func (r RemoveRequest) Args() []string {
	return []string{
		CommandRemove, r.Identifier,
		"--" + FlagProfileDir, r.Paths.ProfileDir,
		"--" + FlagStatePath, r.Paths.StatePath,
	}
}

// ListRequest перечисляет документы профилей в каталоге.
type ListRequest struct {
	ProfileDir string
}

func (r ListRequest) Command() string { return CommandList }

func (r ListRequest) Args() []string {
	args := []string{CommandList}
	if r.ProfileDir != "" {
		args = append(args, "--"+FlagProfileDir, r.ProfileDir)
	}
	return args
}

type VersionRequest struct{}

func (VersionRequest) Command() string { return CommandVersion }
func (VersionRequest) Args() []string  { return []string{CommandVersion} }

// Result — результат вызова агента: код выхода и захваченный вывод.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (r Result) OK() bool { return r.ExitCode == 0 }

// ProfileSummary — элемент JSON-массива, который печатает команда list.
type ProfileSummary struct {
	Identifier                  string  `json:"profile_identifier"`
	DisplayName                 string  `json:"display_name"`
	Organization                string  `json:"organization"`
	Description                 string  `json:"description,omitempty"`
	UUID                        string  `json:"uuid"`
	Path                        string  `json:"profile_path"`
	EnableAssessment            bool    `json:"enable_assessment"`
	AllowIdentifiedDevelopers   *bool   `json:"allow_identified_developers,omitempty"`
	EnableXProtectMalwareUpload bool    `json:"enable_xprotect_malware_upload"`
	Error                       *string `json:"error,omitempty"`
}

// VersionInfo печатается командой version.
type VersionInfo struct {
	Protocol string `json:"protocol"`
}

// FormatBool булевы значения передаются строго как "true"/"false".
func FormatBool(v bool) string {
	return strconv.FormatBool(v)
}
