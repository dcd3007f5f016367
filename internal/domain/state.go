package domain

import (
	"encoding/json"
	"time"
)

// PolicyState — запись о применении политики. В системе существует не более одной такой записи.
// Владелец записи на диске — агент, оркестратор её только читает.
type PolicyState struct {
	Policy           Policy    `json:"policy"`
	ProfilePath      string    `json:"profile_path"`
	AppliedAt        time.Time `json:"applied_at"` // всегда UTC
	InstallAttempted bool      `json:"install_attempted"`
	InstallSucceeded bool      `json:"install_succeeded"`
	InstallerStdout  *string   `json:"installer_stdout"`
	InstallerStderr  *string   `json:"installer_stderr"`
}

type policyStateAlias PolicyState

func (s PolicyState) MarshalJSON() ([]byte, error) {
	a := policyStateAlias(s)
	a.AppliedAt = s.AppliedAt.UTC()
	return json.Marshal(a)
}

// UnmarshalJSON принимает и "Z", и "+00:00" — обе записи дают один и тот же момент.
func (s *PolicyState) UnmarshalJSON(data []byte) error {
	var a policyStateAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	a.AppliedAt = a.AppliedAt.UTC()
	*s = PolicyState(a)
	return nil
}
