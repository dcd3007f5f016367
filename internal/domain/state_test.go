package domain_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/system-policy-control/internal/domain"
)

func sampleState(t *testing.T) domain.PolicyState {
	t.Helper()
	out := "installed"
	return domain.PolicyState{
		Policy:           domain.DefaultPolicy(),
		ProfilePath:      "/var/lib/spc/profiles/com.systempolicycontrol.policy.mobileconfig",
		AppliedAt:        time.Date(2026, 3, 1, 12, 30, 45, 123000000, time.UTC),
		InstallAttempted: true,
		InstallSucceeded: true,
		InstallerStdout:  &out,
	}
}

func TestPolicyStateJSONLayout(t *testing.T) {
	data, err := json.Marshal(sampleState(t))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))

	assert.Equal(t, "2026-03-01T12:30:45.123Z", raw["applied_at"])
	assert.Equal(t, "installed", raw["installer_stdout"])
	assert.Contains(t, raw, "installer_stderr")
	assert.Nil(t, raw["installer_stderr"])

	policy, ok := raw["policy"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, policy["enable_assessment"])
	assert.Contains(t, policy, "description")
}

func TestPolicyStateAcceptsBothUTCSpellings(t *testing.T) {
	base := `{"policy":{},"profile_path":"/p","applied_at":%q,"install_attempted":false,"install_succeeded":false}`

	var zulu, offset domain.PolicyState
	require.NoError(t, json.Unmarshal([]byte(fmt.Sprintf(base, "2026-03-01T12:30:45Z")), &zulu))
	require.NoError(t, json.Unmarshal([]byte(fmt.Sprintf(base, "2026-03-01T12:30:45+00:00")), &offset))

	assert.True(t, zulu.AppliedAt.Equal(offset.AppliedAt))
	assert.Equal(t, zulu, offset)
}

func TestPolicyStateMarshalNormalizesToUTC(t *testing.T) {
	st := sampleState(t)
	st.AppliedAt = st.AppliedAt.In(time.FixedZone("MSK", 3*3600))

	data, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"applied_at":"2026-03-01T12:30:45.123Z"`)
}

func TestPolicyStateRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("deserialize(serialize(x)) == x", prop.ForAll(
		func(id string, desc string, allow, assess, xprotect, attempted, succeeded bool, unix int64, stderr string) bool {
			if id == "" {
				id = "p"
			}
			d := desc
			st := domain.PolicyState{
				Policy: domain.NewPolicy(domain.PolicyFields{
					ProfileIdentifier:           id,
					DisplayName:                 "Display",
					Organization:                "Org",
					Description:                 &d,
					AllowIdentifiedDevelopers:   allow,
					EnableAssessment:            assess,
					EnableXProtectMalwareUpload: xprotect,
				}),
				ProfilePath:      "/profiles/" + id + ".mobileconfig",
				AppliedAt:        time.Unix(unix, 0).UTC(),
				InstallAttempted: attempted,
				InstallSucceeded: succeeded,
				InstallerStderr:  &stderr,
			}

			data, err := json.Marshal(st)
			if err != nil {
				return false
			}
			var back domain.PolicyState
			if err := json.Unmarshal(data, &back); err != nil {
				return false
			}
			return assert.ObjectsAreEqual(st, back)
		},
		gen.Identifier(),
		gen.AlphaString(),
		gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool(),
		gen.Int64Range(0, 4102444800),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
