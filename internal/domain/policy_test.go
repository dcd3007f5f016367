package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/system-policy-control/internal/domain"
)

func TestDefaultPolicy(t *testing.T) {
	p := domain.DefaultPolicy()

	assert.Equal(t, "com.systempolicycontrol.policy", p.ProfileIdentifier)
	assert.Equal(t, "System Policy Control", p.DisplayName)
	assert.Equal(t, "SystemPolicyControl", p.Organization)
	assert.Nil(t, p.Description)
	assert.True(t, p.EnableAssessment())
	assert.True(t, p.AllowIdentifiedDevelopers())
	assert.True(t, p.EnableXProtectMalwareUpload)
	assert.NoError(t, p.Validate())
}

func TestPolicyFromMap_SparseAndUnknownKeys(t *testing.T) {
	p, err := domain.PolicyFromMap(map[string]any{
		"profile_identifier": "com.example.gatekeeper",
		"description":        "Managed by IT",
		"unknown_key":        42,
	})
	require.NoError(t, err)

	assert.Equal(t, "com.example.gatekeeper", p.ProfileIdentifier)
	assert.Equal(t, domain.DefaultDisplayName, p.DisplayName)
	assert.Equal(t, domain.DefaultOrganization, p.Organization)
	require.NotNil(t, p.Description)
	assert.Equal(t, "Managed by IT", *p.Description)
	assert.True(t, p.EnableAssessment())
}

func TestPolicyFromMap_EnforcesAssessmentCoupling(t *testing.T) {
	p, err := domain.PolicyFromMap(map[string]any{
		"enable_assessment":           false,
		"allow_identified_developers": true,
	})
	require.NoError(t, err)

	assert.False(t, p.EnableAssessment())
	assert.False(t, p.AllowIdentifiedDevelopers())
}

func TestPolicyFromMap_WrongType(t *testing.T) {
	_, err := domain.PolicyFromMap(map[string]any{"enable_assessment": "nope"})
	assert.ErrorIs(t, err, domain.ErrInvalidPolicy)
}

func TestPolicySetters(t *testing.T) {
	p := domain.DefaultPolicy()

	p.SetEnableAssessment(false)
	assert.False(t, p.AllowIdentifiedDevelopers(), "disabling assessment must clear trust")

	p.SetAllowIdentifiedDevelopers(true)
	assert.False(t, p.AllowIdentifiedDevelopers(), "trust cannot be granted while assessment is off")

	p.SetEnableAssessment(true)
	assert.False(t, p.AllowIdentifiedDevelopers(), "re-enabling assessment does not restore trust")

	p.SetAllowIdentifiedDevelopers(true)
	assert.True(t, p.AllowIdentifiedDevelopers())
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"empty identifier", map[string]any{"profile_identifier": ""}},
		{"path separator", map[string]any{"profile_identifier": "../etc/passwd"}},
		{"leading dot", map[string]any{"profile_identifier": ".hidden"}},
		{"empty display name", map[string]any{"display_name": ""}},
		{"empty organization", map[string]any{"organization": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := domain.PolicyFromMap(tt.fields)
			require.NoError(t, err)
			assert.ErrorIs(t, p.Validate(), domain.ErrInvalidPolicy)
		})
	}
}

func TestPolicyEmptyDescriptionIsAbsent(t *testing.T) {
	p, err := domain.PolicyFromMap(map[string]any{"description": ""})
	require.NoError(t, err)
	assert.Nil(t, p.Description)
	assert.Nil(t, p.ToMap()["description"])
}

func TestPolicyToMap(t *testing.T) {
	desc := "Corp baseline"
	p := domain.NewPolicy(domain.PolicyFields{
		ProfileIdentifier:           "corp.baseline",
		DisplayName:                 "Baseline",
		Organization:                "Corp",
		Description:                 &desc,
		AllowIdentifiedDevelopers:   false,
		EnableAssessment:            true,
		EnableXProtectMalwareUpload: false,
	})

	assert.Equal(t, map[string]any{
		"profile_identifier":             "corp.baseline",
		"display_name":                   "Baseline",
		"organization":                   "Corp",
		"description":                    "Corp baseline",
		"allow_identified_developers":    false,
		"enable_assessment":              true,
		"enable_xprotect_malware_upload": false,
	}, p.ToMap())

	back, err := domain.PolicyFromMap(p.ToMap())
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestPolicyUnmarshalJSON_Partial(t *testing.T) {
	var p domain.Policy
	require.NoError(t, json.Unmarshal([]byte(`{"enable_assessment":false,"allow_identified_developers":true}`), &p))

	assert.Equal(t, domain.DefaultProfileIdentifier, p.ProfileIdentifier)
	assert.False(t, p.AllowIdentifiedDevelopers())
}

// Оценка выключена => доверия разработчикам нет, при любом порядке и любых входных значениях.
func TestPolicyAssessmentCouplingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("constructor never yields trust without assessment", prop.ForAll(
		func(allow, assess, xprotect bool) bool {
			p := domain.NewPolicy(domain.PolicyFields{
				ProfileIdentifier:           "p",
				DisplayName:                 "d",
				Organization:                "o",
				AllowIdentifiedDevelopers:   allow,
				EnableAssessment:            assess,
				EnableXProtectMalwareUpload: xprotect,
			})
			return p.EnableAssessment() || !p.AllowIdentifiedDevelopers()
		},
		gen.Bool(), gen.Bool(), gen.Bool(),
	))

	properties.Property("setter sequences never yield trust without assessment", prop.ForAll(
		func(ops []bool, values []bool) bool {
			p := domain.DefaultPolicy()
			for i := 0; i < len(ops) && i < len(values); i++ {
				if ops[i] {
					p.SetEnableAssessment(values[i])
				} else {
					p.SetAllowIdentifiedDevelopers(values[i])
				}
				if !p.EnableAssessment() && p.AllowIdentifiedDevelopers() {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()), gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
