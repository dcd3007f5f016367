package protocol

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
	"github.com/xela07ax/system-policy-control/internal/domain"
)

// ErrUsage — ошибка в аргументах командной строки.
var ErrUsage = errors.New("invalid arguments")

// ParseBool принимает true/false, 1/0, yes/no без учета регистра.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected true/false, got %q", s)
}

// boolArg — булев флаг, который всегда требует значение ("--enable-assessment false").
type boolArg struct {
	v *bool
}

func (b boolArg) String() string {
	if b.v == nil {
		return "false"
	}
	return FormatBool(*b.v)
}

func (b boolArg) Set(s string) error {
	v, err := ParseBool(s)
	if err != nil {
		return err
	}
	*b.v = v
	return nil
}

func (b boolArg) Type() string { return "true|false" }

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SortFlags = false
	return fs
}

func bindPaths(fs *pflag.FlagSet, p *Paths) {
	fs.StringVar(&p.ProfileDir, FlagProfileDir, p.ProfileDir, "Directory for generated .mobileconfig files")
	fs.StringVar(&p.StatePath, FlagStatePath, p.StatePath, "JSON file that tracks the active policy")
}

func applyFlags(fields *domain.PolicyFields, paths *Paths, noInstall *bool, description *string) *pflag.FlagSet {
	fs := newFlagSet(CommandApply)
	bindPaths(fs, paths)
	fs.StringVar(&fields.ProfileIdentifier, FlagProfileIdentifier, fields.ProfileIdentifier, "Identifier stored in the profile")
	fs.StringVar(&fields.DisplayName, FlagDisplayName, fields.DisplayName, "Profile display name")
	fs.StringVar(&fields.Organization, FlagOrganization, fields.Organization, "Organization embedded in the profile")
	fs.StringVar(description, FlagDescription, "", "Optional profile description")
	fs.Var(boolArg{&fields.AllowIdentifiedDevelopers}, FlagAllowIdentifiedDevelopers, "Allow apps from identified developers")
	fs.Var(boolArg{&fields.EnableAssessment}, FlagEnableAssessment, "Enable Gatekeeper assessment")
	fs.Var(boolArg{&fields.EnableXProtectMalwareUpload}, FlagEnableXProtectMalwareUpload, "Enable XProtect malware upload")
	fs.BoolVar(noInstall, FlagNoInstall, false, "Generate the profile without installing it")
	return fs
}

// ParseApply разбирает аргументы команды apply (без имени команды).
// Порядок флагов не важен: инвариант политики применяется после разбора всех флагов.
func ParseApply(args []string, defaults Paths) (ApplyRequest, error) {
	fields := domain.DefaultFields()
	paths := defaults
	var noInstall bool
	var description string

	fs := applyFlags(&fields, &paths, &noInstall, &description)
	if err := fs.Parse(args); err != nil {
		return ApplyRequest{}, parseError(err)
	}
	if fs.NArg() > 0 {
		return ApplyRequest{}, fmt.Errorf("%w: unexpected argument %q", ErrUsage, fs.Arg(0))
	}
	if fs.Changed(FlagDescription) {
		fields.Description = &description
	}

	policy := domain.NewPolicy(fields)
	if err := policy.Validate(); err != nil {
		return ApplyRequest{}, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if err := validatePaths(paths); err != nil {
		return ApplyRequest{}, err
	}
	return ApplyRequest{Policy: policy, Paths: paths, Install: !noInstall}, nil
}

// ParseRemove разбирает "remove IDENTIFIER [--profile-dir D] [--state-path P]".
func ParseRemove(args []string, defaults Paths) (RemoveRequest, error) {
	paths := defaults
	fs := newFlagSet(CommandRemove)
	bindPaths(fs, &paths)
	if err := fs.Parse(args); err != nil {
		return RemoveRequest{}, parseError(err)
	}
	if fs.NArg() != 1 {
		return RemoveRequest{}, fmt.Errorf("%w: remove requires exactly one profile identifier", ErrUsage)
	}
	if err := validatePaths(paths); err != nil {
		return RemoveRequest{}, err
	}
	return RemoveRequest{Identifier: fs.Arg(0), Paths: paths}, nil
}

// ParseList разбирает "list [--profile-dir D]".
func ParseList(args []string, defaults Paths) (ListRequest, error) {
	dir := defaults.ProfileDir
	fs := newFlagSet(CommandList)
	fs.StringVar(&dir, FlagProfileDir, dir, "Directory with .mobileconfig files")
	if err := fs.Parse(args); err != nil {
		return ListRequest{}, parseError(err)
	}
	if fs.NArg() > 0 {
		return ListRequest{}, fmt.Errorf("%w: list does not take positional arguments", ErrUsage)
	}
	return ListRequest{ProfileDir: dir}, nil
}

// Usage — справка агента, собирается из тех же наборов флагов.
func Usage() string {
	fields := domain.DefaultFields()
	paths := DefaultPaths()
	var noInstall bool
	var description string
	apply := applyFlags(&fields, &paths, &noInstall, &description)

	removePaths := DefaultPaths()
	remove := newFlagSet(CommandRemove)
	bindPaths(remove, &removePaths)

	var b strings.Builder
	b.WriteString("Usage: system-policy-agent <action> [options]\n\n")
	b.WriteString("Actions:\n")
	b.WriteString("  apply                 Generate and optionally install a Gatekeeper profile\n")
	b.WriteString("  remove <identifier>   Remove the active profile by identifier\n")
	b.WriteString("  list                  List profile documents in the profile directory\n")
	b.WriteString("  version               Print the protocol version as JSON\n\n")
	b.WriteString("Options for 'apply':\n")
	b.WriteString(apply.FlagUsages())
	b.WriteString("\nOptions for 'remove' and 'list':\n")
	b.WriteString(remove.FlagUsages())
	return b.String()
}

func validatePaths(p Paths) error {
	if p.ProfileDir == "" || p.StatePath == "" {
		return fmt.Errorf("%w: --%s and --%s must not be empty", ErrUsage, FlagProfileDir, FlagStatePath)
	}
	return nil
}

func parseError(err error) error {
	if errors.Is(err, pflag.ErrHelp) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUsage, err)
}
