package agent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xela07ax/system-policy-control/internal/profile"
	"github.com/xela07ax/system-policy-control/internal/protocol"
	"go.uber.org/zap"
)

// List перечисляет документы профилей в каталоге. Запись состояния не читается и не меняется:
// это инвентаризация файлов, она может расходиться с единственной активной записью.
func (a *Agent) List(req protocol.ListRequest) ([]protocol.ProfileSummary, error) {
	summaries := []protocol.ProfileSummary{}

	entries, err := os.ReadDir(req.ProfileDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return summaries, nil
		}
		return nil, fmt.Errorf("read profile directory %s: %w", req.ProfileDir, err)
	}

	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || filepath.Ext(name) != profile.FileExtension {
			continue
		}
		path := filepath.Join(req.ProfileDir, name)
		summaries = append(summaries, a.summarize(path))
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Path < summaries[j].Path })
	return summaries, nil
}

func (a *Agent) summarize(path string) protocol.ProfileSummary {
	s := protocol.ProfileSummary{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return withError(s, err)
	}
	doc, err := profile.Decode(data)
	if err != nil {
		a.logger.Warn("unreadable profile document", zap.String("path", path), zap.Error(err))
		return withError(s, err)
	}

	s.Identifier = doc.PayloadIdentifier
	s.DisplayName = doc.PayloadDisplayName
	s.Organization = doc.PayloadOrganization
	s.Description = doc.PayloadDescription
	s.UUID = doc.PayloadUUID
	if payload, ok := doc.Payload(); ok {
		s.EnableAssessment = payload.EnableAssessment
		s.AllowIdentifiedDevelopers = payload.AllowIdentifiedDevelopers
		s.EnableXProtectMalwareUpload = payload.EnableXProtectMalwareUpload
	}
	return s
}

func withError(s protocol.ProfileSummary, err error) protocol.ProfileSummary {
	msg := err.Error()
	s.Error = &msg
	return s
}
